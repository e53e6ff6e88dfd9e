package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TaskRecord is the flat JSON form of a task used by the HTTP API and by
// persistence. Schedules and actions are decoded from it into their variants.
type TaskRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`

	ScheduleType  string     `json:"schedule_type,omitempty"`
	IntervalUnit  string     `json:"interval_unit,omitempty"`
	IntervalValue flexString `json:"interval_value,omitempty"`
	CronHour      flexString `json:"cron_hour,omitempty"`
	CronMinute    flexString `json:"cron_minute,omitempty"`
	CronDow       flexString `json:"cron_dow,omitempty"`
	RunAt         string     `json:"run_at,omitempty"`
	SunEvent      string     `json:"sun_event,omitempty"`
	SunOffset     flexString `json:"sun_offset,omitempty"`
	SunDirection  string     `json:"sun_direction,omitempty"`

	ActionType      string         `json:"action_type,omitempty"`
	AddonSlug       string         `json:"addon_slug,omitempty"`
	ServiceDomain   string         `json:"service_domain,omitempty"`
	ServiceName     string         `json:"service_name,omitempty"`
	ServiceData     map[string]any `json:"service_data,omitempty"`
	AutomationID    string         `json:"automation_id,omitempty"`
	ScriptID        string         `json:"script_id,omitempty"`
	EntityID        string         `json:"entity_id,omitempty"`
	EntityAction    string         `json:"entity_action,omitempty"`
	BrightnessPct   *int           `json:"brightness_pct,omitempty"`
	ColorTempKelvin *int           `json:"color_temp_kelvin,omitempty"`
	RGBColor        []int          `json:"rgb_color,omitempty"`
	Transition      *float64       `json:"transition,omitempty"`
	NotifyService   string         `json:"notify_service,omitempty"`
	NotifyTitle     string         `json:"notify_title,omitempty"`
	NotifyMessage   string         `json:"notify_message,omitempty"`

	LastRun    string `json:"last_run,omitempty"`
	LastResult *bool  `json:"last_result,omitempty"`
}

// flexString accepts either a JSON string or a JSON number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) orDefault(def string) string {
	if f == "" {
		return def
	}
	return string(f)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTimestamp parses an ISO-8601 timestamp. Values without a zone are
// interpreted in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}

// Task decodes the record with naive timestamps read in time.Local.
func (r TaskRecord) Task() (*Task, error) {
	return r.TaskIn(time.Local)
}

// TaskIn decodes the record into a task, reading timestamps without a zone in
// loc. Malformed schedules become InvalidSchedule and unknown actions become
// UnknownAction; decoding itself only fails on a missing id.
func (r TaskRecord) TaskIn(loc *time.Location) (*Task, error) {
	if strings.TrimSpace(r.ID) == "" {
		return nil, fmt.Errorf("task id is required")
	}
	if loc == nil {
		loc = time.Local
	}
	task := &Task{
		ID:       r.ID,
		Name:     r.Name,
		Enabled:  r.Enabled == nil || *r.Enabled,
		Schedule: r.schedule(loc),
		Action:   r.action(),
	}
	if r.CreatedAt != "" {
		if t, err := ParseTimestamp(r.CreatedAt, loc); err == nil {
			task.CreatedAt = t
		}
	}
	if r.LastRun != "" {
		if t, err := ParseTimestamp(r.LastRun, loc); err == nil {
			task.LastRun = &t
		}
	}
	if r.LastResult != nil {
		v := *r.LastResult
		task.LastResult = &v
	}
	return task, nil
}

func (r TaskRecord) schedule(loc *time.Location) Schedule {
	kind := strings.ToLower(strings.TrimSpace(r.ScheduleType))
	if kind == "" {
		kind = string(ScheduleInterval)
	}
	switch ScheduleType(kind) {
	case ScheduleInterval:
		unit := r.IntervalUnit
		if unit == "" {
			unit = string(UnitHours)
		}
		value, err := strconv.Atoi(r.IntervalValue.orDefault("1"))
		if err != nil {
			return InvalidSchedule{Kind: kind, Reason: fmt.Sprintf("interval_value %q is not an integer", r.IntervalValue)}
		}
		return IntervalSchedule{Unit: IntervalUnit(strings.ToLower(unit)), Value: value}
	case ScheduleCron:
		return CronSchedule{
			Hour:      r.CronHour.orDefault("*"),
			Minute:    r.CronMinute.orDefault("0"),
			DayOfWeek: r.CronDow.orDefault("*"),
		}
	case ScheduleOnce:
		at, err := ParseTimestamp(r.RunAt, loc)
		if err != nil {
			return InvalidSchedule{Kind: kind, Reason: "run_at: " + err.Error()}
		}
		return OnceSchedule{RunAt: at}
	case ScheduleSun:
		offset, _ := strconv.Atoi(r.SunOffset.orDefault("0"))
		return SunSchedule{
			Event:         SunEvent(strings.ToLower(r.SunEvent)),
			OffsetMinutes: offset,
			Direction:     SunDirection(strings.ToLower(r.SunDirection)),
		}
	default:
		return InvalidSchedule{Kind: kind, Reason: "unsupported schedule_type"}
	}
}

func (r TaskRecord) action() Action {
	switch ActionType(r.ActionType) {
	case ActionRebootHost:
		return RebootHost{}
	case ActionRestartCore:
		return RestartCore{}
	case ActionRestartAddon:
		return RestartAddon{Slug: r.AddonSlug}
	case ActionCallService:
		return CallService{Domain: r.ServiceDomain, Service: r.ServiceName, Data: r.ServiceData}
	case ActionAutomation:
		return TriggerAutomation{EntityID: r.AutomationID}
	case ActionScript:
		return RunScript{EntityID: r.ScriptID}
	case ActionEntityControl:
		return EntityControl{
			EntityID:        r.EntityID,
			Command:         r.EntityAction,
			BrightnessPct:   r.BrightnessPct,
			ColorTempKelvin: r.ColorTempKelvin,
			RGBColor:        r.RGBColor,
			Transition:      r.Transition,
		}
	case ActionNotify:
		return Notify{Service: r.NotifyService, Title: r.NotifyTitle, Message: r.NotifyMessage}
	default:
		return UnknownAction{Kind: r.ActionType}
	}
}

// DecodeRecord decodes a stored task. A record with fields that do not decode
// is kept as an inert task with an InvalidSchedule naming those fields, so one
// damaged entry cannot hide the others. fallbackID is used when the record
// carries no id. The error is non-nil only when raw is not a JSON object or
// no id is known.
func DecodeRecord(raw []byte, fallbackID string, loc *time.Location) (*Task, error) {
	var rec TaskRecord
	strictErr := json.Unmarshal(raw, &rec)
	var bad []string
	if strictErr != nil {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("task record is not a JSON object: %w", err)
		}
		rec = TaskRecord{}
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			one, _ := json.Marshal(map[string]json.RawMessage{k: fields[k]})
			if err := json.Unmarshal(one, &rec); err != nil {
				bad = append(bad, k)
			}
		}
	}
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = fallbackID
	}
	task, err := rec.TaskIn(loc)
	if err != nil {
		return nil, err
	}
	if len(bad) > 0 {
		kind := strings.ToLower(strings.TrimSpace(rec.ScheduleType))
		if kind == "" {
			kind = string(ScheduleInterval)
		}
		task.Schedule = InvalidSchedule{Kind: kind, Reason: "undecodable fields: " + strings.Join(bad, ", ")}
	}
	return task, nil
}

// Record encodes the task into its flat JSON form.
func (t *Task) Record() TaskRecord {
	enabled := t.Enabled
	r := TaskRecord{
		ID:      t.ID,
		Name:    t.Name,
		Enabled: &enabled,
	}
	if !t.CreatedAt.IsZero() {
		r.CreatedAt = t.CreatedAt.Format(time.RFC3339Nano)
	}
	if t.LastRun != nil {
		r.LastRun = t.LastRun.Format(time.RFC3339Nano)
	}
	if t.LastResult != nil {
		v := *t.LastResult
		r.LastResult = &v
	}

	switch s := t.Schedule.(type) {
	case IntervalSchedule:
		r.ScheduleType = string(ScheduleInterval)
		r.IntervalUnit = string(s.Unit)
		r.IntervalValue = flexString(strconv.Itoa(s.Value))
	case CronSchedule:
		r.ScheduleType = string(ScheduleCron)
		r.CronHour = flexString(s.Hour)
		r.CronMinute = flexString(s.Minute)
		r.CronDow = flexString(s.DayOfWeek)
	case OnceSchedule:
		r.ScheduleType = string(ScheduleOnce)
		r.RunAt = s.RunAt.Format(time.RFC3339)
	case SunSchedule:
		r.ScheduleType = string(ScheduleSun)
		r.SunEvent = string(s.Event)
		r.SunOffset = flexString(strconv.Itoa(s.OffsetMinutes))
		r.SunDirection = string(s.Direction)
	case InvalidSchedule:
		r.ScheduleType = s.Kind
	}

	if t.Action != nil {
		r.ActionType = string(t.Action.Type())
	}
	switch a := t.Action.(type) {
	case RestartAddon:
		r.AddonSlug = a.Slug
	case CallService:
		r.ServiceDomain = a.Domain
		r.ServiceName = a.Service
		if a.Data != nil {
			r.ServiceData = make(map[string]any, len(a.Data))
			for k, v := range a.Data {
				r.ServiceData[k] = v
			}
		}
	case TriggerAutomation:
		r.AutomationID = a.EntityID
	case RunScript:
		r.ScriptID = a.EntityID
	case EntityControl:
		r.EntityID = a.EntityID
		r.EntityAction = a.Command
		r.BrightnessPct = copyPtr(a.BrightnessPct)
		r.ColorTempKelvin = copyPtr(a.ColorTempKelvin)
		r.RGBColor = append([]int(nil), a.RGBColor...)
		r.Transition = copyPtr(a.Transition)
	case Notify:
		r.NotifyService = a.Service
		r.NotifyTitle = a.Title
		r.NotifyMessage = a.Message
	}
	return r
}

// copyPtr keeps a record from aliasing task fields: a patch decoded over the
// record must not reach stored state.
func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// MarshalJSON writes the flat record form.
func (t *Task) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Record())
}

// UnmarshalJSON reads the flat record form.
func (t *Task) UnmarshalJSON(data []byte) error {
	var r TaskRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	decoded, err := r.Task()
	if err != nil {
		return err
	}
	*t = *decoded
	return nil
}

// Merge overlays the JSON object patch onto the record: keys present in the
// patch replace the record's values, absent keys are kept. The id never
// changes.
func (r TaskRecord) Merge(patch []byte) (TaskRecord, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(patch, &keys); err != nil {
		return r, fmt.Errorf("patch must be a JSON object: %w", err)
	}
	id := r.ID
	if _, ok := keys["service_data"]; ok {
		r.ServiceData = nil
	}
	if err := json.Unmarshal(patch, &r); err != nil {
		return r, err
	}
	r.ID = id
	return r, nil
}
