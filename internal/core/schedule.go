package core

import (
	"fmt"
	"math"
	"time"
)

// ScheduleType names a schedule variant on the wire.
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
	ScheduleOnce     ScheduleType = "once"
	ScheduleSun      ScheduleType = "sun"
)

// Schedule describes when a task is due. It is one of IntervalSchedule,
// CronSchedule, OnceSchedule, SunSchedule or InvalidSchedule.
type Schedule interface {
	Type() ScheduleType
	String() string
}

// IntervalSchedule fires every Value units.
type IntervalSchedule struct {
	Unit  IntervalUnit
	Value int
}

func (IntervalSchedule) Type() ScheduleType { return ScheduleInterval }

func (s IntervalSchedule) String() string {
	return fmt.Sprintf("every %d %s", s.Value, s.Unit)
}

// Duration converts the interval to a single duration. ok is false for an
// unknown unit, a non-positive value or a value whose duration overflows.
func (s IntervalSchedule) Duration() (time.Duration, bool) {
	if s.Value <= 0 {
		return 0, false
	}
	var unit time.Duration
	switch s.Unit {
	case UnitSeconds:
		unit = time.Second
	case UnitMinutes:
		unit = time.Minute
	case UnitHours:
		unit = time.Hour
	case UnitDays:
		unit = 24 * time.Hour
	default:
		return 0, false
	}
	if int64(s.Value) > math.MaxInt64/int64(unit) {
		return 0, false
	}
	return time.Duration(s.Value) * unit, true
}

// CronSchedule matches hour, minute and day of week. "*" matches every value.
type CronSchedule struct {
	Hour      string
	Minute    string
	DayOfWeek string
}

func (CronSchedule) Type() ScheduleType { return ScheduleCron }

func (s CronSchedule) String() string {
	return fmt.Sprintf("cron minute=%s hour=%s dow=%s", s.Minute, s.Hour, s.DayOfWeek)
}

// OnceSchedule fires a single time at RunAt.
type OnceSchedule struct {
	RunAt time.Time
}

func (OnceSchedule) Type() ScheduleType { return ScheduleOnce }

func (s OnceSchedule) String() string {
	return "once at " + s.RunAt.Format(time.RFC3339)
}

// SunSchedule fires relative to sunrise or sunset.
type SunSchedule struct {
	Event         SunEvent
	OffsetMinutes int
	Direction     SunDirection
}

func (SunSchedule) Type() ScheduleType { return ScheduleSun }

func (s SunSchedule) String() string {
	return fmt.Sprintf("%d min %s %s", s.OffsetMinutes, s.Direction, s.Event)
}

// InvalidSchedule keeps a task whose schedule could not be decoded. Such a
// task stays stored but never fires.
type InvalidSchedule struct {
	Kind   string
	Reason string
}

func (s InvalidSchedule) Type() ScheduleType { return ScheduleType(s.Kind) }

func (s InvalidSchedule) String() string {
	return fmt.Sprintf("invalid %q: %s", s.Kind, s.Reason)
}
