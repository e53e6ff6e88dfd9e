package core

import (
	"time"
)

// IntervalUnit is the unit of an interval schedule.
type IntervalUnit string

const (
	UnitSeconds IntervalUnit = "seconds"
	UnitMinutes IntervalUnit = "minutes"
	UnitHours   IntervalUnit = "hours"
	UnitDays    IntervalUnit = "days"
)

// SunEvent selects the solar reference instant.
type SunEvent string

const (
	Sunrise SunEvent = "sunrise"
	Sunset  SunEvent = "sunset"
)

// SunDirection says whether the offset is applied before or after the event.
type SunDirection string

const (
	Before SunDirection = "before"
	After  SunDirection = "after"
)

// Task represents a scheduled automation action.
type Task struct {
	ID         string
	Name       string
	Enabled    bool
	CreatedAt  time.Time
	Schedule   Schedule
	Action     Action
	LastRun    *time.Time
	LastResult *bool
}

// Clone returns a copy of the task that shares no pointers with the original.
func (t *Task) Clone() *Task {
	c := *t
	if t.LastRun != nil {
		v := *t.LastRun
		c.LastRun = &v
	}
	if t.LastResult != nil {
		v := *t.LastResult
		c.LastResult = &v
	}
	return &c
}

// DisplayName returns the task name, falling back to the id.
func (t *Task) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.ID
}

// HistoryEntry captures a single execution attempt of a task.
type HistoryEntry struct {
	TaskID     string    `json:"task_id"`
	TaskName   string    `json:"task_name"`
	ExecutedAt time.Time `json:"executed_at"`
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
}

// ExecutionResult is what a dispatch returns to its caller. It is the same
// record that gets appended to history.
type ExecutionResult = HistoryEntry

// SolarSnapshot holds the sun event instants for the current day.
type SolarSnapshot struct {
	Sunrise   time.Time `json:"sunrise"`
	Sunset    time.Time `json:"sunset"`
	FetchedAt time.Time `json:"fetched_at"`
}

// At returns the instant of the given event.
func (s SolarSnapshot) At(event SunEvent) time.Time {
	if event == Sunset {
		return s.Sunset
	}
	return s.Sunrise
}

// Snapshot is the persisted state: every task plus the retained history.
type Snapshot struct {
	Tasks   []*Task
	History []HistoryEntry
}
