package core

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger is the resolved form of a schedule: IntervalTimer, CronTimer,
// OnceTimer, SolarPredicate or Rejected.
type Trigger interface {
	trigger()
}

// TimerSpec is a trigger that is backed by a registered timer.
type TimerSpec interface {
	Trigger
	// Next returns the first fire time strictly after now, or the zero time if
	// the timer will not fire again.
	Next(now time.Time) time.Time
}

// IntervalTimer fires every Every, starting one period after registration.
type IntervalTimer struct {
	Every time.Duration
}

func (IntervalTimer) trigger() {}

func (t IntervalTimer) Next(now time.Time) time.Time {
	return t.schedule().Next(now)
}

func (t IntervalTimer) schedule() cron.Schedule {
	return cron.Every(t.Every)
}

// CronTimer fires on every minute matched by the compiled hour, minute and
// day-of-week fields.
type CronTimer struct {
	Expr string
	Spec *cron.SpecSchedule
}

func (CronTimer) trigger() {}

func (t CronTimer) Next(now time.Time) time.Time {
	return t.Spec.Next(now)
}

// OnceTimer fires a single time at At. An instant already in the past fires
// immediately after registration.
type OnceTimer struct {
	At time.Time
}

func (OnceTimer) trigger() {}

func (t OnceTimer) Next(now time.Time) time.Time {
	if t.At.After(now) {
		return t.At
	}
	return now
}

// SolarPredicate is evaluated by the solar poll instead of a timer.
type SolarPredicate struct {
	Event  SunEvent
	Offset time.Duration
}

func (SolarPredicate) trigger() {}

// Target returns the instant the task is due for the given snapshot.
func (p SolarPredicate) Target(snap SolarSnapshot) time.Time {
	return snap.At(p.Event).Add(p.Offset)
}

// Due reports whether the task should fire at now. An absent snapshot is
// never due, and a run inside the cool-down window suppresses the firing.
func (p SolarPredicate) Due(snap *SolarSnapshot, now time.Time, lastRun *time.Time, tolerance, cooldown time.Duration) bool {
	if snap == nil || snap.At(p.Event).IsZero() {
		return false
	}
	if absDuration(now.Sub(p.Target(*snap))) >= tolerance {
		return false
	}
	if lastRun != nil && absDuration(now.Sub(*lastRun)) < cooldown {
		return false
	}
	return true
}

// Rejected marks a task that stays stored but is never triggered.
type Rejected struct {
	Reason string
}

func (Rejected) trigger() {}

// Resolve turns a task's schedule into a trigger. It does not look at
// Enabled; callers skip disabled tasks before resolving.
func Resolve(task *Task) Trigger {
	switch s := task.Schedule.(type) {
	case IntervalSchedule:
		every, ok := s.Duration()
		if !ok {
			return Rejected{Reason: fmt.Sprintf("invalid interval %d %q", s.Value, s.Unit)}
		}
		return IntervalTimer{Every: every}
	case CronSchedule:
		spec, err := CompileCron(s)
		if err != nil {
			return Rejected{Reason: err.Error()}
		}
		return CronTimer{Expr: CronExpr(s), Spec: spec}
	case OnceSchedule:
		if s.RunAt.IsZero() {
			return Rejected{Reason: "run_at is required"}
		}
		return OnceTimer{At: s.RunAt}
	case SunSchedule:
		return resolveSun(s)
	case InvalidSchedule:
		return Rejected{Reason: s.String()}
	case nil:
		return Rejected{Reason: "no schedule"}
	default:
		return Rejected{Reason: fmt.Sprintf("unsupported schedule %T", s)}
	}
}

func resolveSun(s SunSchedule) SolarPredicate {
	event := s.Event
	if event != Sunset {
		event = Sunrise
	}
	offset := time.Duration(max(s.OffsetMinutes, 0)) * time.Minute
	if s.Direction == Before {
		offset = -offset
	}
	return SolarPredicate{Event: event, Offset: offset}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
