package core

import (
	"errors"
	"time"
)

// ErrNoSolarSnapshot is returned when a sun schedule is previewed before the
// sun times are known.
var ErrNoSolarSnapshot = errors.New("sun times not available yet")

// Preview returns up to n upcoming fire times of the task's schedule after
// now. Sun schedules yield at most one instant, taken from snap.
func Preview(task *Task, now time.Time, n int, snap *SolarSnapshot) ([]time.Time, error) {
	if n <= 0 {
		n = 1
	}
	switch t := Resolve(task).(type) {
	case OnceTimer:
		return []time.Time{t.Next(now)}, nil
	case IntervalTimer:
		return NextOccurrences(t.schedule(), now, n), nil
	case CronTimer:
		return NextOccurrences(t.Spec, now, n), nil
	case SolarPredicate:
		if snap == nil {
			return nil, ErrNoSolarSnapshot
		}
		return []time.Time{t.Target(*snap)}, nil
	case Rejected:
		return nil, errors.New(t.Reason)
	default:
		return nil, errors.New("unsupported trigger")
	}
}
