package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CronExpr renders the three supported fields as a 5-field cron expression.
func CronExpr(s CronSchedule) string {
	field := func(v, def string) string {
		v = strings.Join(strings.Fields(v), "")
		if v == "" {
			return def
		}
		return v
	}
	return fmt.Sprintf("%s %s * * %s", field(s.Minute, "0"), field(s.Hour, "*"), field(s.DayOfWeek, "*"))
}

// CompileCron validates the cron fields and returns the underlying schedule.
func CompileCron(s CronSchedule) (*cron.SpecSchedule, error) {
	expr := CronExpr(s)
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron fields %q: %w", expr, err)
	}
	spec, ok := schedule.(*cron.SpecSchedule)
	if !ok {
		return nil, fmt.Errorf("unexpected cron schedule %T", schedule)
	}
	return spec, nil
}

// Matches reports whether now falls on a minute selected by spec. Seconds are ignored.
func Matches(now time.Time, spec *cron.SpecSchedule) bool {
	if spec == nil {
		return false
	}
	if spec.Location != nil && spec.Location != time.Local {
		now = now.In(spec.Location)
	}
	return bit(now.Minute())&spec.Minute != 0 &&
		bit(now.Hour())&spec.Hour != 0 &&
		bit(int(now.Weekday()))&spec.Dow != 0
}

func bit(n int) uint64 {
	return 1 << uint(n)
}

// NextOccurrences returns the next n execution times from a base time.
func NextOccurrences(schedule cron.Schedule, base time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		next = schedule.Next(next)
		if next.IsZero() {
			break
		}
		times = append(times, next)
	}
	return times
}
