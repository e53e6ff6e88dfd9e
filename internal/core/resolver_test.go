package core

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveInterval(t *testing.T) {
	tests := []struct {
		unit  IntervalUnit
		value int
		want  time.Duration
	}{
		{UnitSeconds, 45, 45 * time.Second},
		{UnitMinutes, 15, 15 * time.Minute},
		{UnitHours, 2, 2 * time.Hour},
		{UnitDays, 1, 24 * time.Hour},
	}
	for _, tt := range tests {
		trig := Resolve(&Task{ID: "x", Schedule: IntervalSchedule{Unit: tt.unit, Value: tt.value}})
		timer, ok := trig.(IntervalTimer)
		require.True(t, ok, "%s", tt.unit)
		assert.Equal(t, tt.want, timer.Every)
	}

	_, ok := Resolve(&Task{ID: "x", Schedule: IntervalSchedule{Unit: "weeks", Value: 1}}).(Rejected)
	assert.True(t, ok)
	_, ok = Resolve(&Task{ID: "x", Schedule: IntervalSchedule{Unit: UnitHours, Value: 0}}).(Rejected)
	assert.True(t, ok)
}

func TestResolveIntervalRejectsOverflow(t *testing.T) {
	rej, ok := Resolve(&Task{ID: "x", Schedule: IntervalSchedule{Unit: UnitDays, Value: 200000}}).(Rejected)
	require.True(t, ok)
	assert.Contains(t, rej.Reason, "200000")

	// The largest day count that still fits is accepted.
	maxDays := int(math.MaxInt64 / int64(24*time.Hour))
	timer, ok := Resolve(&Task{ID: "x", Schedule: IntervalSchedule{Unit: UnitDays, Value: maxDays}}).(IntervalTimer)
	require.True(t, ok)
	assert.Positive(t, timer.Every)
	_, ok = Resolve(&Task{ID: "x", Schedule: IntervalSchedule{Unit: UnitDays, Value: maxDays + 1}}).(Rejected)
	assert.True(t, ok)
}

func TestIntervalTimerNextIsOnePeriodAway(t *testing.T) {
	timer := IntervalTimer{Every: time.Hour}
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	first := timer.Next(now)
	second := timer.Next(first)
	assert.Equal(t, time.Hour, first.Sub(now))
	assert.Equal(t, time.Hour, second.Sub(first))
}

func TestResolveCronAndMatches(t *testing.T) {
	task := &Task{ID: "x", Schedule: CronSchedule{Hour: "7", Minute: "30", DayOfWeek: "mon-fri"}}
	timer, ok := Resolve(task).(CronTimer)
	require.True(t, ok)
	assert.Equal(t, "30 7 * * mon-fri", timer.Expr)

	monday := time.Date(2024, 5, 6, 7, 30, 0, 0, time.Local)
	assert.True(t, Matches(monday, timer.Spec))
	assert.True(t, Matches(monday.Add(45*time.Second), timer.Spec), "seconds are ignored")
	assert.False(t, Matches(monday.Add(time.Minute), timer.Spec))
	assert.False(t, Matches(monday.AddDate(0, 0, 5), timer.Spec), "saturday")

	next := timer.Next(monday)
	assert.True(t, monday.AddDate(0, 0, 1).Equal(next), "next = %s", next)
}

func TestResolveCronNumericDayOfWeekIsSundayZero(t *testing.T) {
	timer, ok := Resolve(&Task{ID: "x", Schedule: CronSchedule{Hour: "9", Minute: "0", DayOfWeek: "0"}}).(CronTimer)
	require.True(t, ok)

	sunday := time.Date(2024, 5, 5, 9, 0, 0, 0, time.Local)
	require.Equal(t, time.Sunday, sunday.Weekday())
	assert.True(t, Matches(sunday, timer.Spec))
}

func TestResolveCronRejectsMalformedFields(t *testing.T) {
	rej, ok := Resolve(&Task{ID: "x", Schedule: CronSchedule{Hour: "25", Minute: "0", DayOfWeek: "*"}}).(Rejected)
	require.True(t, ok)
	assert.Contains(t, rej.Reason, "invalid cron fields")
}

func TestResolveOnce(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	future := OnceTimer{At: now.Add(time.Hour)}
	assert.Equal(t, now.Add(time.Hour), future.Next(now))

	past := OnceTimer{At: now.Add(-time.Hour)}
	assert.Equal(t, now, past.Next(now), "a past instant fires immediately")

	_, ok := Resolve(&Task{ID: "x", Schedule: OnceSchedule{}}).(Rejected)
	assert.True(t, ok)
}

func TestResolveSunNormalizes(t *testing.T) {
	pred, ok := Resolve(&Task{ID: "x", Schedule: SunSchedule{Event: "noon", OffsetMinutes: -15, Direction: "sideways"}}).(SolarPredicate)
	require.True(t, ok)
	assert.Equal(t, Sunrise, pred.Event)
	assert.Equal(t, time.Duration(0), pred.Offset)

	pred, ok = Resolve(&Task{ID: "x", Schedule: SunSchedule{Event: Sunset, OffsetMinutes: 20, Direction: Before}}).(SolarPredicate)
	require.True(t, ok)
	assert.Equal(t, Sunset, pred.Event)
	assert.Equal(t, -20*time.Minute, pred.Offset)
}

func TestSolarPredicateDue(t *testing.T) {
	sunrise := time.Date(2024, 6, 1, 5, 0, 0, 0, time.UTC)
	snap := &SolarSnapshot{Sunrise: sunrise, Sunset: sunrise.Add(15 * time.Hour)}
	pred := SolarPredicate{Event: Sunrise, Offset: -30 * time.Minute}
	target := sunrise.Add(-30 * time.Minute)
	tol, cool := 60*time.Second, 300*time.Second

	assert.Equal(t, target, pred.Target(*snap))
	assert.True(t, pred.Due(snap, target, nil, tol, cool))
	assert.True(t, pred.Due(snap, target.Add(59*time.Second), nil, tol, cool))
	assert.False(t, pred.Due(snap, target.Add(60*time.Second), nil, tol, cool), "tolerance is exclusive")
	assert.False(t, pred.Due(snap, target.Add(-2*time.Minute), nil, tol, cool))

	recent := target.Add(-4 * time.Minute)
	assert.False(t, pred.Due(snap, target, &recent, tol, cool), "inside cool-down")
	old := target.Add(-6 * time.Minute)
	assert.True(t, pred.Due(snap, target, &old, tol, cool))

	assert.False(t, pred.Due(nil, target, nil, tol, cool), "no snapshot")
}

func TestPreview(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.Local)

	times, err := Preview(&Task{ID: "x", Schedule: IntervalSchedule{Unit: UnitMinutes, Value: 30}}, now, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{now.Add(30 * time.Minute), now.Add(time.Hour), now.Add(90 * time.Minute)}, times)

	times, err = Preview(&Task{ID: "x", Schedule: CronSchedule{Hour: "12", Minute: "0", DayOfWeek: "*"}}, now, 2, nil)
	require.NoError(t, err)
	require.Len(t, times, 2)
	assert.Equal(t, 12, times[0].Hour())
	assert.Equal(t, 24*time.Hour, times[1].Sub(times[0]))

	_, err = Preview(&Task{ID: "x", Schedule: SunSchedule{Event: Sunset}}, now, 1, nil)
	assert.ErrorIs(t, err, ErrNoSolarSnapshot)

	snap := &SolarSnapshot{Sunrise: now.Add(-3 * time.Hour), Sunset: now.Add(8 * time.Hour)}
	times, err = Preview(&Task{ID: "x", Schedule: SunSchedule{Event: Sunset, OffsetMinutes: 10, Direction: After}}, now, 1, snap)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{now.Add(8*time.Hour + 10*time.Minute)}, times)

	_, err = Preview(&Task{ID: "x", Schedule: InvalidSchedule{Kind: "weekly", Reason: "unsupported schedule_type"}}, now, 1, nil)
	assert.Error(t, err)
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
}
