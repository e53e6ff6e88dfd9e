package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskscheduler/internal/core"
)

func sampleSnapshot() *core.Snapshot {
	created := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	lastRun := created.Add(time.Hour)
	ok := true
	return &core.Snapshot{
		Tasks: []*core.Task{
			{
				ID:         "aaaa1111",
				Name:       "Restart addon",
				Enabled:    true,
				CreatedAt:  created,
				Schedule:   core.IntervalSchedule{Unit: core.UnitHours, Value: 1},
				Action:     core.RestartAddon{Slug: "foo"},
				LastRun:    &lastRun,
				LastResult: &ok,
			},
			{
				ID:        "bbbb2222",
				Name:      "Porch light",
				Enabled:   false,
				CreatedAt: created.Add(time.Minute),
				Schedule:  core.SunSchedule{Event: core.Sunset, OffsetMinutes: 15, Direction: core.Before},
				Action:    core.EntityControl{EntityID: "light.porch", Command: "turn_on"},
			},
		},
		History: []core.HistoryEntry{
			{TaskID: "aaaa1111", TaskName: "Restart addon", ExecutedAt: lastRun, Success: true, Message: "Add-on foo restart initiated"},
			{TaskID: "bbbb2222", TaskName: "Porch light", ExecutedAt: lastRun.Add(time.Minute), Success: false, Message: "API error 500: boom"},
		},
	}
}

func assertSnapshot(t *testing.T, want, got *core.Snapshot) {
	t.Helper()
	require.Len(t, got.Tasks, len(want.Tasks))
	for i, w := range want.Tasks {
		g := got.Tasks[i]
		assert.Equal(t, w.ID, g.ID)
		assert.Equal(t, w.Name, g.Name)
		assert.Equal(t, w.Enabled, g.Enabled)
		assert.True(t, w.CreatedAt.Equal(g.CreatedAt), "created_at %s != %s", w.CreatedAt, g.CreatedAt)
		assert.Equal(t, w.Schedule, g.Schedule)
		assert.Equal(t, w.Action, g.Action)
		if w.LastRun == nil {
			assert.Nil(t, g.LastRun)
		} else {
			require.NotNil(t, g.LastRun)
			assert.True(t, w.LastRun.Equal(*g.LastRun))
		}
		assert.Equal(t, w.LastResult, g.LastResult)
	}
	require.Len(t, got.History, len(want.History))
	for i, w := range want.History {
		g := got.History[i]
		assert.Equal(t, w.TaskID, g.TaskID)
		assert.Equal(t, w.Success, g.Success)
		assert.Equal(t, w.Message, g.Message)
		assert.True(t, w.ExecutedAt.Equal(g.ExecutedAt))
	}
}

func TestJSONFileMissingFileIsEmpty(t *testing.T) {
	st, err := OpenJSONFile(t.TempDir())
	require.NoError(t, err)

	snap, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Tasks)
	assert.Empty(t, snap.History)
}

func TestJSONFileSaveLoad(t *testing.T) {
	dir := t.TempDir()
	st, err := OpenJSONFile(dir)
	require.NoError(t, err)

	want := sampleSnapshot()
	require.NoError(t, st.Save(context.Background(), want))

	got, err := st.Load(context.Background())
	require.NoError(t, err)
	assertSnapshot(t, want, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, "tasks.json", entries[0].Name())
}

func TestJSONFileReadsLegacyDocument(t *testing.T) {
	dir := t.TempDir()
	legacy := `{
  "tasks": {
    "1a2b3c4d": {
      "name": "Nightly reboot",
      "schedule_type": "cron",
      "cron_hour": 3,
      "cron_minute": "30",
      "cron_dow": "*",
      "action_type": "reboot_host",
      "created_at": "2024-01-02T10:00:00.123456",
      "last_run": "2024-01-03T03:30:00"
    }
  },
  "history": [
    {"task_id": "1a2b3c4d", "task_name": "Nightly reboot", "executed_at": "2024-01-03T03:30:00.5", "success": true, "message": "Host reboot initiated"}
  ]
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks.json"), []byte(legacy), 0o644))

	st, err := OpenJSONFile(dir)
	require.NoError(t, err)
	snap, err := st.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Tasks, 1)
	task := snap.Tasks[0]
	assert.Equal(t, "1a2b3c4d", task.ID)
	assert.True(t, task.Enabled)
	assert.Equal(t, core.CronSchedule{Hour: "3", Minute: "30", DayOfWeek: "*"}, task.Schedule)
	assert.Equal(t, core.RebootHost{}, task.Action)
	require.NotNil(t, task.LastRun)
	assert.Equal(t, 3, task.LastRun.Hour())

	require.Len(t, snap.History, 1)
	assert.Equal(t, "Host reboot initiated", snap.History[0].Message)
}

func TestJSONFileRejectsCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks.json"), []byte("{not json"), 0o644))

	st, err := OpenJSONFile(dir)
	require.NoError(t, err)
	_, err = st.Load(context.Background())
	assert.Error(t, err)
}

func TestJSONFileKeepsLoadingPastDamagedTask(t *testing.T) {
	dir := t.TempDir()
	doc := `{
  "tasks": {
    "good0001": {"name": "Fine", "schedule_type": "interval", "interval_unit": "hours", "interval_value": 2, "action_type": "restart_core"},
    "bad00002": {"name": "Damaged", "schedule_type": "interval", "interval_value": [1], "action_type": "reboot_host"},
    "junk0003": "not an object"
  },
  "history": []
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks.json"), []byte(doc), 0o644))

	st, err := OpenJSONFile(dir)
	require.NoError(t, err)
	snap, err := st.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Tasks, 2)

	byID := map[string]*core.Task{}
	for _, task := range snap.Tasks {
		byID[task.ID] = task
	}
	assert.Equal(t, core.IntervalSchedule{Unit: core.UnitHours, Value: 2}, byID["good0001"].Schedule)

	damaged := byID["bad00002"]
	require.NotNil(t, damaged)
	assert.Equal(t, "Damaged", damaged.Name)
	inv, ok := damaged.Schedule.(core.InvalidSchedule)
	require.True(t, ok)
	assert.Contains(t, inv.Reason, "interval_value")
	_, rejected := core.Resolve(damaged).(core.Rejected)
	assert.True(t, rejected, "a damaged task must never get a timer")
}

func TestJSONFileReadsNaiveTimesInLocation(t *testing.T) {
	dir := t.TempDir()
	doc := `{"tasks": {"once0001": {"schedule_type": "once", "run_at": "2030-06-01T08:00:00", "action_type": "restart_core"}}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks.json"), []byte(doc), 0o644))

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	st, err := Open(context.Background(), "json", dir, Options{Location: ny})
	require.NoError(t, err)
	snap, err := st.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Tasks, 1)
	once, ok := snap.Tasks[0].Schedule.(core.OnceSchedule)
	require.True(t, ok)
	assert.True(t, once.RunAt.Equal(time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)), "got %s", once.RunAt)
}

func TestSQLiteKeepsLoadingPastDamagedTask(t *testing.T) {
	ctx := context.Background()
	st, err := OpenSQLite(ctx, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Save(ctx, sampleSnapshot()))

	_, err = st.DB.ExecContext(ctx, `UPDATE tasks SET payload = ? WHERE id = ?`,
		`{"id": "bbbb2222", "name": "Porch light", "schedule_type": "sun", "sun_offset": {"x": 1}}`, "bbbb2222")
	require.NoError(t, err)

	got, err := st.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got.Tasks, 2)
	assert.Equal(t, core.IntervalSchedule{Unit: core.UnitHours, Value: 1}, got.Tasks[0].Schedule)
	inv, ok := got.Tasks[1].Schedule.(core.InvalidSchedule)
	require.True(t, ok)
	assert.Equal(t, "sun", inv.Kind)
	assert.Contains(t, inv.Reason, "sun_offset")
}

func TestSQLiteSaveLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := OpenSQLite(ctx, dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	want := sampleSnapshot()
	require.NoError(t, st.Save(ctx, want))
	got, err := st.Load(ctx)
	require.NoError(t, err)
	assertSnapshot(t, want, got)

	// A second save replaces rather than appends.
	want.Tasks = want.Tasks[:1]
	want.History = want.History[1:]
	require.NoError(t, st.Save(ctx, want))
	got, err = st.Load(ctx)
	require.NoError(t, err)
	assertSnapshot(t, want, got)
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st, err := OpenSQLite(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, st.Save(ctx, sampleSnapshot()))
	require.NoError(t, st.Close())

	reopened, err := OpenSQLite(ctx, dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	got, err := reopened.Load(ctx)
	require.NoError(t, err)
	assertSnapshot(t, sampleSnapshot(), got)

	var version int
	require.NoError(t, reopened.DB.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version))
	assert.Equal(t, 1, version)
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, "", t.TempDir(), Options{})
	require.NoError(t, err)
	assert.IsType(t, &JSONFile{}, st)

	st, err = Open(ctx, "sqlite", t.TempDir(), Options{})
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, st)
	require.NoError(t, st.Close())

	_, err = Open(ctx, "postgres", t.TempDir(), Options{})
	assert.Error(t, err)
}
