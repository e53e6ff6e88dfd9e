package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskscheduler/internal/core"
)

type recordingExecutor struct {
	mu        sync.Mutex
	endpoints []string
}

func (e *recordingExecutor) Call(ctx context.Context, method, endpoint string, payload any) (json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.endpoints = append(e.endpoints, endpoint)
	return json.RawMessage("[]"), nil
}

func newTestServer(t *testing.T) (*MCPServer, *core.Scheduler, *recordingExecutor) {
	t.Helper()
	exec := &recordingExecutor{}
	state := core.NewState(core.DefaultHistoryLimit)
	d := core.NewDispatcher(state, exec, nil, nil, zerolog.Nop())
	sched := core.NewScheduler(state, d, nil, zerolog.Nop(), time.UTC, core.DefaultTiming())
	t.Cleanup(func() { sched.Stop() })

	s := NewMCPServer(sched, zerolog.Nop(), time.UTC)
	s.now = func() time.Time { return time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC) }
	return s, sched, exec
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Name: name, Arguments: args}}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "unexpected content %T", res.Content[0])
	return text.Text
}

func onlyTask(t *testing.T, sched *core.Scheduler) *core.Task {
	t.Helper()
	tasks := sched.ListTasks()
	require.Len(t, tasks, 1)
	return tasks[0]
}

func TestCreateTask(t *testing.T) {
	s, sched, _ := newTestServer(t)

	res, err := s.handleCreateTask(context.Background(), call("task_create", map[string]any{
		"name":           "Porch light",
		"schedule_type":  "cron",
		"cron_hour":      "19",
		"cron_minute":    "15",
		"action_type":    "entity_control",
		"entity_id":      "light.porch",
		"brightness_pct": float64(70),
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError, resultText(t, res))
	assert.Contains(t, resultText(t, res), "Task created")
	assert.Contains(t, resultText(t, res), "Next run: ")

	task := onlyTask(t, sched)
	assert.Equal(t, "Porch light", task.Name)
	assert.True(t, sched.Registered(task.ID))
	ctrl, ok := task.Action.(core.EntityControl)
	require.True(t, ok)
	require.NotNil(t, ctrl.BrightnessPct)
	assert.Equal(t, 70, *ctrl.BrightnessPct)
}

func TestCreateTaskRequiresAction(t *testing.T) {
	s, sched, _ := newTestServer(t)

	res, err := s.handleCreateTask(context.Background(), call("task_create", map[string]any{"schedule_type": "interval"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Empty(t, sched.ListTasks())
}

func TestUpdateTogglesAndRuns(t *testing.T) {
	s, sched, exec := newTestServer(t)
	_, err := s.handleCreateTask(context.Background(), call("task_create", map[string]any{
		"name":           "Heartbeat",
		"schedule_type":  "interval",
		"interval_unit":  "minutes",
		"interval_value": float64(10),
		"action_type":    "restart_addon",
		"addon_slug":     "foo",
	}))
	require.NoError(t, err)
	id := onlyTask(t, sched).ID

	res, err := s.handleUpdateTask(context.Background(), call("task_update", map[string]any{"task_id": id, "interval_value": float64(20)}))
	require.NoError(t, err)
	assert.False(t, res.IsError, resultText(t, res))
	updated := onlyTask(t, sched)
	assert.Equal(t, core.IntervalSchedule{Unit: core.UnitMinutes, Value: 20}, updated.Schedule)
	assert.Equal(t, "Heartbeat", updated.Name)

	res, err = s.handleToggleTask(context.Background(), call("task_toggle", map[string]any{"task_id": id}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "now disabled")

	res, err = s.handleRunTask(context.Background(), call("task_run", map[string]any{"task_id": id}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "[ok] Heartbeat: Add-on foo restart initiated", resultText(t, res))
	assert.Equal(t, []string{"/addons/foo/restart"}, exec.endpoints)

	res, err = s.handleHistory(context.Background(), call("task_history", map[string]any{"task_id": id}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Found 1 executions")
}

func TestRunFailureIsToolError(t *testing.T) {
	s, sched, exec := newTestServer(t)
	_, err := sched.CreateOrUpdate(context.Background(), &core.Task{ID: "bad", Name: "Broken", Enabled: true, Schedule: core.CronSchedule{Hour: "1", Minute: "0"}, Action: core.RestartAddon{}})
	require.NoError(t, err)

	res, err := s.handleRunTask(context.Background(), call("task_run", map[string]any{"task_id": "bad"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "[failed] Broken: restart_addon: missing required field: addon_slug", resultText(t, res))
	assert.Empty(t, exec.endpoints)
}

func TestUnknownTaskErrors(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx := context.Background()
	args := map[string]any{"task_id": "nope"}

	for name, handler := range map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"task_get":    s.handleGetTask,
		"task_update": s.handleUpdateTask,
		"task_toggle": s.handleToggleTask,
		"task_run":    s.handleRunTask,
	} {
		res, err := handler(ctx, call(name, args))
		require.NoError(t, err, name)
		assert.True(t, res.IsError, name)
		assert.Equal(t, "task not found: nope", resultText(t, res), name)
	}

	res, err := s.handleDeleteTask(ctx, call("task_delete", args))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), "did not exist")
}

func TestListTasksFiltersByState(t *testing.T) {
	s, sched, _ := newTestServer(t)
	ctx := context.Background()
	_, err := sched.CreateOrUpdate(ctx, &core.Task{ID: "on", Name: "On", Enabled: true, Schedule: core.CronSchedule{Hour: "1", Minute: "0"}, Action: core.RestartCore{}})
	require.NoError(t, err)
	_, err = sched.CreateOrUpdate(ctx, &core.Task{ID: "off", Name: "Off", Enabled: false, Schedule: core.CronSchedule{Hour: "2", Minute: "0"}, Action: core.RestartCore{}})
	require.NoError(t, err)

	res, err := s.handleListTasks(ctx, call("task_list", nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Found 2 tasks")

	res, err = s.handleListTasks(ctx, call("task_list", map[string]any{"state": "disabled"}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "Found 1 tasks")
	assert.Contains(t, text, "off Off (disabled)")
}

func TestSchedulePreviewAndSun(t *testing.T) {
	s, _, _ := newTestServer(t)

	res, err := s.handleSchedulePreview(context.Background(), call("schedule_preview", map[string]any{
		"cron_hour": "7", "cron_minute": "30", "cron_dow": "mon-fri", "count": float64(2),
	}))
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "Cron: 30 7 * * mon-fri")
	assert.Contains(t, text, "1. 2024-06-03 07:30:00")
	assert.Contains(t, text, "2. 2024-06-04 07:30:00")

	res, err = s.handleSchedulePreview(context.Background(), call("schedule_preview", map[string]any{"cron_hour": "25"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleSunStatus(context.Background(), call("sun_status", nil))
	require.NoError(t, err)
	assert.Equal(t, core.ErrNoSolarSnapshot.Error(), resultText(t, res))
}
