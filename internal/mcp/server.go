package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"taskscheduler/internal/core"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// MCPServer exposes the scheduler as MCP tools.
type MCPServer struct {
	scheduler *core.Scheduler
	logger    zerolog.Logger
	location  *time.Location
	server    *server.MCPServer
	now       func() time.Time
}

// NewMCPServer creates a new MCP server instance with every tool registered.
func NewMCPServer(scheduler *core.Scheduler, logger zerolog.Logger, location *time.Location) *MCPServer {
	if location == nil {
		location = time.Local
	}
	s := &MCPServer{
		scheduler: scheduler,
		logger:    logger.With().Str("component", "mcp").Logger(),
		location:  location,
		now:       time.Now,
	}
	s.server = server.NewMCPServer(
		"taskscheduler",
		Version,
		server.WithToolCapabilities(true),
	)
	s.registerTools(s.server)
	return s
}

// Run serves MCP over stdio until stdin closes.
func (s *MCPServer) Run() error {
	s.logger.Info().Msg("MCP server starting on stdio")
	return server.ServeStdio(s.server)
}

// HTTPHandler returns the streamable HTTP transport for mounting at /mcp.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

var (
	scheduleTypes = []string{"interval", "cron", "once", "sun"}
	actionTypes   = []string{
		string(core.ActionRebootHost), string(core.ActionRestartCore), string(core.ActionRestartAddon),
		string(core.ActionCallService), string(core.ActionAutomation), string(core.ActionScript),
		string(core.ActionEntityControl), string(core.ActionNotify),
	}
)

// taskFieldOptions are the flat task fields shared by create and update.
func taskFieldOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("name", mcp.Description("Task name")),
		mcp.WithString("schedule_type", mcp.Description("How the task is scheduled"), mcp.Enum(scheduleTypes...)),
		mcp.WithString("interval_unit", mcp.Description("Interval unit"), mcp.Enum("seconds", "minutes", "hours", "days")),
		mcp.WithNumber("interval_value", mcp.Description("Interval length in interval_unit"), mcp.Min(1)),
		mcp.WithString("cron_hour", mcp.Description("Cron hour field, e.g. '7' or '*/2'")),
		mcp.WithString("cron_minute", mcp.Description("Cron minute field, e.g. '30'")),
		mcp.WithString("cron_dow", mcp.Description("Cron day-of-week field, e.g. 'mon-fri' or '*'")),
		mcp.WithString("run_at", mcp.Description("ISO-8601 instant for once schedules")),
		mcp.WithString("sun_event", mcp.Description("Solar event"), mcp.Enum("sunrise", "sunset")),
		mcp.WithNumber("sun_offset", mcp.Description("Offset from the solar event in minutes"), mcp.Min(0)),
		mcp.WithString("sun_direction", mcp.Description("Apply the offset before or after the event"), mcp.Enum("before", "after")),
		mcp.WithString("action_type", mcp.Description("What the task does"), mcp.Enum(actionTypes...)),
		mcp.WithString("addon_slug", mcp.Description("Add-on slug for restart_addon")),
		mcp.WithString("service_domain", mcp.Description("Service domain for call_service")),
		mcp.WithString("service_name", mcp.Description("Service name for call_service")),
		mcp.WithObject("service_data", mcp.Description("Service data for call_service")),
		mcp.WithString("automation_id", mcp.Description("Automation entity id")),
		mcp.WithString("script_id", mcp.Description("Script entity id")),
		mcp.WithString("entity_id", mcp.Description("Entity id for entity_control")),
		mcp.WithString("entity_action", mcp.Description("Entity command"), mcp.Enum("turn_on", "turn_off", "toggle")),
		mcp.WithNumber("brightness_pct", mcp.Description("Light brightness percent for turn_on"), mcp.Min(0), mcp.Max(100)),
		mcp.WithNumber("color_temp_kelvin", mcp.Description("Light color temperature for turn_on")),
		mcp.WithNumber("transition", mcp.Description("Light transition in seconds")),
		mcp.WithString("notify_service", mcp.Description("Notify service name, default 'notify'")),
		mcp.WithString("notify_title", mcp.Description("Notification title")),
		mcp.WithString("notify_message", mcp.Description("Notification message")),
		mcp.WithBoolean("enabled", mcp.Description("Whether the task is active")),
	}
}

// registerTools registers all available MCP tools.
func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("task_list",
		mcp.WithDescription("List scheduled tasks with their schedule, action and next run"),
		mcp.WithString("state",
			mcp.Description("Filter by state"),
			mcp.Enum("enabled", "disabled"),
		),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("task_get",
		mcp.WithDescription("Show one task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
	), s.handleGetTask)

	createOpts := append([]mcp.ToolOption{
		mcp.WithDescription("Create a scheduled Home Assistant task. Fields follow the task JSON record."),
	}, taskFieldOptions()...)
	mcpServer.AddTool(mcp.NewTool("task_create", createOpts...), s.handleCreateTask)

	updateOpts := append([]mcp.ToolOption{
		mcp.WithDescription("Update a task. Only the given fields change."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
	}, taskFieldOptions()...)
	mcpServer.AddTool(mcp.NewTool("task_update", updateOpts...), s.handleUpdateTask)

	mcpServer.AddTool(mcp.NewTool("task_toggle",
		mcp.WithDescription("Enable a disabled task or disable an enabled one"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
	), s.handleToggleTask)

	mcpServer.AddTool(mcp.NewTool("task_delete",
		mcp.WithDescription("Delete a task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
	), s.handleDeleteTask)

	mcpServer.AddTool(mcp.NewTool("task_run",
		mcp.WithDescription("Run a task immediately and report the result"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID")),
	), s.handleRunTask)

	mcpServer.AddTool(mcp.NewTool("task_history",
		mcp.WithDescription("Show recent executions"),
		mcp.WithString("task_id", mcp.Description("Only show this task")),
		mcp.WithNumber("limit",
			mcp.Description("Number of entries, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleHistory)

	mcpServer.AddTool(mcp.NewTool("sun_status",
		mcp.WithDescription("Show the sunrise and sunset times used for sun schedules"),
	), s.handleSunStatus)

	mcpServer.AddTool(mcp.NewTool("schedule_preview",
		mcp.WithDescription("Preview the next fire times of a cron schedule"),
		mcp.WithString("cron_hour", mcp.Description("Hour field, default '*'")),
		mcp.WithString("cron_minute", mcp.Description("Minute field, default '0'")),
		mcp.WithString("cron_dow", mcp.Description("Day-of-week field, default '*'")),
		mcp.WithNumber("count",
			mcp.Description("Number of fire times, default 5"),
			mcp.Min(1),
			mcp.Max(10),
		),
	), s.handleSchedulePreview)

	s.logger.Info().Int("count", 10).Msg("MCP tools registered")
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state := mcp.ParseString(request, "state", "")

	var b strings.Builder
	count := 0
	for _, t := range s.scheduler.ListTasks() {
		if (state == "enabled" && !t.Enabled) || (state == "disabled" && t.Enabled) {
			continue
		}
		count++
		s.writeTask(&b, t)
		b.WriteString("\n")
	}
	if count == 0 {
		return mcp.NewToolResultText("No tasks found"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Found %d tasks:\n\n%s", count, b.String())), nil
}

func (s *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	task, err := s.scheduler.GetTask(taskID)
	if err != nil {
		return taskError(taskID, err), nil
	}
	var b strings.Builder
	s.writeTask(&b, task)
	fmt.Fprintf(&b, "Created: %s\n", formatTime(&task.CreatedAt, s.location))
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payload, err := json.Marshal(request.GetArguments())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	var rec core.TaskRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if rec.ActionType == "" {
		return mcp.NewToolResultError("action_type is required"), nil
	}
	rec.ID = core.NewID()
	task, err := rec.TaskIn(s.location)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	task.CreatedAt = s.now()

	saved, err := s.scheduler.CreateOrUpdate(ctx, task)
	if err != nil {
		s.logger.Error().Err(err).Msg("create task")
		return mcp.NewToolResultError(fmt.Sprintf("create task failed: %v", err)), nil
	}
	s.logger.Info().Str("task_id", saved.ID).Str("schedule", saved.Schedule.String()).Msg("task created")

	var b strings.Builder
	b.WriteString("Task created\n")
	s.writeTask(&b, saved)
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleUpdateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	taskID := mcp.ParseString(request, "task_id", "")
	existing, err := s.scheduler.GetTask(taskID)
	if err != nil {
		return taskError(taskID, err), nil
	}

	patch := make(map[string]any, len(args))
	for k, v := range args {
		if k != "task_id" {
			patch[k] = v
		}
	}
	payload, err := json.Marshal(patch)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	rec, err := existing.Record().Merge(payload)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	task, err := rec.TaskIn(s.location)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	saved, err := s.scheduler.CreateOrUpdate(ctx, task)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("update task failed: %v", err)), nil
	}

	var b strings.Builder
	b.WriteString("Task updated\n")
	s.writeTask(&b, saved)
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleToggleTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	enabled, err := s.scheduler.Toggle(ctx, taskID)
	if err != nil {
		return taskError(taskID, err), nil
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %s is now %s", taskID, state)), nil
}

func (s *MCPServer) handleDeleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	if !s.scheduler.Delete(ctx, taskID) {
		return mcp.NewToolResultText(fmt.Sprintf("Task %s did not exist", taskID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task deleted: %s", taskID)), nil
}

func (s *MCPServer) handleRunTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	result, err := s.scheduler.RunNow(ctx, taskID)
	if err != nil {
		return taskError(taskID, err), nil
	}
	text := fmt.Sprintf("[%s] %s: %s", resultIcon(result.Success), result.TaskName, result.Message)
	if !result.Success {
		return mcp.NewToolResultError(text), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *MCPServer) handleHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))
	if limit < 1 {
		limit = 20
	}

	// Newest first; a task filter applies before the limit.
	entries := s.scheduler.ListHistory(0)
	var b strings.Builder
	count := 0
	for i := len(entries) - 1; i >= 0 && count < limit; i-- {
		e := entries[i]
		if taskID != "" && e.TaskID != taskID {
			continue
		}
		count++
		fmt.Fprintf(&b, "[%s] %s  %s (%s): %s\n",
			resultIcon(e.Success), formatTime(&e.ExecutedAt, s.location), e.TaskName, e.TaskID, e.Message)
	}
	if count == 0 {
		return mcp.NewToolResultText("No executions recorded"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Found %d executions:\n\n%s", count, b.String())), nil
}

func (s *MCPServer) handleSunStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.scheduler.Solar()
	if snap == nil {
		return mcp.NewToolResultText(core.ErrNoSolarSnapshot.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Sunrise: %s\nSunset: %s\nFetched: %s",
		formatTime(&snap.Sunrise, s.location),
		formatTime(&snap.Sunset, s.location),
		formatTime(&snap.FetchedAt, s.location),
	)), nil
}

func (s *MCPServer) handleSchedulePreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sched := core.CronSchedule{
		Hour:      mcp.ParseString(request, "cron_hour", "*"),
		Minute:    mcp.ParseString(request, "cron_minute", "0"),
		DayOfWeek: mcp.ParseString(request, "cron_dow", "*"),
	}
	count := int(mcp.ParseFloat64(request, "count", 5))

	task := &core.Task{ID: "preview", Enabled: true, Schedule: sched}
	times, err := core.Preview(task, s.now().In(s.location), count, nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid cron fields: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Cron: %s\n", core.CronExpr(sched))
	fmt.Fprintf(&b, "Time zone: %s\n\n", s.location)
	b.WriteString("Next fire times:\n")
	for i, t := range times {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, formatTime(&t, s.location))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) writeTask(b *strings.Builder, t *core.Task) {
	state := "enabled"
	if !t.Enabled {
		state = "disabled"
	}
	fmt.Fprintf(b, "%s %s (%s)\n", t.ID, t.DisplayName(), state)
	fmt.Fprintf(b, "  Schedule: %s\n", t.Schedule)
	if t.Action != nil {
		fmt.Fprintf(b, "  Action: %s\n", t.Action.Type())
	}
	if next := s.scheduler.NextRun(t); next != nil {
		fmt.Fprintf(b, "  Next run: %s\n", formatTime(next, s.location))
	}
	if t.LastRun != nil {
		ok := t.LastResult != nil && *t.LastResult
		fmt.Fprintf(b, "  Last run: %s [%s]\n", formatTime(t.LastRun, s.location), resultIcon(ok))
	}
}

func taskError(taskID string, err error) *mcp.CallToolResult {
	if errors.Is(err, core.ErrTaskNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("task not found: %s", taskID))
	}
	return mcp.NewToolResultError(err.Error())
}

func formatTime(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.In(loc).Format("2006-01-02 15:04:05")
}

func resultIcon(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}
