package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"taskscheduler/internal/metrics"
)

// ErrTaskDisabled is returned by DispatchScheduled for a task that was
// disabled after its timer fired.
var ErrTaskDisabled = errors.New("task disabled")

// Dispatcher runs a task's action and records the outcome.
type Dispatcher struct {
	state    *State
	executor ActionExecutor
	store    TaskStore
	notifier Notifier
	logger   zerolog.Logger
	now      func() time.Time

	saveMu sync.Mutex
}

// NewDispatcher creates a dispatcher. store and notifier may be nil.
func NewDispatcher(state *State, executor ActionExecutor, store TaskStore, notifier Notifier, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		state:    state,
		executor: executor,
		store:    store,
		notifier: notifier,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		now:      time.Now,
	}
}

// Dispatch executes the task once. Failures of the action never surface as an
// error: they are recorded in the returned result and in history. The only
// error is ErrTaskNotFound, when there is nothing to run.
func (d *Dispatcher) Dispatch(ctx context.Context, taskID string) (ExecutionResult, error) {
	return d.dispatch(ctx, taskID, false)
}

// DispatchScheduled is Dispatch for timer and poll firings: a task disabled
// in the meantime is skipped with ErrTaskDisabled and leaves no history.
func (d *Dispatcher) DispatchScheduled(ctx context.Context, taskID string) (ExecutionResult, error) {
	return d.dispatch(ctx, taskID, true)
}

func (d *Dispatcher) dispatch(ctx context.Context, taskID string, scheduled bool) (ExecutionResult, error) {
	task, ok := d.state.Get(taskID)
	if !ok {
		return ExecutionResult{}, ErrTaskNotFound
	}
	if scheduled && !task.Enabled {
		return ExecutionResult{}, ErrTaskDisabled
	}
	log := d.logger.With().Str("task_id", task.ID).Str("task", task.DisplayName()).Logger()

	result := ExecutionResult{TaskID: task.ID, TaskName: task.Name}
	result.Success, result.Message = d.execute(ctx, task, log)
	result.ExecutedAt = d.now()

	d.state.Record(result)
	actionType := "none"
	if task.Action != nil {
		actionType = string(task.Action.Type())
	}
	metrics.ObserveExecution(actionType, result.Success)
	d.Persist(ctx)

	if result.Success {
		log.Info().Str("message", result.Message).Msg("task executed")
		return result, nil
	}
	log.Error().Str("message", result.Message).Msg("task failed")
	if d.notifier != nil {
		title := fmt.Sprintf("Task failed: %s", task.DisplayName())
		if err := d.notifier.Send(ctx, title, result.Message); err != nil {
			log.Warn().Err(err).Msg("send failure notification")
		}
	}
	return result, nil
}

func (d *Dispatcher) execute(ctx context.Context, task *Task, log zerolog.Logger) (success bool, message string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("task execution panicked")
			success = false
			message = fmt.Sprintf("internal error: %v", r)
		}
	}()

	if task.Action == nil {
		return false, "no action configured"
	}
	call, err := task.Action.Call()
	if err != nil {
		return false, fmt.Sprintf("%s: %v", task.Action.Type(), err)
	}
	if d.executor == nil {
		return false, "no action executor configured"
	}
	log.Debug().Str("method", call.Method).Str("endpoint", call.Endpoint).Msg("calling control plane")
	if _, err := d.executor.Call(ctx, call.Method, call.Endpoint, call.Payload); err != nil {
		return false, err.Error()
	}
	return true, call.Message
}

// Persist saves the current state. Errors are logged; the in-memory state
// stays authoritative until the next successful save.
func (d *Dispatcher) Persist(ctx context.Context) {
	if d.store == nil {
		return
	}
	d.saveMu.Lock()
	defer d.saveMu.Unlock()
	if err := d.store.Save(ctx, d.state.Snapshot()); err != nil {
		d.logger.Error().Err(err).Msg("save failed")
	}
}
