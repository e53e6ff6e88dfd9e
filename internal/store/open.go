package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"taskscheduler/internal/core"
)

// Store is a task store that holds resources until closed.
type Store interface {
	core.TaskStore
	Close() error
}

// Options apply to every backend.
type Options struct {
	// Location reads stored timestamps that carry no zone.
	Location *time.Location
	Logger   zerolog.Logger
}

// Open selects a backend by driver name: "json" (default) or "sqlite".
func Open(ctx context.Context, driver, stateDir string, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "json", "file":
		st, err := OpenJSONFile(stateDir)
		if err != nil {
			return nil, err
		}
		st.Location, st.Logger = opts.Location, opts.Logger
		return st, nil
	case "sqlite":
		st, err := OpenSQLite(ctx, stateDir)
		if err != nil {
			return nil, err
		}
		st.Location, st.Logger = opts.Location, opts.Logger
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q (use json or sqlite)", driver)
	}
}

// decodeTask turns one stored record into a task. It returns nil when the
// record cannot be read at all; the rest of the snapshot still loads.
func decodeTask(raw []byte, id string, loc *time.Location, logger zerolog.Logger) *core.Task {
	task, err := core.DecodeRecord(raw, id, loc)
	if err != nil {
		logger.Error().Err(err).Str("task_id", id).Str("record", string(raw)).Msg("skipping unreadable task")
		return nil
	}
	if inv, ok := task.Schedule.(core.InvalidSchedule); ok {
		logger.Warn().Str("task_id", task.ID).Str("reason", inv.Reason).Msg("task loaded with invalid schedule")
	}
	return task
}
