package core

import (
	"context"
	"encoding/json"
)

// ActionExecutor performs authenticated control-plane calls. A non-2xx
// response or a transport failure is returned as an error whose message is
// recorded verbatim.
type ActionExecutor interface {
	Call(ctx context.Context, method, endpoint string, payload any) (json.RawMessage, error)
}

// EntityState is the state of a single Home Assistant entity.
type EntityState struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// StateProvider reads entity states.
type StateProvider interface {
	GetState(ctx context.Context, entityID string) (*EntityState, error)
}

// TaskStore persists the task set and history.
type TaskStore interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// Notifier receives failed executions.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}
