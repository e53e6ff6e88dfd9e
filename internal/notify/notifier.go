package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"taskscheduler/internal/core"
)

// Notifier defines the interface for sending notifications.
type Notifier = core.Notifier

// MultiNotifier fans a notification out to every configured notifier.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Len reports how many notifiers are attached.
func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}

// Send delivers to all notifiers; one failing does not stop the rest.
func (m *MultiNotifier) Send(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PersistentNotifier raises a Home Assistant persistent notification through
// the control plane.
type PersistentNotifier struct {
	executor core.ActionExecutor
}

func NewPersistentNotifier(executor core.ActionExecutor) *PersistentNotifier {
	return &PersistentNotifier{executor: executor}
}

func (p *PersistentNotifier) Send(ctx context.Context, title, body string) error {
	payload := map[string]any{
		"title":           title,
		"message":         body,
		"notification_id": "taskscheduler_failure",
	}
	if _, err := p.executor.Call(ctx, http.MethodPost, "/core/api/services/persistent_notification/create", payload); err != nil {
		return fmt.Errorf("persistent notification: %w", err)
	}
	return nil
}
