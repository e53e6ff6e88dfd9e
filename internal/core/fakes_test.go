package core

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type recordedCall struct {
	Method   string
	Endpoint string
	Payload  any
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []recordedCall
	err   error
	panic any
}

func (f *fakeExecutor) Call(ctx context.Context, method, endpoint string, payload any) (json.RawMessage, error) {
	if f.panic != nil {
		panic(f.panic)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{Method: method, Endpoint: endpoint, Payload: payload})
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage("[]"), nil
}

func (f *fakeExecutor) Calls() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

type fakeProvider struct {
	mu    sync.Mutex
	state *EntityState
	err   error
}

func (p *fakeProvider) GetState(ctx context.Context, entityID string) (*EntityState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.state, nil
}

func (p *fakeProvider) set(state *EntityState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state, p.err = state, err
}

func sunState(sunrise, sunset time.Time) *EntityState {
	return &EntityState{
		EntityID: DefaultSunEntity,
		State:    "below_horizon",
		Attributes: map[string]any{
			"next_rising":  sunrise.UTC().Format(time.RFC3339),
			"next_setting": sunset.UTC().Format(time.RFC3339),
		},
	}
}

type memStore struct {
	mu    sync.Mutex
	snap  *Snapshot
	saves int
	err   error
}

func (m *memStore) Load(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return &Snapshot{}, nil
	}
	return m.snap, nil
}

func (m *memStore) Save(ctx context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.err != nil {
		return m.err
	}
	m.snap = snap
	return nil
}

func (m *memStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
	bodies []string
}

func (n *fakeNotifier) Send(ctx context.Context, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
	n.bodies = append(n.bodies, body)
	return nil
}

// fakeClock is a settable time source shared by the scheduler, dispatcher
// and solar context under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
