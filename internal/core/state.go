package core

import (
	"errors"
	"sort"
	"sync"
)

// DefaultHistoryLimit is the number of history entries retained.
const DefaultHistoryLimit = 100

// ErrTaskNotFound is returned when a task id is unknown.
var ErrTaskNotFound = errors.New("task not found")

// History is a bounded ring of execution records, oldest evicted first.
type History struct {
	buf  []HistoryEntry
	head int
	n    int
}

// NewHistory creates a ring holding at most limit entries.
func NewHistory(limit int) *History {
	if limit < 1 {
		limit = DefaultHistoryLimit
	}
	return &History{buf: make([]HistoryEntry, limit)}
}

// Append adds an entry, evicting the oldest one when full.
func (h *History) Append(e HistoryEntry) {
	idx := (h.head + h.n) % len(h.buf)
	h.buf[idx] = e
	if h.n < len(h.buf) {
		h.n++
		return
	}
	h.head = (h.head + 1) % len(h.buf)
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	return h.n
}

// Recent returns up to limit of the newest entries in chronological order.
// A non-positive limit returns everything retained.
func (h *History) Recent(limit int) []HistoryEntry {
	if limit <= 0 || limit > h.n {
		limit = h.n
	}
	out := make([]HistoryEntry, 0, limit)
	for i := h.n - limit; i < h.n; i++ {
		out = append(out, h.buf[(h.head+i)%len(h.buf)])
	}
	return out
}

// State is the task map and history shared by the scheduler and dispatcher.
// Tasks are stored and returned as copies so callers never alias the map.
type State struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	history *History
}

// NewState creates an empty state retaining historyLimit entries.
func NewState(historyLimit int) *State {
	return &State{
		tasks:   make(map[string]*Task),
		history: NewHistory(historyLimit),
	}
}

func (s *State) Get(id string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

func (s *State) Put(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task.Clone()
}

// Remove deletes the task and reports whether it existed.
func (s *State) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return false
	}
	delete(s.tasks, id)
	return true
}

// Update applies fn to the stored task and returns a copy of the result.
func (s *State) Update(id string, fn func(*Task)) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	fn(t)
	return t.Clone(), true
}

// List returns copies of all tasks ordered by creation time.
func (s *State) List() []*Task {
	s.mu.RLock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Record stamps last_run and last_result on the task, if it still exists,
// and appends the entry to history either way.
func (s *State) Record(entry HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[entry.TaskID]; ok {
		at := entry.ExecutedAt
		success := entry.Success
		t.LastRun = &at
		t.LastResult = &success
	}
	s.history.Append(entry)
}

// History returns up to limit of the newest entries, oldest first.
func (s *State) History(limit int) []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history.Recent(limit)
}

// Snapshot copies the state for persistence.
func (s *State) Snapshot() *Snapshot {
	tasks := s.List()
	return &Snapshot{Tasks: tasks, History: s.History(0)}
}

// Restore replaces the state with a loaded snapshot. History beyond the ring
// size is dropped, oldest first.
func (s *State) Restore(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]*Task, len(snap.Tasks))
	for _, t := range snap.Tasks {
		s.tasks[t.ID] = t.Clone()
	}
	s.history = NewHistory(len(s.history.buf))
	for _, e := range snap.History {
		s.history.Append(e)
	}
}
