package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRingEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Append(HistoryEntry{TaskID: fmt.Sprint(i)})
	}
	assert.Equal(t, 3, h.Len())

	ids := func(entries []HistoryEntry) []string {
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.TaskID)
		}
		return out
	}
	assert.Equal(t, []string{"2", "3", "4"}, ids(h.Recent(0)))
	assert.Equal(t, []string{"3", "4"}, ids(h.Recent(2)))
	assert.Equal(t, []string{"2", "3", "4"}, ids(h.Recent(10)))
}

func TestStateReturnsCopies(t *testing.T) {
	s := NewState(10)
	s.Put(&Task{ID: "a", Name: "first", Enabled: true})

	got, ok := s.Get("a")
	require.True(t, ok)
	got.Name = "mutated"

	again, _ := s.Get("a")
	assert.Equal(t, "first", again.Name)
}

func TestStateRecordStampsTaskAndAppends(t *testing.T) {
	s := NewState(10)
	s.Put(&Task{ID: "a", Enabled: true})
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	s.Record(HistoryEntry{TaskID: "a", ExecutedAt: at, Success: true})
	s.Record(HistoryEntry{TaskID: "gone", ExecutedAt: at, Success: false})

	task, _ := s.Get("a")
	require.NotNil(t, task.LastRun)
	assert.True(t, at.Equal(*task.LastRun))
	require.NotNil(t, task.LastResult)
	assert.True(t, *task.LastResult)
	assert.Len(t, s.History(0), 2)
}

func TestStateListOrdersByCreation(t *testing.T) {
	s := NewState(10)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Put(&Task{ID: "c", CreatedAt: base.Add(2 * time.Minute)})
	s.Put(&Task{ID: "b", CreatedAt: base})
	s.Put(&Task{ID: "a", CreatedAt: base})

	var ids []string
	for _, task := range s.List() {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestStateRestoreTrimsHistory(t *testing.T) {
	s := NewState(2)
	s.Restore(&Snapshot{
		Tasks:   []*Task{{ID: "a"}},
		History: []HistoryEntry{{TaskID: "1"}, {TaskID: "2"}, {TaskID: "3"}},
	})

	hist := s.History(0)
	require.Len(t, hist, 2)
	assert.Equal(t, "2", hist[0].TaskID)
	assert.Equal(t, "3", hist[1].TaskID)
	_, ok := s.Get("a")
	assert.True(t, ok)
}

func TestStateUpdateAndRemove(t *testing.T) {
	s := NewState(10)
	s.Put(&Task{ID: "a", Enabled: true})

	updated, ok := s.Update("a", func(t *Task) { t.Enabled = false })
	require.True(t, ok)
	assert.False(t, updated.Enabled)

	_, ok = s.Update("missing", func(t *Task) {})
	assert.False(t, ok)

	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
}
