package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"taskscheduler/internal/core"
)

// JSONFile keeps tasks and history in a single tasks.json document:
// {"tasks": {"<id>": {...}}, "history": [...]}.
type JSONFile struct {
	Path     string
	Location *time.Location
	Logger   zerolog.Logger
}

// Tasks are decoded one at a time on load.
type fileDocument struct {
	Tasks   map[string]json.RawMessage `json:"tasks"`
	History []fileHistoryEntry         `json:"history"`
}

// fileHistoryEntry tolerates timestamps written without a zone.
type fileHistoryEntry struct {
	TaskID     string `json:"task_id"`
	TaskName   string `json:"task_name"`
	ExecutedAt string `json:"executed_at"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
}

// OpenJSONFile returns a store writing to stateDir/tasks.json.
func OpenJSONFile(stateDir string) (*JSONFile, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure state dir: %w", err)
	}
	return &JSONFile{Path: filepath.Join(stateDir, "tasks.json")}, nil
}

// Close is a no-op; every save writes the whole file.
func (f *JSONFile) Close() error {
	return nil
}

// Load reads the document. A missing file is an empty snapshot.
func (f *JSONFile) Load(ctx context.Context) (*core.Snapshot, error) {
	_ = ctx
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return &core.Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Path, err)
	}

	snap := &core.Snapshot{}
	for id, raw := range doc.Tasks {
		if task := decodeTask(raw, id, f.Location, f.Logger); task != nil {
			snap.Tasks = append(snap.Tasks, task)
		}
	}
	sort.Slice(snap.Tasks, func(i, j int) bool {
		a, b := snap.Tasks[i], snap.Tasks[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	for _, h := range doc.History {
		at, err := core.ParseTimestamp(h.ExecutedAt, f.location())
		if err != nil {
			continue
		}
		snap.History = append(snap.History, core.HistoryEntry{
			TaskID:     h.TaskID,
			TaskName:   h.TaskName,
			ExecutedAt: at,
			Success:    h.Success,
			Message:    h.Message,
		})
	}
	return snap, nil
}

func (f *JSONFile) location() *time.Location {
	if f.Location == nil {
		return time.Local
	}
	return f.Location
}

// Save writes the document to a temporary file and renames it into place.
func (f *JSONFile) Save(ctx context.Context, snap *core.Snapshot) error {
	_ = ctx
	doc := fileDocument{
		Tasks:   make(map[string]json.RawMessage, len(snap.Tasks)),
		History: make([]fileHistoryEntry, 0, len(snap.History)),
	}
	for _, t := range snap.Tasks {
		raw, err := json.Marshal(t.Record())
		if err != nil {
			return fmt.Errorf("encode task %s: %w", t.ID, err)
		}
		doc.Tasks[t.ID] = raw
	}
	for _, h := range snap.History {
		doc.History = append(doc.History, fileHistoryEntry{
			TaskID:     h.TaskID,
			TaskName:   h.TaskName,
			ExecutedAt: h.ExecutedAt.Format(time.RFC3339Nano),
			Success:    h.Success,
			Message:    h.Message,
		})
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".tasks-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", f.Path, err)
	}
	return nil
}
