package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"taskscheduler/internal/core"
)

const (
	maxBodyBytes        = 1 << 20
	taskListHistorySize = 20
)

// taskResponse is the flat task record plus the next expected fire time.
type taskResponse struct {
	core.TaskRecord
	NextRun *string `json:"next_run,omitempty"`
}

type taskListResponse struct {
	Tasks   map[string]taskResponse `json:"tasks"`
	History []core.HistoryEntry     `json:"history"`
}

type taskMutationResponse struct {
	Success bool          `json:"success"`
	Task    *taskResponse `json:"task,omitempty"`
}

type toggleResponse struct {
	Success bool `json:"success"`
	Enabled bool `json:"enabled"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.scheduler.ListTasks()
	res := taskListResponse{
		Tasks:   make(map[string]taskResponse, len(tasks)),
		History: s.scheduler.ListHistory(taskListHistorySize),
	}
	for _, t := range tasks {
		res.Tasks[t.ID] = s.taskToResponse(t)
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.scheduler.GetTask(taskID)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.taskToResponse(task))
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var rec core.TaskRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	// Ids are always server-assigned.
	rec.ID = core.NewID()
	task, err := rec.TaskIn(s.location)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	task.CreatedAt = s.now()

	saved, err := s.scheduler.CreateOrUpdate(r.Context(), task)
	if err != nil {
		s.logger.Error().Err(err).Msg("create task")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create task")
		return
	}
	s.logger.Info().Str("task_id", saved.ID).Str("schedule", saved.Schedule.String()).Msg("task created")
	resp := s.taskToResponse(saved)
	writeJSON(w, http.StatusOK, taskMutationResponse{Success: true, Task: &resp})
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	existing, err := s.scheduler.GetTask(taskID)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	rec, err := existing.Record().Merge(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	task, err := rec.TaskIn(s.location)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	saved, err := s.scheduler.CreateOrUpdate(r.Context(), task)
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", taskID).Msg("update task")
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update task")
		return
	}
	resp := s.taskToResponse(saved)
	writeJSON(w, http.StatusOK, taskMutationResponse{Success: true, Task: &resp})
}

// handleDeleteTask succeeds whether or not the task existed.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	s.scheduler.Delete(r.Context(), taskID)
	writeJSON(w, http.StatusOK, taskMutationResponse{Success: true})
}

func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	enabled, err := s.scheduler.Toggle(r.Context(), taskID)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toggleResponse{Success: true, Enabled: enabled})
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	result, err := s.scheduler.RunNow(r.Context(), taskID)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) taskToResponse(task *core.Task) taskResponse {
	res := taskResponse{TaskRecord: task.Record()}
	if next := s.scheduler.NextRun(task); next != nil {
		formatted := next.In(s.location).Format(time.RFC3339)
		res.NextRun = &formatted
	}
	return res
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to read request body")
		return nil, false
	}
	return body, true
}

func writeTaskError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
