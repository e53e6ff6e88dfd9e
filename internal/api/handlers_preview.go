package api

import (
	"encoding/json"
	"net/http"
	"time"

	"taskscheduler/internal/core"
)

const timeLayout = time.RFC3339

type schedulePreviewRequest struct {
	core.TaskRecord
	Now   string `json:"now,omitempty"`
	Count int    `json:"count,omitempty"`
}

type schedulePreviewResponse struct {
	Valid     bool     `json:"valid"`
	Schedule  string   `json:"schedule,omitempty"`
	NextTimes []string `json:"next_times,omitempty"`
	Message   string   `json:"message,omitempty"`
}

// handleSchedulePreview resolves the schedule fields of a task record and
// lists its next fire times without storing anything.
func (s *Server) handleSchedulePreview(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req schedulePreviewRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, schedulePreviewResponse{Valid: false, Message: "invalid JSON payload"})
		return
	}

	count := req.Count
	if count <= 0 || count > 10 {
		count = 5
	}
	base := s.now().In(s.location)
	if req.Now != "" {
		if parsed, err := core.ParseTimestamp(req.Now, s.location); err == nil {
			base = parsed.In(s.location)
		}
	}

	req.TaskRecord.ID = "preview"
	task, err := req.TaskRecord.TaskIn(s.location)
	if err != nil {
		writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: false, Message: err.Error()})
		return
	}
	times, err := core.Preview(task, base, count, s.scheduler.Solar())
	if err != nil {
		writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: false, Schedule: task.Schedule.String(), Message: err.Error()})
		return
	}
	formatted := make([]string, 0, len(times))
	for _, t := range times {
		formatted = append(formatted, t.In(s.location).Format(timeLayout))
	}
	writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: true, Schedule: task.Schedule.String(), NextTimes: formatted})
}
