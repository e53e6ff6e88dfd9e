package api

import (
	"net/http"
	"strings"

	"taskscheduler/internal/core"
)

const defaultHistoryLimit = 50

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), defaultHistoryLimit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	entries := s.scheduler.ListHistory(limit)
	if taskID := strings.TrimSpace(r.URL.Query().Get("task_id")); taskID != "" {
		filtered := make([]core.HistoryEntry, 0, len(entries))
		for _, e := range entries {
			if e.TaskID == taskID {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if entries == nil {
		entries = []core.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type sunResponse struct {
	Sunrise   string `json:"sunrise"`
	Sunset    string `json:"sunset"`
	FetchedAt string `json:"fetched_at"`
}

func (s *Server) handleSun(w http.ResponseWriter, r *http.Request) {
	snap := s.scheduler.Solar()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", core.ErrNoSolarSnapshot.Error())
		return
	}
	writeJSON(w, http.StatusOK, sunResponse{
		Sunrise:   snap.Sunrise.In(s.location).Format(timeLayout),
		Sunset:    snap.Sunset.In(s.location).Format(timeLayout),
		FetchedAt: snap.FetchedAt.In(s.location).Format(timeLayout),
	})
}
