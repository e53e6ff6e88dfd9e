package api

import (
	"net/http"

	"taskscheduler/internal/core"
	"taskscheduler/internal/supervisor"
)

// controllablePrefixes are the entity domains offered for entity_control.
var controllablePrefixes = []string{
	"light.", "switch.", "fan.", "cover.", "climate.", "input_boolean.", "media_player.",
}

// Lookup failures answer with an empty list so the UI keeps working while
// the Supervisor is unreachable.

func (s *Server) handleAddons(w http.ResponseWriter, r *http.Request) {
	addons := []supervisor.Addon{}
	if s.directory != nil {
		found, err := s.directory.Addons(r.Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("list addons")
		} else if found != nil {
			addons = found
		}
	}
	writeJSON(w, http.StatusOK, addons)
}

func (s *Server) handleAutomations(w http.ResponseWriter, r *http.Request) {
	s.writeStates(w, r, "automation.")
}

func (s *Server) handleScripts(w http.ResponseWriter, r *http.Request) {
	s.writeStates(w, r, "script.")
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	s.writeStates(w, r, controllablePrefixes...)
}

func (s *Server) writeStates(w http.ResponseWriter, r *http.Request, prefixes ...string) {
	states := []core.EntityState{}
	if s.directory != nil {
		found, err := s.directory.States(r.Context(), prefixes...)
		if err != nil {
			s.logger.Error().Err(err).Strs("prefixes", prefixes).Msg("list entities")
		} else if found != nil {
			states = found
		}
	}
	writeJSON(w, http.StatusOK, states)
}
