package server

import (
	"encoding/json"
	"net/http"

	"kipgate/internal/engine"
	"kipgate/internal/logging"
)

type queryRequest struct {
	Query string `json:"query"`
}

// handleQuery serves /execute_kip and /kql; the two differ only in whether
// the legacy FIND dialect is rewritten or rejected.
func (s *Server) handleQuery(allowLegacy bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, badRequest("request body must be JSON with a query field"))
			return
		}
		if req.Query == "" {
			s.writeError(w, badRequest("query must not be empty"))
			return
		}

		env, qe := s.engine.ExecuteQuery(r.Context(), req.Query, allowLegacy)
		if qe != nil {
			s.writeError(w, qe)
			return
		}
		s.writeJSON(w, http.StatusOK, env)
	}
}

// handlePropositions serves the direct proposition operations.
func (s *Server) handlePropositions(w http.ResponseWriter, r *http.Request) {
	var req engine.PropositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, badRequest("request body must be JSON with an action field"))
		return
	}

	env, qe := s.engine.Propositions(r.Context(), req)
	if qe != nil {
		s.writeError(w, qe)
		return
	}
	s.writeJSON(w, http.StatusOK, env)
}

// handleHealthz verifies store connectivity.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Verify(r.Context()); err != nil {
		logging.Get(logging.CategoryHTTP).Warn("Health check failed: %v", err)
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Get(logging.CategoryHTTP).Error("Response encode failed: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, qe *engine.QueryError) {
	s.writeJSON(w, qe.HTTPStatus(), engine.NewErrorEnvelope(qe))
}

func badRequest(msg string) *engine.QueryError {
	return &engine.QueryError{
		Kind:     engine.KindValidation,
		Code:     engine.CodeValidation,
		Message:  msg,
		Position: -1,
	}
}
