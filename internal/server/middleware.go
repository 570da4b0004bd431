package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"kipgate/internal/engine"
	"kipgate/internal/logging"
)

const bearerPrefix = "Bearer "

// requestID tags every request with an opaque id for log correlation.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		logging.HTTPDebug("[%s] %s %s", id, r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// authenticate enforces the bearer token. An empty configured token accepts
// every request.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.Server.AuthToken
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(header, bearerPrefix)), []byte(token)) != 1 {
			logging.HTTP("Rejected unauthenticated request to %s", r.URL.Path)
			s.writeError(w, engine.AuthError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withTimeout bounds every authenticated request by the configured deadline.
func (s *Server) withTimeout(next http.Handler) http.Handler {
	timeout := s.cfg.GetRequestTimeout()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
