// Package api serves the retrieval surface: session issuance for
// collectors and recent-readings lookup for viewers holding a session key.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pulselink/pulselink/internal/oximeter"
	"github.com/pulselink/pulselink/internal/store"
)

// maxRecentReadings caps the /data response size.
const maxRecentReadings = 50

// sessionKeyLen is how many hex characters of a UUIDv4 become the shareable
// key. Six characters keeps it human-typeable; collisions are caught by the
// unique constraint on session_key.
const sessionKeyLen = 6

// SessionStore is the persistence surface the API needs. *store.Store
// satisfies it.
type SessionStore interface {
	CreateSession(ctx context.Context, sessionKey string, startTime time.Time) (int64, error)
	SessionIDByKey(ctx context.Context, sessionKey string) (int64, error)
	RecentReadings(ctx context.Context, sessionID int64, limit int) ([]oximeter.Reading, error)
}

// Server exposes the HTTP endpoints over a SessionStore.
type Server struct {
	store  SessionStore
	logger *logrus.Logger
	mux    *http.ServeMux
}

// NewServer creates a Server. A nil logger gets a default one.
func NewServer(st SessionStore, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{store: st, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /session/new", s.handleNewSession)
	s.mux.HandleFunc("GET /data/{key}", s.handleData)
	s.mux.HandleFunc("GET /{$}", s.handleStatus)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// NewSessionKey generates a short shareable key: the first six hex
// characters of a UUIDv4, uppercased.
func NewSessionKey() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:sessionKeyLen])
}

// NormalizeSessionKey uppercases a key so lookups are case-insensitive.
func NormalizeSessionKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	key := NewSessionKey()

	if _, err := s.store.CreateSession(r.Context(), key, time.Now()); err != nil {
		s.logger.WithError(err).Error("Failed to create session")
		s.writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	s.logger.WithField("session", key).Info("Session created")
	s.writeJSON(w, http.StatusOK, map[string]string{
		"session_key": key,
		"message":     "Session created successfully",
	})
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	key := NormalizeSessionKey(r.PathValue("key"))

	sessionID, err := s.store.SessionIDByKey(r.Context(), key)
	if errors.Is(err, store.ErrSessionNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.WithError(err).WithField("session", key).Error("Failed to resolve session")
		s.writeError(w, http.StatusInternalServerError, "failed to resolve session")
		return
	}

	readings, err := s.store.RecentReadings(r.Context(), sessionID, maxRecentReadings)
	if err != nil {
		s.logger.WithError(err).WithField("session", key).Error("Failed to query readings")
		s.writeError(w, http.StatusInternalServerError, "failed to query readings")
		return
	}

	s.writeJSON(w, http.StatusOK, readings)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "online",
		"endpoints": map[string]string{
			"create_session": "/session/new",
			"get_data":       "/data/{session_key}",
		},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe runs the server on addr until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
