package session_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulselink/pulselink/internal/session"
)

func TestNewSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/session/new", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session_key": "AB12CD", "message": "Session created successfully"}`))
	}))
	defer srv.Close()

	c := session.NewClient(srv.URL+"/", nil)
	key, err := c.NewSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AB12CD", key)
}

func TestNewSessionServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := session.NewClient(srv.URL, nil)
	_, err := c.NewSession(context.Background())
	assert.ErrorContains(t, err, "unexpected status 500")
}

func TestNewSessionTransportError(t *testing.T) {
	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := session.NewClient(srv.URL, nil)
	_, err := c.NewSession(context.Background())
	assert.Error(t, err)
}

func TestNewSessionMissingKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message": "ok"}`))
	}))
	defer srv.Close()

	c := session.NewClient(srv.URL, nil)
	_, err := c.NewSession(context.Background())
	assert.ErrorContains(t, err, "missing session_key")
}
