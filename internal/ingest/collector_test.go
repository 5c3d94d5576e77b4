package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulselink/pulselink/internal/ingest"
	"github.com/pulselink/pulselink/internal/link"
	"github.com/pulselink/pulselink/internal/session"
	"github.com/pulselink/pulselink/internal/store"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type fakeLink struct {
	frames chan []byte

	discoverErr error
	findErr     error

	mu           sync.Mutex
	unsubscribed bool
	disconnected bool
}

var _ link.Link = (*fakeLink)(nil)

func newFakeLink() *fakeLink {
	return &fakeLink{frames: make(chan []byte, 16)}
}

func (f *fakeLink) Discover(_ context.Context, name string) (string, error) {
	if f.discoverErr != nil {
		return "", f.discoverErr
	}
	return "AA:BB:CC:DD:EE:FF", nil
}

func (f *fakeLink) FindNotifyCharacteristic(_ context.Context, _ string) (string, error) {
	if f.findErr != nil {
		return "", f.findErr
	}
	return "ff31", nil
}

func (f *fakeLink) Subscribe(_ context.Context, _, _ string) (<-chan []byte, error) {
	return f.frames, nil
}

func (f *fakeLink) Unsubscribe() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = true
	return nil
}

func (f *fakeLink) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	return nil
}

func (f *fakeLink) tornDown() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribed, f.disconnected
}

// validFrame builds a 19-byte frame carrying the given spo2 and pulse.
func validFrame(spo2, pulse byte) []byte {
	frame := make([]byte, 19)
	frame[16], frame[17], frame[18] = spo2, pulse, 0xFF
	return frame
}

// testHarness wires an sqlite store and an issuance server that creates the
// session row, mirroring the real retrieval API.
func testHarness(t *testing.T, key string) (*store.Store, *session.Client) {
	t.Helper()
	s, err := store.Open(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.InitSchema(context.Background()))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := s.CreateSession(r.Context(), key, time.Now())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"session_key": %q}`, key)
	}))
	t.Cleanup(srv.Close)

	return s, session.NewClient(srv.URL, nil)
}

func TestCollectorEndToEnd(t *testing.T) {
	s, issuer := testHarness(t, "AB12CD")
	lnk := newFakeLink()

	var gotKey string
	c := ingest.NewCollector(issuer, s, s, lnk, ingest.Options{
		DeviceName:     "BLT_M70C",
		FlushInterval:  30 * time.Millisecond,
		OnSessionReady: func(k string) { gotKey = k },
	}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	// Two decodable frames, plus noise the decoder must ignore.
	lnk.frames <- validFrame(98, 72)
	lnk.frames <- []byte{1, 2, 3}
	lnk.frames <- validFrame(0xFF, 0x7F) // not sentinel, still decodes
	lnk.frames <- make([]byte, 19)       // marker missing

	sessionID, err := waitForSessionID(s, "AB12CD")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		readings, err := s.RecentReadings(context.Background(), sessionID, 50)
		return err == nil && len(readings) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, "AB12CD", gotKey)

	readings, err := s.RecentReadings(context.Background(), sessionID, 50)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	for _, r := range readings {
		assert.Equal(t, sessionID, r.SessionID, "every reading carries the resolved session id")
		assert.NotZero(t, r.Timestamp)
	}

	unsub, disc := lnk.tornDown()
	assert.True(t, unsub)
	assert.True(t, disc)
}

func waitForSessionID(s *store.Store, key string) (int64, error) {
	deadline := time.Now().Add(2 * time.Second)
	for {
		id, err := s.SessionIDByKey(context.Background(), key)
		if err == nil {
			return id, nil
		}
		if time.Now().After(deadline) {
			return 0, err
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCollectorFinalFlushOnCancel(t *testing.T) {
	s, issuer := testHarness(t, "FF00AA")
	lnk := newFakeLink()

	ready := make(chan struct{})
	c := ingest.NewCollector(issuer, s, s, lnk, ingest.Options{
		DeviceName:     "BLT_M70C",
		FlushInterval:  time.Hour, // only the shutdown flush can persist
		OnSessionReady: func(string) { close(ready) },
	}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	<-ready
	lnk.frames <- validFrame(97, 65)

	// Give the consumer a moment to buffer the reading, then cancel.
	require.Eventually(t, func() bool { return len(lnk.frames) == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	id, err := s.SessionIDByKey(context.Background(), "FF00AA")
	require.NoError(t, err)
	readings, err := s.RecentReadings(context.Background(), id, 50)
	require.NoError(t, err)
	assert.Len(t, readings, 1, "buffered reading persisted by the shutdown flush")
}

func TestCollectorIssuanceFailureIsFatal(t *testing.T) {
	s, err := store.Open(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.InitSchema(context.Background()))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := ingest.NewCollector(session.NewClient(srv.URL, nil), s, s, newFakeLink(),
		ingest.Options{DeviceName: "BLT_M70C"}, quietLogger())

	err = c.Run(context.Background())
	assert.ErrorContains(t, err, "acquire session")
}

func TestCollectorUnresolvableKeyIsFatal(t *testing.T) {
	s, err := store.Open(store.DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.InitSchema(context.Background()))

	// Issuer returns a key the store has never seen.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"session_key": "GHOST1"}`)
	}))
	defer srv.Close()

	c := ingest.NewCollector(session.NewClient(srv.URL, nil), s, s, newFakeLink(),
		ingest.Options{DeviceName: "BLT_M70C"}, quietLogger())

	err = c.Run(context.Background())
	assert.ErrorIs(t, err, store.ErrSessionNotFound)
}

func TestCollectorDeviceNotFoundIsFatal(t *testing.T) {
	s, issuer := testHarness(t, "DEVERR")
	lnk := newFakeLink()
	lnk.discoverErr = &link.NotFoundError{Resource: "device", Target: "BLT_M70C"}

	c := ingest.NewCollector(issuer, s, s, lnk,
		ingest.Options{DeviceName: "BLT_M70C"}, quietLogger())

	err := c.Run(context.Background())
	assert.ErrorIs(t, err, link.ErrDeviceNotFound)

	unsub, disc := lnk.tornDown()
	assert.False(t, unsub, "no subscription existed to tear down")
	assert.False(t, disc)
}

func TestCollectorConnectionLost(t *testing.T) {
	s, issuer := testHarness(t, "LOST01")
	lnk := newFakeLink()

	ready := make(chan struct{})
	c := ingest.NewCollector(issuer, s, s, lnk, ingest.Options{
		DeviceName:     "BLT_M70C",
		FlushInterval:  10 * time.Millisecond,
		OnSessionReady: func(string) { close(ready) },
	}, quietLogger())

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background()) }()

	<-ready
	close(lnk.frames)

	err := <-errCh
	assert.True(t, errors.Is(err, ingest.ErrConnectionLost))

	unsub, disc := lnk.tornDown()
	assert.True(t, unsub)
	assert.True(t, disc)
}

func TestCollectorRejectsEmptyDeviceName(t *testing.T) {
	s, issuer := testHarness(t, "EMPTY0")
	c := ingest.NewCollector(issuer, s, s, newFakeLink(),
		ingest.Options{DeviceName: "  "}, quietLogger())
	err := c.Run(context.Background())
	assert.ErrorContains(t, err, "device name is empty")
}
