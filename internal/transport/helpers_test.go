package transport

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"workfeed/internal/logger"
	"workfeed/pkg/models"
)

type scheduledCall struct {
	delay time.Duration
	fire  func()
}

// manualScheduler records AfterFunc calls; the test decides when they fire.
type manualScheduler struct {
	calls chan scheduledCall
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{calls: make(chan scheduledCall, 16)}
}

type manualTimer struct {
	mu      sync.Mutex
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	timer := &manualTimer{}
	s.calls <- scheduledCall{
		delay: d,
		fire: func() {
			timer.mu.Lock()
			stopped := timer.stopped
			timer.mu.Unlock()
			if !stopped {
				f()
			}
		},
	}
	return timer
}

func (s *manualScheduler) next(t *testing.T) scheduledCall {
	t.Helper()
	select {
	case call := <-s.calls:
		return call
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a scheduled reconnect")
		return scheduledCall{}
	}
}

func (s *manualScheduler) requireNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case call := <-s.calls:
		t.Fatalf("unexpected reconnect scheduled after %s", call.delay)
	case <-time.After(wait):
	}
}

// recorder collects dispatched envelopes and reported errors.
type recorder struct {
	mu     sync.Mutex
	events []models.EventEnvelope
	errors []error
	seen   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{seen: make(chan struct{}, 64)}
}

func (r *recorder) handle(_ context.Context, env models.EventEnvelope) {
	r.mu.Lock()
	r.events = append(r.events, env)
	r.mu.Unlock()
	r.seen <- struct{}{}
}

func (r *recorder) onError(_ context.Context, _ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *recorder) envelopes() []models.EventEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.EventEnvelope(nil), r.events...)
}

func (r *recorder) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.seen:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for event %d", i+1)
		}
	}
}

func envelopeIDs(t *testing.T, envs []models.EventEnvelope) []string {
	t.Helper()
	out := make([]string, 0, len(envs))
	for _, env := range envs {
		var data struct {
			ID json.RawMessage `json:"id"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &data))
		var id interface{}
		require.NoError(t, json.Unmarshal(data.ID, &id))
		switch v := id.(type) {
		case string:
			out = append(out, v)
		case float64:
			out = append(out, string(data.ID))
		default:
			t.Fatalf("unexpected id %v", v)
		}
	}
	return out
}

func testLogger() logger.Logger {
	return logger.NopLogger()
}
