package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"workfeed/pkg/models"
)

func TestSSE_ReconnectScheduleGivesUpAfterFiveAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rec := newRecorder()
	sched := newManualScheduler()
	sse := NewSSE(DefaultSSEConfig(srv.URL), rec.handle, rec.onError, testLogger(), sched)
	sse.Connect(context.Background())
	defer sse.Disconnect()

	var delays []time.Duration
	for i := 0; i < 5; i++ {
		call := sched.next(t)
		delays = append(delays, call.delay)
		assert.False(t, sse.Connected())
		call.fire()
	}

	assert.Equal(t, []time.Duration{
		3000 * time.Millisecond,
		6000 * time.Millisecond,
		12000 * time.Millisecond,
		24000 * time.Millisecond,
		48000 * time.Millisecond,
	}, delays)

	require.Eventually(t, func() bool {
		return sse.Status().State == "disconnected"
	}, 5*time.Second, 10*time.Millisecond)
	sched.requireNone(t, 100*time.Millisecond)
	assert.Equal(t, 5, sse.ReconnectAttempts())
	assert.Error(t, sse.Error())
}

func TestSSE_ParsesEnvelopesAndBareObjects(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: {\"event\":\"new_workitem\",\"data\":{\"id\":1,\"subject\":\"Quote\"}}\n\n")
		fmt.Fprint(w, "data: {broken\n\n")
		fmt.Fprint(w, "event: new_workitem\ndata: {\"id\":\"abc\"}\n\n")
		flusher.Flush()

		<-r.Context().Done()
	}))

	rec := newRecorder()
	sched := newManualScheduler()
	sse := NewSSE(DefaultSSEConfig(srv.URL), rec.handle, rec.onError, testLogger(), sched)
	sse.Connect(context.Background())

	rec.wait(t, 2)
	assert.True(t, sse.Connected())
	assert.Zero(t, sse.ReconnectAttempts())

	envs := rec.envelopes()
	require.Len(t, envs, 2)
	for _, env := range envs {
		assert.Equal(t, models.EventNewWorkItem, env.Event)
	}
	assert.Equal(t, []string{"1", "abc"}, envelopeIDs(t, envs))

	sse.Disconnect()
	sse.Disconnect()
	assert.False(t, sse.Connected())
	sched.requireNone(t, 50*time.Millisecond)
	srv.Close()
}

func TestSSE_StreamEndReconnects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"event\":\"new_workitem\",\"data\":{\"id\":9}}\n\n")
	}))
	defer srv.Close()

	rec := newRecorder()
	sched := newManualScheduler()
	sse := NewSSE(DefaultSSEConfig(srv.URL), rec.handle, rec.onError, testLogger(), sched)
	sse.Connect(context.Background())
	defer sse.Disconnect()

	rec.wait(t, 1)
	call := sched.next(t)
	// the open reset the budget, so this is the first attempt again
	assert.Equal(t, 3000*time.Millisecond, call.delay)
	assert.ErrorIs(t, sse.Error(), ErrStreamEnded)
}

func TestSSE_EmptyURLDisablesAdapter(t *testing.T) {
	sched := newManualScheduler()
	sse := NewSSE(DefaultSSEConfig(""), nil, nil, testLogger(), sched)
	sse.Connect(context.Background())

	status := sse.Status()
	assert.False(t, status.Enabled)
	assert.Equal(t, "disconnected", status.State)
	sse.Disconnect()
}

func TestDecodeSSEPayload(t *testing.T) {
	env, err := decodeSSEPayload("", []byte(`{"event":"status","data":{"ok":true}}`))
	require.NoError(t, err)
	assert.Equal(t, "status", env.Event)

	env, err = decodeSSEPayload("new_workitem", []byte(`{"id":3}`))
	require.NoError(t, err)
	assert.Equal(t, models.EventNewWorkItem, env.Event)
	assert.JSONEq(t, `{"id":3}`, string(env.Data))

	_, err = decodeSSEPayload("message", []byte(`{"id":3}`))
	assert.Error(t, err)

	_, err = decodeSSEPayload("new_workitem", []byte(`[1,2]`))
	assert.Error(t, err)
}
