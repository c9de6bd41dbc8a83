package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"workfeed/pkg/models"
)

type socketServer struct {
	*httptest.Server
	auth chan authMessage
}

// newSocketServer accepts one connection at a time, reads the auth message
// when a token is expected, writes frames and closes with code.
func newSocketServer(t *testing.T, expectAuth bool, frames []string, code websocket.StatusCode) *socketServer {
	t.Helper()
	s := &socketServer{auth: make(chan authMessage, 4)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()

		if expectAuth {
			var msg authMessage
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				return
			}
			s.auth <- msg
		}
		for _, frame := range frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
				return
			}
		}
		_ = conn.Close(code, "done")
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *socketServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func newWorkItemFrame(t *testing.T, id string) string {
	t.Helper()
	env := models.NewWorkItemDataBuilder().WithID(id).WithSubject("Renewal").Envelope()
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return string(raw)
}

func TestSocket_AuthFirstAndDispatchesOnlyNewWorkItems(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	frames := []string{
		`{"event":"heartbeat","data":{}}`,
		`not json`,
		newWorkItemFrame(t, "42"),
	}
	srv := newSocketServer(t, true, frames, websocket.StatusNormalClosure)
	rec := newRecorder()
	sched := newManualScheduler()

	cfg := DefaultSocketConfig(srv.wsURL())
	cfg.Token = "secret"
	sock := NewSocket(cfg, rec.handle, rec.onError, testLogger(), sched)
	sock.Connect(context.Background())

	select {
	case msg := <-srv.auth:
		assert.Equal(t, authMessage{Type: "auth", Token: "secret"}, msg)
	case <-time.After(5 * time.Second):
		t.Fatal("auth message not received")
	}

	rec.wait(t, 1)
	envs := rec.envelopes()
	require.Len(t, envs, 1)
	assert.Equal(t, models.EventNewWorkItem, envs[0].Event)
	assert.Equal(t, []string{"42"}, envelopeIDs(t, envs))

	require.Eventually(t, func() bool {
		return sock.Status().State == "disconnected"
	}, 5*time.Second, 10*time.Millisecond)
	sched.requireNone(t, 100*time.Millisecond)
	assert.Zero(t, rec.errorCount())
	assert.NotNil(t, sock.LastMessage())

	sock.Disconnect()
	srv.Close()
}

func TestSocket_AbnormalClosureSchedulesReconnect(t *testing.T) {
	srv := newSocketServer(t, false, nil, websocket.StatusInternalError)
	rec := newRecorder()
	sched := newManualScheduler()

	sock := NewSocket(DefaultSocketConfig(srv.wsURL()), rec.handle, rec.onError, testLogger(), sched)
	sock.Connect(context.Background())
	defer sock.Disconnect()

	call := sched.next(t)
	assert.Equal(t, 1000*time.Millisecond, call.delay)
	assert.Equal(t, 1, sock.Status().ReconnectAttempts)
	assert.False(t, sock.IsConnected())
	assert.Error(t, sock.Error())
	require.Eventually(t, func() bool { return rec.errorCount() == 1 }, time.Second, 5*time.Millisecond)

	call.fire()
	// The fresh connection opens and closes abnormally again.
	assert.Equal(t, 1000*time.Millisecond, sched.next(t).delay)
}

func TestSocket_DialFailureFeedsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	rec := newRecorder()
	sched := newManualScheduler()
	sock := NewSocket(DefaultSocketConfig("ws"+strings.TrimPrefix(srv.URL, "http")), rec.handle, rec.onError, testLogger(), sched)
	sock.Connect(context.Background())
	defer sock.Disconnect()

	var delays []time.Duration
	for i := 0; i < 5; i++ {
		call := sched.next(t)
		delays = append(delays, call.delay)
		call.fire()
	}
	assert.Equal(t, []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		16000 * time.Millisecond,
	}, delays)

	require.Eventually(t, func() bool {
		return sock.Status().State == "disconnected"
	}, 5*time.Second, 10*time.Millisecond)
	sched.requireNone(t, 100*time.Millisecond)
	require.Eventually(t, func() bool { return rec.errorCount() == 6 }, time.Second, 5*time.Millisecond)
}

func TestSocket_DisconnectIsIdempotentAndCancelsTimer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := newSocketServer(t, false, nil, websocket.StatusGoingAway)
	sched := newManualScheduler()
	sock := NewSocket(DefaultSocketConfig(srv.wsURL()), nil, nil, testLogger(), sched)
	sock.Connect(context.Background())

	call := sched.next(t)
	sock.Disconnect()
	sock.Disconnect()

	call.fire()
	sched.requireNone(t, 100*time.Millisecond)
	assert.Equal(t, "disconnected", sock.Status().State)
	srv.Close()
}

func TestSocket_SendMessageWhenClosedIsNoop(t *testing.T) {
	sock := NewSocket(DefaultSocketConfig("ws://127.0.0.1:1/ws"), nil, nil, testLogger(), newManualScheduler())
	assert.NoError(t, sock.SendMessage(context.Background(), map[string]string{"type": "ping"}))
}

func TestDeriveSocketURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://api.example.com", "wss://api.example.com/ws"},
		{"http://localhost:8000/api", "ws://localhost:8000/ws"},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := DeriveSocketURL(tt.base, "/ws")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := DeriveSocketURL("not a url", "/ws")
	assert.Error(t, err)
}
