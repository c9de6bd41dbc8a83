package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"workfeed/internal/logger"
	"workfeed/internal/normalizer"
	"workfeed/pkg/metrics"
	"workfeed/pkg/models"
	"workfeed/pkg/retry"
)

var ErrStreamEnded = errors.New("event stream ended")

type SSEConfig struct {
	URL             string
	InitialInterval time.Duration
	MaxAttempts     int
	Client          *http.Client
}

func DefaultSSEConfig(rawURL string) SSEConfig {
	return SSEConfig{
		URL:             rawURL,
		InitialInterval: 3000 * time.Millisecond,
		MaxAttempts:     5,
	}
}

// SSE is the Server-Sent-Events adapter. An empty URL disables it. Stream
// errors reconnect after 3000 * 2^attempts ms until the attempt budget is
// spent; after that only a manual Connect restarts it.
type SSE struct {
	cfg       SSEConfig
	client    *http.Client
	handler   Handler
	onError   ErrorHandler
	logger    logger.Logger
	scheduler Scheduler

	mu          sync.Mutex
	machine     *Machine
	parent      context.Context
	cancel      context.CancelFunc
	timer       Timer
	lastMessage *time.Time
	err         error
	wg          sync.WaitGroup
}

func NewSSE(cfg SSEConfig, handler Handler, onError ErrorHandler, log logger.Logger, scheduler Scheduler) *SSE {
	if scheduler == nil {
		scheduler = RealScheduler()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &SSE{
		cfg:       cfg,
		client:    client,
		handler:   handler,
		onError:   onError,
		logger:    log.With("transport", models.SourceSSE),
		scheduler: scheduler,
		// growth is unbounded; the attempt budget is the only limit
		machine: NewMachine(retry.ReconnectSchedule(cfg.InitialInterval, 0, 2, cfg.MaxAttempts)),
	}
}

func (s *SSE) Name() string {
	return models.SourceSSE
}

func (s *SSE) Connect(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.URL == "" {
		return
	}
	s.parent = ctx
	if s.machine.Fire(ConnectRequested()).Kind == ActionDial {
		s.startLocked()
	}
}

// Disconnect cancels any pending reconnect, closes the stream and resets the
// attempt counter.
func (s *SSE) Disconnect() {
	s.mu.Lock()
	s.machine.Fire(ManualDisconnect())
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	metrics.SetTransportConnected(s.Name(), false)
}

func (s *SSE) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State().Phase == PhaseConnected
}

func (s *SSE) ReconnectAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State().Attempt
}

func (s *SSE) Error() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *SSE) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.machine.State()
	return Status{
		Name:              s.Name(),
		Enabled:           s.cfg.URL != "",
		State:             state.String(),
		Connected:         state.Phase == PhaseConnected,
		Connecting:        state.Phase == PhaseConnecting,
		ReconnectAttempts: state.Attempt,
		LastMessage:       s.lastMessage,
		Error:             errorString(s.err),
	}
}

func (s *SSE) startLocked() {
	ctx, cancel := context.WithCancel(s.parent)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.run(ctx)
	}()
}

func (s *SSE) run(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL, nil)
	if err != nil {
		s.fail(ctx, "request", fmt.Errorf("build request: %w", err))
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.fail(ctx, "connect", fmt.Errorf("open stream: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.fail(ctx, "status", fmt.Errorf("open stream: unexpected status %d", resp.StatusCode))
		return
	}

	s.mu.Lock()
	if s.machine.State().Phase != PhaseConnecting {
		s.mu.Unlock()
		return
	}
	s.err = nil
	s.machine.Fire(Opened())
	s.mu.Unlock()

	metrics.SetTransportConnected(s.Name(), true)
	metrics.TransportConnectsTotal.WithLabelValues(s.Name()).Inc()
	s.logger.Infow("Event stream connected", "url", s.cfg.URL)

	err = s.readLoop(ctx, resp.Body)
	metrics.SetTransportConnected(s.Name(), false)
	if ctx.Err() != nil {
		return
	}
	s.fail(ctx, "stream", err)
}

// readLoop parses the event stream until it ends. It always returns a
// non-nil error.
func (s *SSE) readLoop(ctx context.Context, body io.Reader) error {
	reader := bufio.NewReader(body)

	var (
		eventName string
		data      bytes.Buffer
	)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrStreamEnded
			}
			return fmt.Errorf("read stream: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if data.Len() > 0 {
				s.handleMessage(ctx, eventName, data.Bytes())
			}
			eventName = ""
			data.Reset()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			eventName = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		}
	}
}

func (s *SSE) handleMessage(ctx context.Context, eventName string, payload []byte) {
	now := time.Now()
	s.mu.Lock()
	s.lastMessage = &now
	s.mu.Unlock()

	env, err := decodeSSEPayload(eventName, payload)
	if err != nil {
		metrics.WorkItemsRejectedTotal.WithLabelValues(s.Name(), "parse").Inc()
		s.logger.Warnw("Failed to parse event stream message", "event", eventName, "error", err)
		return
	}
	dispatch(ctx, s.logger, s.Name(), s.handler, env)
}

// decodeSSEPayload prefers a full envelope in the data field. A bare JSON
// object is wrapped using the SSE event name.
func decodeSSEPayload(eventName string, payload []byte) (models.EventEnvelope, error) {
	env, err := normalizer.ParseEnvelope(payload)
	if err == nil {
		return env, nil
	}
	if eventName == "" || eventName == "message" {
		return models.EventEnvelope{}, err
	}

	var object map[string]json.RawMessage
	if jsonErr := json.Unmarshal(payload, &object); jsonErr != nil {
		return models.EventEnvelope{}, fmt.Errorf("decode %s payload: %w", eventName, jsonErr)
	}
	return models.EventEnvelope{Event: eventName, Data: json.RawMessage(payload)}, nil
}

func (s *SSE) fail(ctx context.Context, kind string, err error) {
	s.mu.Lock()
	if s.machine.State().Phase == PhaseDisconnected {
		s.mu.Unlock()
		return
	}
	s.err = err
	action := s.machine.Fire(ErrorOccurred())
	if action.Kind == ActionScheduleReconnect {
		s.timer = s.scheduler.AfterFunc(action.Delay, s.reconnect)
	}
	s.mu.Unlock()

	metrics.IncTransportError(s.Name(), kind)
	s.logger.Warnw("Event stream error", "error", err)
	reportError(ctx, s.onError, s.Name(), err)

	switch action.Kind {
	case ActionScheduleReconnect:
		metrics.TransportReconnectsTotal.WithLabelValues(s.Name()).Inc()
		s.logger.Infow("Scheduling event stream reconnect", "attempt", action.Attempt, "delay_ms", action.Delay.Milliseconds())
	case ActionGiveUp:
		s.logger.Debugw("Event stream reconnect budget exhausted", "attempts", action.Attempt)
	}
}

func (s *SSE) reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timer = nil
	if s.machine.State().Phase != PhaseReconnecting || s.parent == nil || s.parent.Err() != nil {
		return
	}
	if s.machine.Fire(ConnectRequested()).Kind == ActionDial {
		s.startLocked()
	}
}
