package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"workfeed/internal/logger"
	"workfeed/internal/normalizer"
	"workfeed/pkg/metrics"
	"workfeed/pkg/models"
	"workfeed/pkg/retry"
)

const socketReadLimit = 1 << 20

type SocketConfig struct {
	URL             string
	Token           string
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     int
	DialOptions     *websocket.DialOptions
}

func DefaultSocketConfig(rawURL string) SocketConfig {
	return SocketConfig{
		URL:             rawURL,
		InitialInterval: 1000 * time.Millisecond,
		MaxInterval:     30000 * time.Millisecond,
		MaxAttempts:     5,
	}
}

type authMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// Socket is the WebSocket adapter. Abnormal closures reconnect with
// exponential backoff; a normal closure or Disconnect does not.
type Socket struct {
	cfg       SocketConfig
	handler   Handler
	onError   ErrorHandler
	logger    logger.Logger
	scheduler Scheduler

	mu          sync.Mutex
	machine     *Machine
	parent      context.Context
	conn        *websocket.Conn
	cancel      context.CancelFunc
	timer       Timer
	lastMessage *time.Time
	err         error
	wg          sync.WaitGroup
}

func NewSocket(cfg SocketConfig, handler Handler, onError ErrorHandler, log logger.Logger, scheduler Scheduler) *Socket {
	if scheduler == nil {
		scheduler = RealScheduler()
	}
	return &Socket{
		cfg:       cfg,
		handler:   handler,
		onError:   onError,
		logger:    log.With("transport", models.SourceSocket),
		scheduler: scheduler,
		machine:   NewMachine(retry.ReconnectSchedule(cfg.InitialInterval, cfg.MaxInterval, 2, cfg.MaxAttempts)),
	}
}

func (s *Socket) Name() string {
	return models.SourceSocket
}

// Connect starts the connection in the background. Failures surface through
// Status and the error handler, never to the caller.
func (s *Socket) Connect(ctx context.Context) {
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

// Disconnect closes with the normal closure code and cancels any pending
// reconnect. Safe to call more than once.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	s.machine.Fire(ManualDisconnect())
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	conn := s.conn
	cancel := s.cancel
	s.conn = nil
	s.cancel = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	metrics.SetTransportConnected(s.Name(), false)
}

// SendMessage writes v as a JSON text frame. When the socket is not open it
// logs a warning and does nothing.
func (s *Socket) SendMessage(ctx context.Context, v interface{}) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		s.logger.Warnw("Socket not open, message not sent")
		return nil
	}
	if err := wsjson.Write(ctx, conn, v); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State().Phase == PhaseConnected
}

func (s *Socket) IsConnecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State().Phase == PhaseConnecting
}

func (s *Socket) LastMessage() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMessage
}

func (s *Socket) Error() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Socket) Status() Status {
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

func (s *Socket) startLocked() {
	ctx, cancel := context.WithCancel(s.parent)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

func (s *Socket) run(ctx context.Context) {
	conn, _, err := websocket.Dial(ctx, s.cfg.URL, s.cfg.DialOptions)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.fail(ctx, ErrorOccurred(), "dial", fmt.Errorf("dial %s: %w", s.cfg.URL, err))
		return
	}
	conn.SetReadLimit(socketReadLimit)

	if s.cfg.Token != "" {
		if err := wsjson.Write(ctx, conn, authMessage{Type: "auth", Token: s.cfg.Token}); err != nil {
			_ = conn.Close(websocket.StatusInternalError, "auth failed")
			if ctx.Err() != nil {
				return
			}
			s.fail(ctx, ErrorOccurred(), "auth", fmt.Errorf("send auth: %w", err))
			return
		}
	}

	s.mu.Lock()
	if s.machine.State().Phase != PhaseConnecting {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return
	}
	s.conn = conn
	s.err = nil
	s.machine.Fire(Opened())
	s.mu.Unlock()

	metrics.SetTransportConnected(s.Name(), true)
	metrics.TransportConnectsTotal.WithLabelValues(s.Name()).Inc()
	s.logger.Infow("Socket connected", "url", s.cfg.URL)

	err = s.readLoop(ctx, conn)
	metrics.SetTransportConnected(s.Name(), false)
	if ctx.Err() != nil {
		return
	}

	code := int(websocket.CloseStatus(err))
	if code == -1 {
		code = int(websocket.StatusAbnormalClosure)
	}
	if code == CloseNormal {
		s.mu.Lock()
		s.conn = nil
		s.machine.Fire(Closed(code))
		s.mu.Unlock()
		s.logger.Infow("Socket closed normally")
		return
	}
	s.fail(ctx, Closed(code), "closed", fmt.Errorf("socket closed with status %d: %w", code, err))
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		now := time.Now()
		s.mu.Lock()
		s.lastMessage = &now
		s.mu.Unlock()

		if typ != websocket.MessageText {
			s.logger.Debugw("Ignoring binary frame", "bytes", len(data))
			continue
		}

		env, err := normalizer.ParseEnvelope(data)
		if err != nil {
			metrics.WorkItemsRejectedTotal.WithLabelValues(s.Name(), "parse").Inc()
			s.logger.Warnw("Failed to parse socket message", "error", err)
			continue
		}
		if env.Event != models.EventNewWorkItem {
			s.logger.Debugw("Ignoring socket event", "event", env.Event)
			continue
		}
		dispatch(ctx, s.logger, s.Name(), s.handler, env)
	}
}

// fail records err, feeds ev to the state machine and schedules the next
// attempt if the budget allows. Errors after a manual disconnect are ignored.
func (s *Socket) fail(ctx context.Context, ev Event, kind string, err error) {
	s.mu.Lock()
	if s.machine.State().Phase == PhaseDisconnected {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.err = err
	action := s.machine.Fire(ev)
	if action.Kind == ActionScheduleReconnect {
		s.timer = s.scheduler.AfterFunc(action.Delay, s.reconnect)
	}
	s.mu.Unlock()

	metrics.IncTransportError(s.Name(), kind)
	s.logger.Warnw("Socket connection error", "error", err)
	reportError(ctx, s.onError, s.Name(), err)

	switch action.Kind {
	case ActionScheduleReconnect:
		metrics.TransportReconnectsTotal.WithLabelValues(s.Name()).Inc()
		s.logger.Infow("Scheduling socket reconnect", "attempt", action.Attempt, "delay_ms", action.Delay.Milliseconds())
	case ActionGiveUp:
		s.logger.Warnw("Socket reconnect budget exhausted", "attempts", action.Attempt)
	}
}

func (s *Socket) reconnect() {
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

// DeriveSocketURL builds the socket URL from the API base URL: wss for an
// https base, ws otherwise, at path.
func DeriveSocketURL(apiBase, path string) (string, error) {
	u, err := url.Parse(apiBase)
	if err != nil {
		return "", fmt.Errorf("parse api base url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("api base url %q has no host", apiBase)
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/" + strings.TrimPrefix(path, "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
