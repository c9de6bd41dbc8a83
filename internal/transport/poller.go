package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"workfeed/internal/logger"
	"workfeed/pkg/metrics"
	"workfeed/pkg/models"
	"workfeed/pkg/tracing"
)

const (
	DefaultPollInterval     = 5000 * time.Millisecond
	DefaultListPollInterval = 60000 * time.Millisecond

	maxErrorBody = 512
)

// PollFilters are forwarded to the poll endpoint when non-empty.
type PollFilters struct {
	Search     string
	Priority   string
	Status     string
	AssignedTo string
	Industry   string
}

func (f PollFilters) apply(q url.Values) {
	set := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}
	set("search", f.Search)
	set("priority", f.Priority)
	set("status", f.Status)
	set("assigned_to", f.AssignedTo)
	set("industry", f.Industry)
}

type PollerConfig struct {
	URL      string
	Interval time.Duration
	Filters  PollFilters
	Client   *http.Client
}

// Poller polls a cursor endpoint on a fixed interval. The cursor is the
// timestamp of the last successful response; failures keep it and retry on
// the next tick.
type Poller struct {
	cfg        PollerConfig
	client     *http.Client
	handler    Handler
	onError    ErrorHandler
	onNewItems func(items []models.WorkItemData)
	logger     logger.Logger

	mu       sync.Mutex
	cursor   string
	polling  bool
	lastPoll *time.Time
	err      error
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewPoller(cfg PollerConfig, handler Handler, onError ErrorHandler, log logger.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &Poller{
		cfg:     cfg,
		client:  client,
		handler: handler,
		onError: onError,
		logger:  log.With("transport", models.SourcePoll),
	}
}

// OnNewItems registers a callback invoked once per poll that returned at
// least one item. Call before Start.
func (p *Poller) OnNewItems(fn func(items []models.WorkItemData)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onNewItems = fn
}

func (p *Poller) Name() string {
	return models.SourcePoll
}

// Start polls immediately and then on every interval tick. Calling Start
// while already polling does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.polling || p.cfg.URL == "" {
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.polling = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(pollCtx)
	}()
	p.logger.Infow("Poller started", "url", p.cfg.URL, "interval_ms", p.cfg.Interval.Milliseconds())
}

// Stop cancels the ticker and waits for an in-flight poll to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	wasPolling := p.polling
	p.polling = false
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	if wasPolling {
		p.logger.Infow("Poller stopped")
	}
}

func (p *Poller) Connect(ctx context.Context) { p.Start(ctx) }

func (p *Poller) Disconnect() { p.Stop() }

func (p *Poller) IsPolling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polling
}

func (p *Poller) Cursor() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

func (p *Poller) Error() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := PhaseDisconnected
	if p.polling {
		state = PhaseConnected
	}
	return Status{
		Name:        p.Name(),
		Enabled:     p.cfg.URL != "",
		State:       ConnState{Phase: state}.String(),
		Connected:   p.polling,
		LastMessage: p.lastPoll,
		Cursor:      p.cursor,
		Error:       errorString(p.err),
	}
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	_ = p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.PollOnce(ctx)
		}
	}
}

// PollOnce issues a single poll request and dispatches the returned items.
func (p *Poller) PollOnce(ctx context.Context) error {
	ctx, span := tracing.GetTracer(tracing.TracerTransport).Start(ctx, "poll",
		trace.WithAttributes(tracing.AttrSource.String(p.Name())))
	defer span.End()

	start := time.Now()
	resp, err := p.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.ObservePoll(p.Name(), "error", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		p.mu.Lock()
		p.err = err
		p.mu.Unlock()

		metrics.IncTransportError(p.Name(), "poll")
		p.logger.Warnw("Poll failed", "error", err)
		reportError(ctx, p.onError, p.Name(), err)
		return err
	}
	metrics.ObservePoll(p.Name(), "success", time.Since(start))
	span.SetAttributes(tracing.AttrBatchSize.Int(len(resp.Items)))

	now := time.Now()
	p.mu.Lock()
	p.err = nil
	p.lastPoll = &now
	if resp.Timestamp != "" {
		p.cursor = resp.Timestamp
	}
	onNewItems := p.onNewItems
	p.mu.Unlock()

	for _, item := range resp.Items {
		env, err := models.NewWorkItemEnvelope(item)
		if err != nil {
			p.logger.Warnw("Failed to encode polled item", "error", err)
			continue
		}
		dispatch(ctx, p.logger, p.Name(), p.handler, env)
	}
	if len(resp.Items) > 0 && onNewItems != nil {
		onNewItems(resp.Items)
	}
	return nil
}

func (p *Poller) fetch(ctx context.Context) (*models.PollResponse, error) {
	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse poll url: %w", err)
	}
	q := u.Query()
	if cursor := p.Cursor(); cursor != "" {
		q.Set("since", cursor)
	}
	p.cfg.Filters.apply(q)
	u.RawQuery = q.Encode()

	var out models.PollResponse
	if err := getJSON(ctx, p.client, u.String(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("get %s: status %d: %s", req.URL.Path, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", req.URL.Path, err)
	}
	return nil
}
