package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"workfeed/internal/logger"
	"workfeed/internal/normalizer"
	"workfeed/internal/reconciler"
	"workfeed/pkg/metrics"
	"workfeed/pkg/models"
)

const (
	DefaultIdentityPageSize = 50
	identityPath            = "/api/workitems"
)

type IdentityPollerConfig struct {
	BaseURL  string
	Limit    int
	Interval time.Duration
	Client   *http.Client
}

// BatchFunc receives one deduplicated page, newest first.
type BatchFunc func(ctx context.Context, items []models.WorkItemData)

// IdentityPoller loads one page of work items and then asks only for ids
// above the highest id it has seen.
type IdentityPoller struct {
	cfg     IdentityPollerConfig
	client  *http.Client
	seed    BatchFunc
	merge   BatchFunc
	onError ErrorHandler
	logger  logger.Logger

	mu       sync.Mutex
	loaded   bool
	highest  string
	polling  bool
	lastPoll *time.Time
	err      error
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewIdentityPoller builds the poller. seed receives the initial page and
// merge every later one. seed may be nil, in which case the initial page is
// merged like any other.
func NewIdentityPoller(cfg IdentityPollerConfig, seed, merge BatchFunc, onError ErrorHandler, log logger.Logger) *IdentityPoller {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultIdentityPageSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultListPollInterval
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &IdentityPoller{
		cfg:     cfg,
		client:  client,
		seed:    seed,
		merge:   merge,
		onError: onError,
		logger:  log.With("transport", models.SourceIdentity),
	}
}

func (p *IdentityPoller) Name() string {
	return models.SourceIdentity
}

func (p *IdentityPoller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.polling || p.cfg.BaseURL == "" {
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.polling = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()

		_ = p.PollOnce(pollCtx)
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				_ = p.PollOnce(pollCtx)
			}
		}
	}()
}

func (p *IdentityPoller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.polling = false
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *IdentityPoller) Connect(ctx context.Context) { p.Start(ctx) }

func (p *IdentityPoller) Disconnect() { p.Stop() }

// HighestID is the largest id seen so far, empty before the first page.
func (p *IdentityPoller) HighestID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highest
}

func (p *IdentityPoller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := PhaseDisconnected
	if p.polling {
		state = PhaseConnected
	}
	return Status{
		Name:        p.Name(),
		Enabled:     p.cfg.BaseURL != "",
		State:       ConnState{Phase: state}.String(),
		Connected:   p.polling,
		LastMessage: p.lastPoll,
		Cursor:      p.highest,
		Error:       errorString(p.err),
	}
}

// PollOnce loads the initial page on first success and incremental pages
// afterwards.
func (p *IdentityPoller) PollOnce(ctx context.Context) error {
	p.mu.Lock()
	loaded := p.loaded
	highest := p.highest
	p.mu.Unlock()

	rawURL, err := p.pageURL(loaded, highest)
	if err != nil {
		return err
	}

	start := time.Now()
	var items []models.WorkItemData
	if err := getJSON(ctx, p.client, rawURL, &items); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.ObservePoll(p.Name(), "error", time.Since(start))
		metrics.IncTransportError(p.Name(), "poll")
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		p.logger.Warnw("Identity poll failed", "error", err)
		reportError(ctx, p.onError, p.Name(), err)
		return err
	}
	metrics.ObservePoll(p.Name(), "success", time.Since(start))

	batch := dedupByID(items)

	now := time.Now()
	p.mu.Lock()
	p.err = nil
	p.loaded = true
	p.lastPoll = &now
	for _, item := range batch {
		if item.id != "" && (p.highest == "" || reconciler.CompareIDs(item.id, p.highest) > 0) {
			p.highest = item.id
		}
	}
	p.mu.Unlock()

	data := make([]models.WorkItemData, 0, len(batch))
	for _, item := range batch {
		data = append(data, item.data)
	}

	target := p.merge
	if !loaded && p.seed != nil {
		target = p.seed
	}
	dispatchBatch(ctx, p.logger, p.Name(), target, data)
	return nil
}

func (p *IdentityPoller) pageURL(loaded bool, highest string) (string, error) {
	u, err := url.Parse(strings.TrimRight(p.cfg.BaseURL, "/") + identityPath)
	if err != nil {
		return "", fmt.Errorf("parse identity poll url: %w", err)
	}
	q := url.Values{}
	if loaded && highest != "" {
		q.Set("since_id", highest)
	} else {
		q.Set("limit", strconv.Itoa(p.cfg.Limit))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type identified struct {
	id   string
	data models.WorkItemData
}

func (i identified) Identity() string { return i.id }

// dedupByID keeps the first occurrence of each id. Items whose id cannot be
// read are kept so the ingestor can reject them with a reason.
func dedupByID(items []models.WorkItemData) []identified {
	wrapped := make([]identified, 0, len(items))
	var unreadable []identified
	for _, item := range items {
		id, err := normalizer.CoerceID(item.ID)
		if err != nil || id == "" {
			unreadable = append(unreadable, identified{data: item})
			continue
		}
		wrapped = append(wrapped, identified{id: id, data: item})
	}
	return append(reconciler.DeduplicateWorkItems(wrapped), unreadable...)
}
