package notify

import (
	"context"
	"sync"

	"workfeed/internal/constants"
	"workfeed/internal/logger"
	"workfeed/pkg/errors"
	"workfeed/pkg/metrics"
	"workfeed/pkg/models"
)

type queued struct {
	ctx context.Context
	n   models.Notification
}

// Async runs a sink on a single worker behind a bounded queue. When the
// queue is full the notification is dropped.
type Async struct {
	next   Sink
	logger logger.Logger
	queue  chan queued

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAsync(next Sink, size int, log logger.Logger) *Async {
	if size <= 0 {
		size = constants.DefaultQueueSize
	}
	a := &Async{
		next:   next,
		logger: log,
		queue:  make(chan queued, size),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) Notify(ctx context.Context, n models.Notification) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		metrics.IncNotification(constants.SinkAsync, n.Kind, "closed")
		return
	}

	select {
	case a.queue <- queued{ctx: context.WithoutCancel(ctx), n: n}:
	default:
		metrics.IncNotification(constants.SinkAsync, n.Kind, "dropped")
		a.logger.WarnwCtx(ctx, "Notification queue full, dropping notification",
			"notification_id", n.ID,
			"kind", n.Kind,
		)
	}
}

func (a *Async) run() {
	defer a.wg.Done()
	for item := range a.queue {
		a.deliver(item)
	}
}

func (a *Async) deliver(item queued) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.ErrorwCtx(item.ctx, "Panic recovered in notification sink",
				"error", errors.RecoverPanic(r),
				"notification_id", item.n.ID,
			)
		}
	}()
	a.next.Notify(item.ctx, item.n)
}

// Close stops accepting notifications and waits until the queued ones have
// been delivered or ctx is done.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
