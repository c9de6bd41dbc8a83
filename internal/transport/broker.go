package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"workfeed/internal/broker"
	"workfeed/internal/logger"
	"workfeed/pkg/metrics"
	"workfeed/pkg/models"
)

// BrokerAdapter feeds envelopes from a Kafka topic into the ingestor. Retry
// and dead-lettering belong to the consumer; the adapter only owns the
// subscription lifecycle.
type BrokerAdapter struct {
	consumer broker.Consumer
	topic    string
	handler  broker.HandlerFunc
	onError  ErrorHandler
	logger   logger.Logger

	mu          sync.Mutex
	connected   bool
	lastMessage *time.Time
	err         error
	cancel      context.CancelFunc
}

func NewBrokerAdapter(consumer broker.Consumer, topic string, handler broker.HandlerFunc, onError ErrorHandler, log logger.Logger) *BrokerAdapter {
	return &BrokerAdapter{
		consumer: consumer,
		topic:    topic,
		handler:  handler,
		onError:  onError,
		logger:   log.With("transport", models.SourceBroker),
	}
}

func (b *BrokerAdapter) Name() string {
	return models.SourceBroker
}

func (b *BrokerAdapter) Connect(ctx context.Context) {
	b.mu.Lock()
	if b.connected || b.consumer == nil || b.topic == "" {
		b.mu.Unlock()
		return
	}
	consumeCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mu.Unlock()

	err := b.consumer.Consume(consumeCtx, b.topic, b.handle)

	b.mu.Lock()
	if err != nil {
		cancel()
		b.cancel = nil
		b.err = fmt.Errorf("subscribe %s: %w", b.topic, err)
		err = b.err
	} else {
		b.connected = true
		b.err = nil
	}
	b.mu.Unlock()

	if err != nil {
		metrics.IncTransportError(b.Name(), "subscribe")
		b.logger.ErrorwCtx(ctx, "Broker subscription failed", "error", err)
		reportError(ctx, b.onError, b.Name(), err)
		return
	}
	metrics.TransportConnectsTotal.WithLabelValues(b.Name()).Inc()
	metrics.SetTransportConnected(b.Name(), true)
	b.logger.Infow("Broker subscription started", "topic", b.topic)
}

func (b *BrokerAdapter) handle(ctx context.Context, env models.EventEnvelope) error {
	now := time.Now()
	b.mu.Lock()
	b.lastMessage = &now
	b.mu.Unlock()
	return b.handler(ctx, env)
}

// Disconnect cancels the subscription. The consumer itself is closed by its
// owner.
func (b *BrokerAdapter) Disconnect() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	wasConnected := b.connected
	b.connected = false
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasConnected {
		metrics.SetTransportConnected(b.Name(), false)
		b.logger.Infow("Broker subscription stopped", "topic", b.topic)
	}
}

func (b *BrokerAdapter) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	phase := PhaseDisconnected
	if b.connected {
		phase = PhaseConnected
	}
	return Status{
		Name:        b.Name(),
		Enabled:     b.consumer != nil && b.topic != "",
		State:       ConnState{Phase: phase}.String(),
		Connected:   b.connected,
		LastMessage: b.lastMessage,
		Error:       errorString(b.err),
	}
}
