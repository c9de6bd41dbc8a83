package broker

import (
	"context"
	"time"

	"workfeed/pkg/models"
)

// Producer publishes JSON values keyed by key.
type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
	Close() error
}

type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	Close() error
}

// HandlerFunc processes one envelope. Errors are retried unless wrapped with
// retry.NewFatalError.
type HandlerFunc func(ctx context.Context, env models.EventEnvelope) error

// DeadLetter is what the consumer writes to the DLQ topic.
type DeadLetter struct {
	Envelope    models.EventEnvelope `json:"envelope"`
	Reason      string               `json:"reason"`
	SourceTopic string               `json:"source_topic"`
	Timestamp   time.Time            `json:"timestamp"`
}
