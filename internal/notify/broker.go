package notify

import (
	"context"
	"sync"
	"time"

	"workfeed/internal/broker"
	"workfeed/internal/constants"
	"workfeed/internal/logger"
	"workfeed/pkg/metrics"
	"workfeed/pkg/models"
	"workfeed/pkg/retry"
)

// Claimer decides whether this replica owns the notification for a work item.
type Claimer interface {
	Claim(ctx context.Context, workItemID string) (bool, error)
}

// BrokerSink publishes new work item notifications to a Kafka topic so other
// replicas and desktop notifiers can fan them out. Connection errors are
// local to this replica and are not published.
type BrokerSink struct {
	producer broker.Producer
	topic    string
	guard    Claimer
	policy   retry.Policy
	logger   logger.Logger
	wg       sync.WaitGroup
}

func NewBrokerSink(producer broker.Producer, topic string, guard Claimer, policy retry.Policy, log logger.Logger) *BrokerSink {
	return &BrokerSink{
		producer: producer,
		topic:    topic,
		guard:    guard,
		policy:   policy,
		logger:   log,
	}
}

func (s *BrokerSink) Notify(ctx context.Context, n models.Notification) {
	if n.Kind != models.NotificationNewWorkItem || s.producer == nil || s.topic == "" {
		return
	}

	if s.guard != nil && n.WorkItemID != "" {
		claimed, err := s.guard.Claim(ctx, n.WorkItemID)
		if err != nil {
			s.logger.WarnwCtx(ctx, "Notification guard failed",
				"error", err,
				"work_item_id", n.WorkItemID,
			)
		}
		if !claimed {
			metrics.IncNotification(constants.SinkBroker, n.Kind, "skipped")
			return
		}
	}

	pubCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.publish(pubCtx, n)
	}()
}

func (s *BrokerSink) publish(ctx context.Context, n models.Notification) {
	err := retry.RetryWithCallback(ctx, s.policy, func() error {
		return s.producer.Publish(ctx, s.topic, n.WorkItemID, n)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.RetryAttemptsTotal.WithLabelValues(constants.SinkBroker, s.topic).Inc()
		s.logger.WarnwCtx(ctx, "Retrying notification publish",
			"attempt", attempt,
			"error", err,
			"next_delay", nextDelay,
			"notification_id", n.ID,
		)
	})
	if err != nil {
		metrics.IncNotification(constants.SinkBroker, n.Kind, "failed")
		s.logger.ErrorwCtx(ctx, "Failed to publish notification",
			"error", err,
			"topic", s.topic,
			"notification_id", n.ID,
		)
		return
	}
	metrics.IncNotification(constants.SinkBroker, n.Kind, "delivered")
}

// Wait blocks until in-flight publishes finish.
func (s *BrokerSink) Wait() {
	s.wg.Wait()
}
