package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workfeed/internal/config"
	"workfeed/internal/logger"
	"workfeed/pkg/models"
	"workfeed/pkg/retry"
)

type fakeReader struct {
	messages chan kafka.Message

	mu        sync.Mutex
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m := <-r.messages:
		return m, nil
	}
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type fakeProducer struct {
	mu        sync.Mutex
	published []interface{}
	topics    []string
}

func (p *fakeProducer) Publish(_ context.Context, topic, _ string, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.published = append(p.published, value)
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func newTestConsumer(dlq *fakeProducer, reader *fakeReader) *KafkaConsumer {
	cfg := config.KafkaConfig{
		Brokers:  []string{"localhost:9092"},
		GroupID:  "workfeed-test",
		DLQTopic: "work_item_events_dlq",
		Retry: config.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2,
		},
	}
	c := NewKafkaConsumer(cfg, logger.NopLogger())
	c.dlqProducer = dlq
	c.newReader = func(string) messageReader { return reader }
	return c
}

func envelopeMessage(t *testing.T, id string) kafka.Message {
	t.Helper()
	env := models.NewWorkItemDataBuilder().WithID(id).Envelope()
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return kafka.Message{Topic: "work_item_events", Key: []byte(id), Value: body}
}

func TestKafkaConsumer_DeliversAndCommits(t *testing.T) {
	reader := &fakeReader{messages: make(chan kafka.Message, 4)}
	reader.messages <- envelopeMessage(t, "1")
	reader.messages <- kafka.Message{Topic: "work_item_events", Value: []byte("garbage")}

	dlq := &fakeProducer{}
	c := newTestConsumer(dlq, reader)

	var (
		mu  sync.Mutex
		got []models.EventEnvelope
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Consume(ctx, "work_item_events", func(_ context.Context, env models.EventEnvelope) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, env)
			return nil
		})
	}()

	require.Eventually(t, func() bool { return reader.commitCount() == 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, c.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, models.EventNewWorkItem, got[0].Event)
	assert.Empty(t, dlq.published)
}

func TestKafkaConsumer_ExhaustedRetriesGoToDLQ(t *testing.T) {
	reader := &fakeReader{messages: make(chan kafka.Message, 1)}
	dlq := &fakeProducer{}
	c := newTestConsumer(dlq, reader)

	attempts := 0
	c.handleMessage(context.Background(), envelopeMessage(t, "7"), func(context.Context, models.EventEnvelope) error {
		attempts++
		return errors.New("downstream unavailable")
	})

	assert.Equal(t, 3, attempts)
	require.Len(t, dlq.published, 1)
	assert.Equal(t, "work_item_events_dlq", dlq.topics[0])

	letter, ok := dlq.published[0].(DeadLetter)
	require.True(t, ok)
	assert.Equal(t, "work_item_events", letter.SourceTopic)
	assert.Contains(t, letter.Reason, "downstream unavailable")
	assert.Equal(t, models.EventNewWorkItem, letter.Envelope.Event)
}

func TestKafkaConsumer_FatalErrorSkipsRetry(t *testing.T) {
	dlq := &fakeProducer{}
	c := newTestConsumer(dlq, &fakeReader{})

	attempts := 0
	c.handleMessage(context.Background(), envelopeMessage(t, "8"), func(context.Context, models.EventEnvelope) error {
		attempts++
		return retry.NewFatalError(errors.New("missing id"))
	})

	assert.Equal(t, 1, attempts)
	assert.Len(t, dlq.published, 1)
}

func TestKafkaConsumer_PanicIsRecovered(t *testing.T) {
	dlq := &fakeProducer{}
	c := newTestConsumer(dlq, &fakeReader{})

	assert.NotPanics(t, func() {
		c.handleMessage(context.Background(), envelopeMessage(t, "9"), func(context.Context, models.EventEnvelope) error {
			panic("boom")
		})
	})
	assert.Len(t, dlq.published, 1)
}
