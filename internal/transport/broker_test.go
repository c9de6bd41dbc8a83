package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workfeed/internal/broker"
	"workfeed/pkg/models"
)

type fakeConsumer struct {
	mu      sync.Mutex
	err     error
	topic   string
	handler broker.HandlerFunc
	ctx     context.Context
}

func (c *fakeConsumer) Consume(ctx context.Context, topic string, handler broker.HandlerFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.ctx, c.topic, c.handler = ctx, topic, handler
	return nil
}

func (c *fakeConsumer) Close() error { return nil }

func TestBrokerAdapter_Lifecycle(t *testing.T) {
	consumer := &fakeConsumer{}
	var got []models.EventEnvelope
	adapter := NewBrokerAdapter(consumer, "workfeed.events", func(_ context.Context, env models.EventEnvelope) error {
		got = append(got, env)
		return nil
	}, nil, testLogger())

	adapter.Connect(context.Background())
	status := adapter.Status()
	assert.True(t, status.Connected)
	assert.True(t, status.Enabled)
	assert.Nil(t, status.LastMessage)
	assert.Equal(t, "workfeed.events", consumer.topic)

	env := models.NewWorkItemDataBuilder().WithID("1").Envelope()
	require.NoError(t, consumer.handler(context.Background(), env))
	require.Len(t, got, 1)
	assert.NotNil(t, adapter.Status().LastMessage)

	adapter.Disconnect()
	assert.False(t, adapter.Status().Connected)
	assert.ErrorIs(t, consumer.ctx.Err(), context.Canceled)

	adapter.Disconnect()
}

func TestBrokerAdapter_SubscribeFailure(t *testing.T) {
	consumer := &fakeConsumer{err: errors.New("no brokers")}
	var reported []string
	adapter := NewBrokerAdapter(consumer, "topic", nil, func(_ context.Context, name string, err error) {
		reported = append(reported, name+": "+err.Error())
	}, testLogger())

	adapter.Connect(context.Background())

	status := adapter.Status()
	assert.False(t, status.Connected)
	assert.Contains(t, status.Error, "no brokers")
	require.Len(t, reported, 1)
	assert.Contains(t, reported[0], models.SourceBroker)
}

func TestBrokerAdapter_DisabledWithoutConsumer(t *testing.T) {
	adapter := NewBrokerAdapter(nil, "", nil, nil, testLogger())
	adapter.Connect(context.Background())
	assert.False(t, adapter.Status().Enabled)
	assert.False(t, adapter.Status().Connected)
}
