package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workfeed/internal/logger"
	"workfeed/internal/reconciler"
	"workfeed/pkg/logging"
	"workfeed/pkg/models"
	"workfeed/pkg/retry"
)

type recordingSink struct {
	mu  sync.Mutex
	got []models.Notification
}

func (s *recordingSink) Notify(_ context.Context, n models.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, n)
}

func (s *recordingSink) all() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Notification(nil), s.got...)
}

func newIngestor(t *testing.T) (*Ingestor, *reconciler.Reconciler, *recordingSink) {
	t.Helper()
	store, err := reconciler.New(logger.NopLogger())
	require.NoError(t, err)
	sink := &recordingSink{}
	return New(store, sink, logger.NopLogger()), store, sink
}

func socketCtx() context.Context {
	return logging.WithTransport(context.Background(), models.SourceSocket)
}

func TestHandleEnvelope_AcceptsAndNotifies(t *testing.T) {
	ing, store, sink := newIngestor(t)

	env := models.NewWorkItemDataBuilder().
		WithNumericID(42).
		WithSubject("Quote request").
		WithFromEmail("broker@example.com").
		Envelope()
	ing.HandleEnvelope(socketCtx(), env)

	fresh := store.NewWorkItems()
	require.Len(t, fresh, 1)
	assert.Equal(t, "42", fresh[0].ID)
	assert.Equal(t, models.SourceSocket, fresh[0].Source)
	assert.Equal(t, models.DefaultOwner, fresh[0].Owner)

	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, models.NotificationNewWorkItem, got[0].Kind)
	assert.Equal(t, "New work item: Quote request from broker@example.com", got[0].Message)
	assert.Equal(t, "42", got[0].WorkItemID)
	assert.NotEmpty(t, got[0].ID)
}

func TestHandleEnvelope_DuplicateAcrossTransports(t *testing.T) {
	ing, store, sink := newIngestor(t)

	env := models.NewWorkItemDataBuilder().WithNumericID(7).WithSubject("A").Envelope()
	ing.HandleEnvelope(socketCtx(), env)

	again := models.NewWorkItemDataBuilder().WithID("7").WithSubject("B").Envelope()
	ing.HandleEnvelope(logging.WithTransport(context.Background(), models.SourceSSE), again)

	all := store.AllWorkItems()
	require.Len(t, all, 1)
	assert.Len(t, store.NewWorkItems(), 1)
	assert.Equal(t, "A", store.NewWorkItems()[0].Subject)
	assert.Len(t, sink.all(), 1)
}

func TestHandleEnvelope_DropsInvalid(t *testing.T) {
	ing, store, sink := newIngestor(t)

	tests := []struct {
		name string
		env  models.EventEnvelope
	}{
		{"other event", models.EventEnvelope{Event: "heartbeat", Data: json.RawMessage(`{}`)}},
		{"missing id", models.EventEnvelope{Event: models.EventNewWorkItem, Data: json.RawMessage(`{"subject":"x"}`)}},
		{"bad data", models.EventEnvelope{Event: models.EventNewWorkItem, Data: json.RawMessage(`[1,2]`)}},
		{"object id", models.EventEnvelope{Event: models.EventNewWorkItem, Data: json.RawMessage(`{"id":{"a":1}}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing.HandleEnvelope(socketCtx(), tt.env)
		})
	}

	assert.Empty(t, store.AllWorkItems())
	assert.Empty(t, sink.all())
}

func TestIngest_BrokerErrorsAreFatal(t *testing.T) {
	ing, store, _ := newIngestor(t)

	err := ing.Ingest(context.Background(), models.EventEnvelope{
		Event: models.EventNewWorkItem,
		Data:  json.RawMessage(`{"subject":"no id"}`),
	})
	require.Error(t, err)
	var fatal retry.FatalError
	assert.True(t, errors.As(err, &fatal))

	require.NoError(t, ing.Ingest(context.Background(), models.EventEnvelope{Event: "ping"}))

	env := models.NewWorkItemDataBuilder().WithID("b-1").Envelope()
	require.NoError(t, ing.Ingest(context.Background(), env))
	require.Len(t, store.NewWorkItems(), 1)
	assert.Equal(t, models.SourceBroker, store.NewWorkItems()[0].Source)
}

func TestSeed_KnownButNotNew(t *testing.T) {
	ing, store, sink := newIngestor(t)

	ing.Seed(context.Background(), []models.WorkItemData{
		models.NewWorkItemDataBuilder().WithNumericID(3).Build(),
		models.NewWorkItemDataBuilder().WithNumericID(2).Build(),
		{Subject: "no id"},
	})

	assert.Len(t, store.AllWorkItems(), 2)
	assert.Empty(t, store.NewWorkItems())
	assert.Empty(t, sink.all())

	// A seeded id arriving later is a duplicate.
	ing.HandleEnvelope(socketCtx(), models.NewWorkItemDataBuilder().WithNumericID(3).Envelope())
	assert.Empty(t, store.NewWorkItems())
}

func TestMerge_NotifiesOncePerUnknownItem(t *testing.T) {
	ing, store, sink := newIngestor(t)
	ctx := logging.WithTransport(context.Background(), models.SourceIdentity)

	ing.HandleEnvelope(socketCtx(), models.NewWorkItemDataBuilder().WithNumericID(11).Envelope())
	require.Len(t, sink.all(), 1)

	ing.Merge(ctx, []models.WorkItemData{
		models.NewWorkItemDataBuilder().WithNumericID(13).WithSubject("newest").Build(),
		models.NewWorkItemDataBuilder().WithNumericID(12).WithSubject("older").Build(),
		models.NewWorkItemDataBuilder().WithNumericID(11).Build(),
		{Subject: "no id"},
	})

	got := sink.all()[1:]
	require.Len(t, got, 2)
	assert.Equal(t, "12", got[0].WorkItemID)
	assert.Equal(t, "13", got[1].WorkItemID)
	assert.Equal(t, models.SourceIdentity, got[0].Source)

	fresh := store.NewWorkItems()
	require.Len(t, fresh, 3)
	assert.Equal(t, "13", fresh[0].ID)
	assert.Equal(t, "12", fresh[1].ID)
	assert.Equal(t, "11", fresh[2].ID)

	ing.Merge(ctx, []models.WorkItemData{models.NewWorkItemDataBuilder().WithNumericID(13).Build()})
	assert.Len(t, sink.all(), 3)
}

func TestTransportError_NotifiesOncePerError(t *testing.T) {
	ing, _, sink := newIngestor(t)

	ing.TransportError(context.Background(), models.SourceSSE, errors.New("stream ended"))
	ing.TransportError(context.Background(), models.SourceSSE, errors.New("stream ended"))
	ing.TransportError(context.Background(), models.SourceSSE, nil)

	got := sink.all()
	require.Len(t, got, 2)
	assert.Equal(t, models.NotificationConnectionError, got[0].Kind)
	assert.Contains(t, got[0].Message, "stream ended")
	assert.NotEqual(t, got[0].ID, got[1].ID)
}

func TestSummary_UnknownSender(t *testing.T) {
	assert.Equal(t, "New work item: Hi from unknown sender", Summary(models.WorkItemUpdate{Subject: "Hi"}))
}
