// Package ingest is the single entry point for work-item events. Every
// transport hands its envelopes to an Ingestor, which normalizes them,
// reconciles them and notifies.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"workfeed/internal/logger"
	"workfeed/internal/normalizer"
	"workfeed/internal/notify"
	"workfeed/internal/reconciler"
	"workfeed/pkg/logging"
	"workfeed/pkg/metrics"
	"workfeed/pkg/models"
	"workfeed/pkg/retry"
	"workfeed/pkg/tracing"
)

const unknownSender = "unknown sender"

// ErrUnsupportedEvent is returned by Ingest for envelopes other than
// new_workitem. HandleEnvelope ignores them.
var ErrUnsupportedEvent = errors.New("unsupported event")

type Ingestor struct {
	store  *reconciler.Reconciler
	sink   notify.Sink
	logger logger.Logger
	now    func() time.Time
}

func New(store *reconciler.Reconciler, sink notify.Sink, log logger.Logger) *Ingestor {
	return &Ingestor{
		store:  store,
		sink:   sink,
		logger: log,
		now:    time.Now,
	}
}

// HandleEnvelope is the transport.Handler for every adapter. The source is
// taken from the transport name carried by ctx.
func (i *Ingestor) HandleEnvelope(ctx context.Context, env models.EventEnvelope) {
	if err := i.ingest(ctx, env, sourceOf(ctx)); err != nil && !errors.Is(err, ErrUnsupportedEvent) {
		i.logger.WarnwCtx(ctx, "Dropped work item event", "event", env.Event, "error", err)
	}
}

// Ingest is the broker handler. Events that can never succeed are returned as
// fatal so the consumer does not retry them.
func (i *Ingestor) Ingest(ctx context.Context, env models.EventEnvelope) error {
	ctx = logging.WithTransport(ctx, models.SourceBroker)
	if err := i.ingest(ctx, env, models.SourceBroker); err != nil {
		if errors.Is(err, ErrUnsupportedEvent) {
			return nil
		}
		return retry.NewFatalError(err)
	}
	return nil
}

func (i *Ingestor) ingest(ctx context.Context, env models.EventEnvelope, source string) error {
	if env.Event != models.EventNewWorkItem {
		i.logger.DebugwCtx(ctx, "Ignoring event", "event", env.Event)
		return ErrUnsupportedEvent
	}

	ctx, span := tracing.GetTracer(tracing.TracerIngest).Start(ctx, "ingest.work_item")
	defer span.End()
	span.SetAttributes(tracing.AttrSource.String(source))

	start := i.now()

	data, err := normalizer.DecodeData(env)
	if err != nil {
		return i.reject(ctx, span, source, "decode", err)
	}
	update, err := normalizer.Normalize(data, source)
	if err != nil {
		return i.reject(ctx, span, source, "normalize", err)
	}

	ctx = logging.WithWorkItemID(ctx, update.ID)
	span.SetAttributes(tracing.AttrWorkItemID.String(update.ID))

	accepted := i.store.AddNewWorkItem(update)
	metrics.ObserveIngestDuration(source, time.Since(start))
	span.SetAttributes(tracing.AttrAccepted.Bool(accepted))
	if !accepted {
		i.logger.DebugwCtx(ctx, "Duplicate work item ignored")
		return nil
	}

	metrics.WorkItemsIngestedTotal.WithLabelValues(source).Inc()
	i.logger.InfowCtx(ctx, "Work item received", "subject", update.Subject)
	i.notify(ctx, i.workItemNotification(update))
	return nil
}

func (i *Ingestor) reject(ctx context.Context, span trace.Span, source, reason string, err error) error {
	metrics.WorkItemsRejectedTotal.WithLabelValues(source, reason).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	return fmt.Errorf("%s work item: %w", reason, err)
}

// Seed loads the initial page of the identity poller. Seeded items are known
// but not new, so no notifications are sent for them.
func (i *Ingestor) Seed(ctx context.Context, items []models.WorkItemData) {
	source := batchSource(ctx)
	added := i.store.SeedWorkItems(i.normalizeBatch(ctx, source, items))
	i.logger.InfowCtx(ctx, "Seeded work items", "received", len(items), "added", len(added))
}

// Merge reconciles a newest-first page from the identity poller in one step
// and sends one notification per item that was not known before, oldest
// first.
func (i *Ingestor) Merge(ctx context.Context, items []models.WorkItemData) {
	source := batchSource(ctx)

	ctx, span := tracing.GetTracer(tracing.TracerIngest).Start(ctx, "ingest.merge")
	defer span.End()
	span.SetAttributes(
		tracing.AttrSource.String(source),
		tracing.AttrBatchSize.Int(len(items)),
	)

	start := i.now()
	accepted := i.store.MergeWorkItems(i.normalizeBatch(ctx, source, items))
	metrics.ObserveIngestDuration(source, time.Since(start))
	span.SetAttributes(tracing.AttrAcceptedCount.Int(len(accepted)))

	for n := len(accepted) - 1; n >= 0; n-- {
		update := accepted[n]
		metrics.WorkItemsIngestedTotal.WithLabelValues(source).Inc()
		i.logger.InfowCtx(logging.WithWorkItemID(ctx, update.ID), "Work item received", "subject", update.Subject)
		i.notify(ctx, i.workItemNotification(update))
	}
	if len(accepted) < len(items) {
		i.logger.DebugwCtx(ctx, "Merged work item page", "received", len(items), "added", len(accepted))
	}
}

func (i *Ingestor) normalizeBatch(ctx context.Context, source string, items []models.WorkItemData) []models.WorkItemUpdate {
	batch := make([]models.WorkItemUpdate, 0, len(items))
	for _, data := range items {
		update, err := normalizer.Normalize(data, source)
		if err != nil {
			metrics.WorkItemsRejectedTotal.WithLabelValues(source, "normalize").Inc()
			i.logger.WarnwCtx(ctx, "Skipping work item", "error", err)
			continue
		}
		batch = append(batch, update)
	}
	return batch
}

// TransportError sends one connection-error notification per reported error.
func (i *Ingestor) TransportError(ctx context.Context, source string, err error) {
	if err == nil {
		return
	}
	i.notify(ctx, models.Notification{
		ID:        uuid.New().String(),
		Kind:      models.NotificationConnectionError,
		Title:     "Connection error",
		Message:   fmt.Sprintf("%s connection error: %v", source, err),
		Source:    source,
		Timestamp: i.now(),
	})
}

func (i *Ingestor) workItemNotification(update models.WorkItemUpdate) models.Notification {
	return models.Notification{
		ID:         uuid.New().String(),
		Kind:       models.NotificationNewWorkItem,
		Title:      "New work item",
		Message:    Summary(update),
		WorkItemID: update.ID,
		Source:     update.Source,
		Timestamp:  i.now(),
	}
}

func (i *Ingestor) notify(ctx context.Context, n models.Notification) {
	if i.sink == nil {
		return
	}
	i.sink.Notify(ctx, n)
}

// Summary is the one-line text shown for a new work item.
func Summary(update models.WorkItemUpdate) string {
	sender := update.FromEmail
	if sender == "" {
		sender = unknownSender
	}
	return fmt.Sprintf("New work item: %s from %s", update.Subject, sender)
}

func sourceOf(ctx context.Context) string {
	return logging.GetTransport(ctx)
}

func batchSource(ctx context.Context) string {
	if source := sourceOf(ctx); source != "" {
		return source
	}
	return models.SourceIdentity
}
