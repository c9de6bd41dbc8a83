package transport

import (
	"context"

	"workfeed/internal/logger"
	apperrors "workfeed/pkg/errors"
	"workfeed/pkg/logging"
	"workfeed/pkg/metrics"
	"workfeed/pkg/models"
)

// dispatch hands env to the handler. A panicking handler is logged and the
// read loop carries on with the next message.
func dispatch(ctx context.Context, log logger.Logger, name string, handler Handler, env models.EventEnvelope) {
	if handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			err := apperrors.RecoverPanic(r)
			metrics.IncTransportError(name, "handler_panic")
			log.ErrorwCtx(ctx, "Event handler panicked", "event", env.Event, "error", err)
		}
	}()
	handler(logging.WithTransport(ctx, name), env)
}

// dispatchBatch is dispatch for pollers that hand over a whole page.
func dispatchBatch(ctx context.Context, log logger.Logger, name string, fn BatchFunc, items []models.WorkItemData) {
	if fn == nil || len(items) == 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			err := apperrors.RecoverPanic(r)
			metrics.IncTransportError(name, "handler_panic")
			log.ErrorwCtx(ctx, "Batch handler panicked", "items", len(items), "error", err)
		}
	}()
	fn(logging.WithTransport(ctx, name), items)
}

func reportError(ctx context.Context, onError ErrorHandler, name string, err error) {
	if onError == nil || err == nil {
		return
	}
	onError(ctx, name, err)
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
