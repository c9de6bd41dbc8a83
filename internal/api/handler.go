// Package api serves the reconciler to local consumers over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"workfeed/internal/logger"
	"workfeed/internal/reconciler"
	"workfeed/internal/transport"
	apperrors "workfeed/pkg/errors"
	"workfeed/pkg/health"
)

const (
	streamBuffer  = 8
	snapshotEvent = "snapshot"
)

// StatusSource is anything that can report a transport status.
type StatusSource interface {
	Status() transport.Status
}

type Handler struct {
	store      *reconciler.Reconciler
	transports []StatusSource
	health     *health.CheckerRegistry
	logger     logger.Logger

	streamsDone chan struct{}
	closeOnce   sync.Once
}

func NewHandler(store *reconciler.Reconciler, transports []StatusSource, checks *health.CheckerRegistry, log logger.Logger) *Handler {
	if checks == nil {
		checks = health.NewCheckerRegistry()
	}
	return &Handler{
		store:       store,
		transports:  transports,
		health:      checks,
		logger:      log,
		streamsDone: make(chan struct{}),
	}
}

// CloseStreams ends every open snapshot stream. Register it with
// http.Server.RegisterOnShutdown so Shutdown does not wait on them.
func (h *Handler) CloseStreams() {
	h.closeOnce.Do(func() { close(h.streamsDone) })
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		items := v1.Group("/workitems")
		{
			items.GET("", h.ListWorkItems)
			items.GET("/stream", h.StreamWorkItems)
			items.GET("/new", h.ListNewWorkItems)
			items.DELETE("/new", h.ClearNewWorkItems)
			items.POST("/new/:id/ack", h.AcknowledgeWorkItem)
			items.GET("/:id", h.GetWorkItem)
		}

		v1.GET("/transports", h.ListTransports)
	}

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	status := apperrors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.logger.DebugwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}
	c.JSON(status, apperrors.ToErrorResponse(err))
}

// ListWorkItems returns all known work items, filtered and sorted by the
// query parameters search, priority, status, owner, type, filter, sort and
// order.
func (h *Handler) ListWorkItems(c *gin.Context) {
	opts := reconciler.QueryOptions{
		Search:     c.Query("search"),
		Priority:   c.Query("priority"),
		Status:     c.Query("status"),
		Owner:      c.Query("owner"),
		Type:       c.Query("type"),
		Filter:     c.Query("filter"),
		SortBy:     c.Query("sort"),
		Descending: strings.EqualFold(c.Query("order"), "desc"),
	}

	items, err := h.store.Query(c.Request.Context(), opts)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			h.HandleError(c, apperrors.ErrTimeout.WithCause(err))
			return
		}
		h.HandleError(c, apperrors.ErrValidation.WithCause(err).WithDetail("message", err.Error()))
		return
	}
	c.JSON(http.StatusOK, items)
}

// StreamWorkItems sends the current snapshot as a server-sent event and then
// one event per reconciler mutation until the client goes away. Snapshots
// carry a version; a slow client may skip versions but always gets the latest.
func (h *Handler) StreamWorkItems(c *gin.Context) {
	updates, cancel := h.store.Subscribe(streamBuffer)
	defer cancel()

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent(snapshotEvent, h.store.Snapshot())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-h.streamsDone:
			return false
		case snap, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent(snapshotEvent, snap)
			return true
		}
	})
	h.logger.DebugwCtx(ctx, "Snapshot stream closed")
}

func (h *Handler) GetWorkItem(c *gin.Context) {
	id := c.Param("id")
	item, ok := h.store.Lookup(id)
	if !ok {
		h.HandleError(c, apperrors.ErrNotFound.WithDetail("id", id))
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) ListNewWorkItems(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.NewWorkItems())
}

func (h *Handler) AcknowledgeWorkItem(c *gin.Context) {
	id := c.Param("id")
	if !h.store.AcknowledgeNewWorkItem(id) {
		h.HandleError(c, apperrors.ErrNotFound.WithDetail("id", id))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ClearNewWorkItems(c *gin.Context) {
	h.store.ClearNewWorkItems()
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListTransports(c *gin.Context) {
	statuses := make([]transport.Status, 0, len(h.transports))
	for _, t := range h.transports {
		statuses = append(statuses, t.Status())
	}
	c.JSON(http.StatusOK, statuses)
}

func (h *Handler) Health(c *gin.Context) {
	result := h.health.Check(c.Request.Context())
	statusCode := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, result)
}
