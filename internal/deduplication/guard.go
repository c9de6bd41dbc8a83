// Package deduplication decides which replica publishes the notification
// for a work item. The first replica to claim notify:<id> in Redis wins.
package deduplication

import (
	"context"
	"fmt"
	"strings"
	"time"

	"workfeed/internal/config"
	"workfeed/internal/constants"
	"workfeed/internal/logger"
	"workfeed/pkg/metrics"
	"workfeed/pkg/tracing"
)

type Guard struct {
	repo    Repository
	ttl     time.Duration
	onError string
	logger  logger.Logger
}

func NewGuard(repo Repository, cfg config.GuardConfig, log logger.Logger) *Guard {
	ttlSeconds := cfg.TTLSeconds
	if ttlSeconds <= 0 {
		ttlSeconds = constants.DefaultTTLSeconds
	}
	onError := strings.ToLower(cfg.OnRedisError)
	if onError == "" {
		onError = constants.FallbackAllow
	}
	return &Guard{
		repo:    repo,
		ttl:     time.Duration(ttlSeconds) * time.Second,
		onError: onError,
		logger:  log,
	}
}

// Claim reports whether this replica should publish the notification for
// workItemID. On repository errors the configured fallback decides; with
// "deny" the error is returned alongside false.
func (g *Guard) Claim(ctx context.Context, workItemID string) (bool, error) {
	ctx, span := tracing.GetTracer(tracing.TracerNotify).Start(ctx, "notification_guard.claim")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	key := constants.CacheKeyPrefixNotify + workItemID
	start := time.Now()
	claimed, err := g.repo.SetNX(ctx, key, time.Now().Unix(), g.ttl)
	duration := time.Since(start)

	if err != nil {
		metrics.ObserveGuardDuration(duration, "error")
		return g.handleRepositoryError(ctx, err, workItemID)
	}

	status := "duplicate"
	if claimed {
		status = "claimed"
	}
	metrics.ObserveGuardDuration(duration, status)
	return claimed, nil
}

func (g *Guard) handleRepositoryError(ctx context.Context, err error, workItemID string) (bool, error) {
	if g.onError == constants.FallbackAllow {
		metrics.FallbackUsageTotal.WithLabelValues("notification_guard", "allow_on_error").Inc()
		g.logger.WarnwCtx(ctx, "Notification guard unavailable, publishing anyway (fallback: allow)",
			"work_item_id", workItemID,
			"error", err,
		)
		return true, nil
	}

	metrics.FallbackUsageTotal.WithLabelValues("notification_guard", "deny_on_error").Inc()
	return false, fmt.Errorf("notification guard check for %s: %w", workItemID, err)
}

// ClaimedCount is the number of live claims, for the health endpoint.
func (g *Guard) ClaimedCount(ctx context.Context) (int, error) {
	return g.repo.GetCacheSize(ctx, constants.CacheKeyPrefixNotify)
}
