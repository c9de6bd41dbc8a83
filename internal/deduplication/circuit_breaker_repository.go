package deduplication

import (
	"context"
	"time"

	"workfeed/internal/config"
	"workfeed/pkg/circuitbreaker"
)

const breakerName = "redis-notify-guard"

// CircuitBreakerRepository fails fast while Redis is unhealthy so the guard
// falls back without waiting on timeouts.
type CircuitBreakerRepository struct {
	repo Repository
	cb   *circuitbreaker.Wrapper
}

func NewCircuitBreakerRepository(repo Repository, cfg config.CircuitBreakerConfig) *CircuitBreakerRepository {
	r := &CircuitBreakerRepository{repo: repo}
	if cfg.Enabled {
		r.cb = circuitbreaker.NewWrapper(circuitbreaker.FromConfig(breakerName, cfg))
	}
	return r
}

func (r *CircuitBreakerRepository) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if r.cb == nil {
		return r.repo.SetNX(ctx, key, value, ttl)
	}
	return circuitbreaker.Execute(ctx, r.cb, func() (bool, error) {
		return r.repo.SetNX(ctx, key, value, ttl)
	})
}

func (r *CircuitBreakerRepository) GetCacheSize(ctx context.Context, prefix string) (int, error) {
	if r.cb == nil {
		return r.repo.GetCacheSize(ctx, prefix)
	}
	return circuitbreaker.Execute(ctx, r.cb, func() (int, error) {
		return r.repo.GetCacheSize(ctx, prefix)
	})
}

func (r *CircuitBreakerRepository) State() string {
	if r.cb == nil {
		return "disabled"
	}
	return r.cb.State().String()
}

func (r *CircuitBreakerRepository) IsOpen() bool {
	if r.cb == nil {
		return false
	}
	return r.cb.IsOpen()
}
