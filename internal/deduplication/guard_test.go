package deduplication

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workfeed/internal/config"
	"workfeed/internal/logger"
)

type failingRepository struct {
	calls int
}

func (r *failingRepository) SetNX(context.Context, string, interface{}, time.Duration) (bool, error) {
	r.calls++
	return false, errors.New("connection refused")
}

func (r *failingRepository) GetCacheSize(context.Context, string) (int, error) {
	return 0, errors.New("connection refused")
}

func TestGuard_FirstClaimWins(t *testing.T) {
	guard := NewGuard(NewMemoryRepository(), config.GuardConfig{TTLSeconds: 60}, logger.NopLogger())
	ctx := context.Background()

	first, err := guard.Claim(ctx, "42")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := guard.Claim(ctx, "42")
	require.NoError(t, err)
	assert.False(t, second)

	other, err := guard.Claim(ctx, "43")
	require.NoError(t, err)
	assert.True(t, other)

	count, err := guard.ClaimedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestGuard_Fallback(t *testing.T) {
	tests := []struct {
		name        string
		onError     string
		wantClaimed bool
		wantErr     bool
	}{
		{"default allows", "", true, false},
		{"allow", "allow", true, false},
		{"deny", "DENY", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard := NewGuard(&failingRepository{}, config.GuardConfig{OnRedisError: tt.onError}, logger.NopLogger())
			claimed, err := guard.Claim(context.Background(), "1")
			assert.Equal(t, tt.wantClaimed, claimed)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGuard_CanceledContext(t *testing.T) {
	repo := &failingRepository{}
	guard := NewGuard(repo, config.GuardConfig{}, logger.NopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := guard.Claim(ctx, "1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, repo.calls)
}

func TestMemoryRepository_Expiry(t *testing.T) {
	repo := NewMemoryRepository()
	now := time.Unix(1_700_000_000, 0)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := repo.SetNX(ctx, "notify:1", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = repo.SetNX(ctx, "notify:1", 1, time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = repo.SetNX(ctx, "notify:1", 1, time.Minute)
	assert.True(t, ok)
}

func TestCircuitBreakerRepository_OpensAfterFailures(t *testing.T) {
	repo := &failingRepository{}
	cb := NewCircuitBreakerRepository(repo, config.CircuitBreakerConfig{
		Enabled:      true,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := cb.SetNX(ctx, "notify:1", 1, time.Minute)
		require.Error(t, err)
	}
	assert.True(t, cb.IsOpen())

	_, err := cb.SetNX(ctx, "notify:1", 1, time.Minute)
	require.Error(t, err)
	assert.Equal(t, 2, repo.calls)
	assert.Contains(t, err.Error(), "circuit breaker redis-notify-guard is open")
}

func TestCircuitBreakerRepository_Disabled(t *testing.T) {
	cb := NewCircuitBreakerRepository(NewMemoryRepository(), config.CircuitBreakerConfig{})
	assert.Equal(t, "disabled", cb.State())

	ok, err := cb.SetNX(context.Background(), "notify:1", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
