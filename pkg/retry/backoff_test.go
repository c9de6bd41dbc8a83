package retry

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
)

func drain(b backoff.BackOff) []time.Duration {
	var delays []time.Duration
	for i := 0; i < 20; i++ {
		next := b.NextBackOff()
		if next == backoff.Stop {
			break
		}
		delays = append(delays, next)
	}
	return delays
}

func TestReconnectSchedule_Capped(t *testing.T) {
	b := ReconnectSchedule(time.Second, 30*time.Second, 2, 7)

	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}, drain(b))
}

func TestReconnectSchedule_UnboundedGrowth(t *testing.T) {
	b := ReconnectSchedule(3*time.Second, 0, 2, 5)

	assert.Equal(t, []time.Duration{
		3 * time.Second,
		6 * time.Second,
		12 * time.Second,
		24 * time.Second,
		48 * time.Second,
	}, drain(b))
}

func TestReconnectSchedule_ResetRestarts(t *testing.T) {
	b := ReconnectSchedule(time.Second, 30*time.Second, 2, 2)
	drain(b)

	b.Reset()
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, drain(b))
}
