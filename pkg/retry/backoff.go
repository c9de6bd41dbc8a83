package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func ExponentialBackoff(initialInterval, maxInterval time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = 0
	return exp
}

func ExponentialBackoffWithMaxElapsed(initialInterval, maxInterval, maxElapsed time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = maxElapsed
	return exp
}

// ReconnectSchedule is a jitter-free exponential schedule that stops after
// maxAttempts delays: initial, initial*multiplier, ... capped at maxInterval.
// A zero maxInterval leaves growth unbounded.
func ReconnectSchedule(initialInterval, maxInterval time.Duration, multiplier float64, maxAttempts int) backoff.BackOff {
	if maxInterval <= 0 {
		maxInterval = time.Duration(math.MaxInt64)
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.Reset()

	if maxAttempts < 0 {
		maxAttempts = 0
	}
	b := backoff.WithMaxRetries(exp, uint64(maxAttempts))
	b.Reset()
	return b
}
