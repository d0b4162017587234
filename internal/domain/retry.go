package domain

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy controls requeue delays for retryable send failures.
type RetryPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// Jitter is the randomization factor in [0,1); 0 gives deterministic delays.
	Jitter float64
	// Automatic requeues retryable failures without operator action.
	Automatic bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:  30 * time.Second,
		MaxDelay:   30 * time.Minute,
		Multiplier: 2,
		Jitter:     0.2,
		Automatic:  true,
	}
}

// Delay returns the wait before attempt number retry (1-based).
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = 24 * time.Hour
	}
	b.Reset()
	var d time.Duration
	for i := 0; i < retry; i++ {
		d = b.NextBackOff()
	}
	if d < 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	return d
}
