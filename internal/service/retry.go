package service

import (
	"context"
	"time"

	"wraith/internal/domain"
)

// RetryPolicy bounds retries of transient embedding and storage failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy makes a single attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// delay returns the backoff before the given retry (1 = first retry).
func (p RetryPolicy) delay(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := p.BaseDelay
	for i := 1; i < retry && d < p.MaxDelay; i++ {
		d <<= 1
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func withRetry[T any](ctx context.Context, p RetryPolicy, onRetry func(attempt int, err error), fn func(context.Context) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := 1; ; attempt++ {
		out, err = fn(ctx)
		if err == nil || attempt >= p.MaxAttempts || !domain.IsTransient(err) || ctx.Err() != nil {
			return out, err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		t := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return out, err
		case <-t.C:
		}
	}
}
