package stream

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/chronicle-sh/chronicle/internal/platform/errors"
)

// Retry defaults, applied per field when unset.
const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = 100 * time.Millisecond
	defaultMaxDelay     = 30 * time.Second
	defaultMultiplier   = 2.0
)

// RetryPolicy bounds processing attempts with exponential backoff. Delays
// grow by Multiplier per attempt, capped at MaxDelay, with a small jitter so
// competing consumers do not retry in lockstep.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = defaultMultiplier
	}
	return p
}

// Delay returns the backoff before the next attempt, where attempt counts
// completed attempts starting at 1. Jitter adds at most a tenth of the base
// delay, so delays stay strictly increasing until the cap.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	base := time.Duration(delay)
	if base >= p.MaxDelay {
		return p.MaxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(base)/10 + 1))
	if base+jitter > p.MaxDelay {
		return p.MaxDelay
	}
	return base + jitter
}

// Do runs fn until it succeeds or the attempt budget is exhausted, sleeping
// the policy delay between attempts. Context cancellation aborts the wait
// and returns ctx.Err. Exhaustion wraps the last attempt error with the
// DeliveryExhausted code.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	p = p.normalized()
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == p.MaxAttempts {
			break
		}
		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return errors.Wrap(errors.CodeDeliveryExhausted,
		fmt.Sprintf("retry budget exhausted after %d attempts", p.MaxAttempts), lastErr)
}
