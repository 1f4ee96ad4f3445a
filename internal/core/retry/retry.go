// Package retry holds the backoff policy shared by the optimistic stores.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

var ErrExhausted = errors.New("retry: attempts exhausted")

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// OnConflict is called every time an attempt loses a race. Optional.
	OnConflict func()
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 10,
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    200 * time.Millisecond,
	}
}

// Do calls attempt until it commits, fails, or the policy runs out of
// attempts. attempt returns committed=false when it lost an optimistic race.
func (p Policy) Do(ctx context.Context, attempt func() (committed bool, err error)) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for i := 0; i < maxAttempts; i++ {
		committed, err := attempt()
		if err != nil {
			return err
		}
		if committed {
			return nil
		}
		if p.OnConflict != nil {
			p.OnConflict()
		}
		if i == maxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(i)):
		}
	}
	return ErrExhausted
}

// delay doubles from BaseDelay, is capped at MaxDelay and jittered by ±25%.
func (p Policy) delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << uint(attempt)
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	if half := int64(d / 2); half > 0 {
		d = d - d/4 + time.Duration(rand.Int64N(half))
	}
	return d
}
