// Package retry provides an injectable retry [Policy] with exponential or
// decorrelated-jitter backoff. A Policy is a plain value: it carries no
// state between calls and is safe to share across goroutines.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 2

	// DefaultBaseDelay is the median first retry delay.
	DefaultBaseDelay = time.Second

	// DefaultMaxDelay caps any single delay.
	DefaultMaxDelay = 30 * time.Second
)

// Strategy selects how delays grow between attempts.
type Strategy int

const (
	// DecorrelatedJitter spreads retries so that many callers failing at the
	// same moment do not retry in lockstep.
	DecorrelatedJitter Strategy = iota

	// Exponential doubles the delay each attempt with 50 to 100 percent jitter.
	Exponential
)

// String returns the config name of the strategy.
func (s Strategy) String() string {
	switch s {
	case Exponential:
		return "exponential"
	default:
		return "decorrelated_jitter"
	}
}

// ParseStrategy maps a config name to a Strategy. The empty string selects
// DecorrelatedJitter.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "", "decorrelated_jitter":
		return DecorrelatedJitter, nil
	case "exponential":
		return Exponential, nil
	default:
		return 0, fmt.Errorf("unknown retry strategy %q", name)
	}
}

// Policy describes how often and how patiently a unit of work is retried.
type Policy struct {
	// MaxRetries is the number of retries beyond the first attempt.
	MaxRetries int

	// BaseDelay is the first (median) retry delay.
	BaseDelay time.Duration

	// MaxDelay caps a single delay. Zero means DefaultMaxDelay.
	MaxDelay time.Duration

	Strategy Strategy
}

// DefaultPolicy returns 2 retries, 1s base delay, decorrelated jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Strategy:   DecorrelatedJitter,
	}
}

// Attempts returns the total number of calls Do will make at most.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Do calls fn until it succeeds, returns a [Permanent] error, the retries are
// exhausted, or ctx is done. It returns the number of calls made and nil on
// success, or a wrapped error containing the last failure.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	maxAttempts := p.Attempts()
	delays := p.Delays()

	var lastErr error
	for attempt := range maxAttempts {
		if err := ctx.Err(); err != nil {
			return attempt, fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt + 1, nil
		}
		if IsPermanent(lastErr) {
			return attempt + 1, fmt.Errorf("attempt %d failed permanently: %w", attempt+1, lastErr)
		}

		if attempt < maxAttempts-1 {
			timer := time.NewTimer(delays[attempt])
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt + 1, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}
	}
	return maxAttempts, fmt.Errorf("all %d attempts failed: %w", maxAttempts, lastErr)
}

// Delays returns the wait before each retry, one entry per retry. Each call
// draws fresh jitter.
func (p Policy) Delays() []time.Duration {
	n := p.MaxRetries
	if n <= 0 {
		return nil
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	switch p.Strategy {
	case Exponential:
		out := make([]time.Duration, n)
		for i := range n {
			out[i] = exponentialDelay(p.BaseDelay, maxDelay, i)
		}
		return out
	default:
		return decorrelatedJitter(p.BaseDelay, maxDelay, n)
	}
}

// exponentialDelay computes base·2^attempt capped at maxDelay, then picks a
// value uniformly in [delay/2, delay).
func exponentialDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	delay := base << attempt
	if delay <= 0 || delay > maxDelay {
		delay = maxDelay
	}
	half := int64(delay) / 2
	if half <= 0 {
		return delay
	}
	return time.Duration(half + rand.Int64N(half)) //nolint:gosec // jitter does not need crypto/rand
}

// decorrelatedJitter follows the curve 2^t·tanh(√(4t)) sampled at
// t = attempt + U[0,1), differenced and scaled so the median first delay is
// close to base. Successive delays grow roughly exponentially while staying
// decorrelated between callers.
func decorrelatedJitter(base, maxDelay time.Duration, retries int) []time.Duration {
	const (
		pFactor         = 4.0
		rpScalingFactor = 1 / 1.4
	)

	out := make([]time.Duration, retries)
	target := float64(base)
	prev := 0.0
	for i := range retries {
		t := float64(i) + rand.Float64() //nolint:gosec // jitter does not need crypto/rand
		next := math.Pow(2, t) * math.Tanh(math.Sqrt(pFactor*t))
		d := (next - prev) * rpScalingFactor * target
		prev = next

		switch {
		case d < 0:
			d = 0
		case d > float64(maxDelay):
			d = float64(maxDelay)
		}
		out[i] = time.Duration(d)
	}
	return out
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that [Policy.Do] stops retrying. Permanent(nil)
// returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or any error it wraps, was marked with
// [Permanent].
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
