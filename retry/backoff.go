package retry

import (
	"context"
	"math"
	"time"
)

// Sleeper waits for d or until ctx is done, whichever comes first. It returns
// false if ctx ended the wait.
type Sleeper func(ctx context.Context, d time.Duration) bool

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// ExponentialBackOff paces retries. It never refuses a retry by itself, so it
// is meant to be combined with a bounding policy through Aggregate.
type ExponentialBackOff struct {
	base   time.Duration
	max    time.Duration
	factor float64

	// ceiling is the first exponent at which the delay reaches max. It is
	// computed once so large attempt counts never overflow.
	ceiling int

	sleep Sleeper
}

type BackOffOption func(*ExponentialBackOff)

// WithSleeper replaces the wait performed before approving a retry.
func WithSleeper(s Sleeper) BackOffOption {
	return func(p *ExponentialBackOff) {
		p.sleep = s
	}
}

// NewExponentialBackOff waits min(maxMs, baseMs*factor^(attempts-1))
// milliseconds before approving each retry.
func NewExponentialBackOff(baseMs, maxMs int, factor float64, opts ...BackOffOption) (*ExponentialBackOff, error) {
	if baseMs <= 0 {
		return nil, invalidArgument("base delay must be positive, got %d", baseMs)
	}
	if maxMs <= 0 {
		return nil, invalidArgument("maximum delay must be positive, got %d", maxMs)
	}
	if !(factor > 0) || math.IsInf(factor, 0) {
		return nil, invalidArgument("back off factor must be positive, got %v", factor)
	}

	p := &ExponentialBackOff{
		base:    time.Duration(baseMs) * time.Millisecond,
		max:     time.Duration(maxMs) * time.Millisecond,
		factor:  factor,
		ceiling: math.MaxInt32,
		sleep:   sleep,
	}
	if factor > 1 {
		if maxMs <= baseMs {
			p.ceiling = 0
		} else {
			p.ceiling = int(math.Ceil(math.Log(float64(maxMs)/float64(baseMs)) / math.Log(factor)))
		}
	}

	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Delay returns the wait before approving the retry that follows the given
// number of attempts.
func (p *ExponentialBackOff) Delay(attempts int) time.Duration {
	exponent := attempts - 1
	if exponent < 0 {
		exponent = 0
	}
	if exponent >= p.ceiling {
		return p.max
	}

	delay := float64(p.base) * math.Pow(p.factor, float64(exponent))
	if delay >= float64(p.max) {
		return p.max
	}
	return time.Duration(delay)
}

func (p *ExponentialBackOff) ShouldRetry(ctx context.Context, info *Info) bool {
	return p.sleep(ctx, p.Delay(info.Attempts))
}
