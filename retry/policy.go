package retry

import (
	"context"
	"math"
	"time"

	"github.com/code-payments/flipchat-iap/failure"
)

// Info is the state handed to a retry decision. It is created once per
// logical operation and updated on every failed attempt.
type Info struct {
	Attempts     int
	FirstAttempt time.Time

	now func() time.Time
}

func NewInfo() *Info {
	return newInfo(time.Now)
}

func newInfo(now func() time.Time) *Info {
	return &Info{
		FirstAttempt: now(),
		now:          now,
	}
}

// Elapsed returns the time since the first attempt.
func (i *Info) Elapsed() time.Duration {
	now := time.Now
	if i.now != nil {
		now = i.now
	}
	return now().Sub(i.FirstAttempt)
}

// Policy decides whether a failed operation should be attempted again.
// ShouldRetry may block, for example to pace retries, and must give up early
// when ctx is done.
type Policy interface {
	ShouldRetry(ctx context.Context, info *Info) bool
}

// PolicyFunc is an adapter to allow the use of ordinary
// functions as Policies.
type PolicyFunc func(ctx context.Context, info *Info) bool

// ShouldRetry calls f(ctx, info).
func (f PolicyFunc) ShouldRetry(ctx context.Context, info *Info) bool {
	return f(ctx, info)
}

func invalidArgument(format string, args ...any) error {
	return failure.New(failure.KindInvalidArgument, "retry.NewPolicy", format, args...)
}

// NoRetries never retries.
func NoRetries() Policy {
	return PolicyFunc(func(context.Context, *Info) bool {
		return false
	})
}

type maximumNumberOfAttempts struct {
	max int
}

func NewMaximumNumberOfAttempts(n int) (Policy, error) {
	if n <= 0 {
		return nil, invalidArgument("maximum number of attempts must be positive, got %d", n)
	}
	return &maximumNumberOfAttempts{max: n}, nil
}

func (p *maximumNumberOfAttempts) ShouldRetry(_ context.Context, info *Info) bool {
	return info.Attempts <= p.max
}

type timeLimit struct {
	limit time.Duration
}

// NewTimeLimit allows retries until seconds have passed since the first
// attempt.
func NewTimeLimit(seconds float64) (Policy, error) {
	if !(seconds > 0) || math.IsInf(seconds, 0) {
		return nil, invalidArgument("time limit must be positive, got %v", seconds)
	}
	return &timeLimit{limit: time.Duration(seconds * float64(time.Second))}, nil
}

func (p *timeLimit) ShouldRetry(_ context.Context, info *Info) bool {
	return info.Elapsed() <= p.limit
}

type aggregate []Policy

// Aggregate retries only if every policy agrees. Policies run in order and
// evaluation stops at the first refusal, so later policies never pace a retry
// that will not happen.
func Aggregate(policies ...Policy) Policy {
	return aggregate(policies)
}

func (a aggregate) ShouldRetry(ctx context.Context, info *Info) bool {
	for _, p := range a {
		if !p.ShouldRetry(ctx, info) {
			return false
		}
	}
	return true
}
