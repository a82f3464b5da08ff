package retry

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/flipchat-iap/failure"
)

func TestNoRetries(t *testing.T) {
	p := NoRetries()
	for attempts := 0; attempts < 5; attempts++ {
		require.False(t, p.ShouldRetry(context.Background(), &Info{Attempts: attempts}))
	}
}

func TestMaximumNumberOfAttempts(t *testing.T) {
	for _, n := range []int{1, 3, 10} {
		p, err := NewMaximumNumberOfAttempts(n)
		require.NoError(t, err)

		for attempts := 1; attempts <= n; attempts++ {
			require.True(t, p.ShouldRetry(context.Background(), &Info{Attempts: attempts}))
		}
		for attempts := n + 1; attempts <= n+3; attempts++ {
			require.False(t, p.ShouldRetry(context.Background(), &Info{Attempts: attempts}))
		}
	}

	for _, n := range []int{0, -1} {
		_, err := NewMaximumNumberOfAttempts(n)
		require.True(t, failure.Is(err, failure.KindInvalidArgument))
	}
}

func TestTimeLimit(t *testing.T) {
	start := time.Now()
	now := start
	info := newInfo(func() time.Time { return now })

	p, err := NewTimeLimit(1.5)
	require.NoError(t, err)

	require.True(t, p.ShouldRetry(context.Background(), info))

	now = start.Add(1500 * time.Millisecond)
	require.True(t, p.ShouldRetry(context.Background(), info))

	now = start.Add(1501 * time.Millisecond)
	require.False(t, p.ShouldRetry(context.Background(), info))

	for _, seconds := range []float64{0, -2, math.NaN(), math.Inf(1)} {
		_, err := NewTimeLimit(seconds)
		require.True(t, failure.Is(err, failure.KindInvalidArgument))
	}
}

func TestExponentialBackOff_Delay(t *testing.T) {
	p, err := NewExponentialBackOff(1000, 30000, 2)
	require.NoError(t, err)

	require.Equal(t, 1000*time.Millisecond, p.Delay(1))
	require.Equal(t, 2000*time.Millisecond, p.Delay(2))
	require.Equal(t, 16000*time.Millisecond, p.Delay(5))
	require.Equal(t, 30000*time.Millisecond, p.Delay(6))
	require.Equal(t, 30000*time.Millisecond, p.Delay(10))
	require.Equal(t, 30000*time.Millisecond, p.Delay(math.MaxInt32))

	flat, err := NewExponentialBackOff(500, 30000, 1)
	require.NoError(t, err)
	require.Equal(t, 500*time.Millisecond, flat.Delay(1))
	require.Equal(t, 500*time.Millisecond, flat.Delay(100))
}

func TestExponentialBackOff_InvalidArguments(t *testing.T) {
	for _, args := range []struct {
		base, max int
		factor    float64
	}{
		{0, 1000, 2},
		{1000, 0, 2},
		{1000, 1000, 0},
		{1000, 1000, -1},
		{-5, 1000, 2},
	} {
		_, err := NewExponentialBackOff(args.base, args.max, args.factor)
		require.True(t, failure.Is(err, failure.KindInvalidArgument))
	}
}

func TestExponentialBackOff_ShouldRetry(t *testing.T) {
	var waited []time.Duration
	p, err := NewExponentialBackOff(1000, 30000, 2, WithSleeper(func(_ context.Context, d time.Duration) bool {
		waited = append(waited, d)
		return true
	}))
	require.NoError(t, err)

	for attempts := 1; attempts <= 3; attempts++ {
		require.True(t, p.ShouldRetry(context.Background(), &Info{Attempts: attempts}))
	}
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, waited)
}

func TestExponentialBackOff_Cancelled(t *testing.T) {
	p, err := NewExponentialBackOff(60000, 60000, 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.False(t, p.ShouldRetry(ctx, &Info{Attempts: 1}))
}

func TestAggregate_ShortCircuits(t *testing.T) {
	var calls int
	counting := PolicyFunc(func(context.Context, *Info) bool {
		calls++
		return true
	})

	maxAttempts, err := NewMaximumNumberOfAttempts(2)
	require.NoError(t, err)

	p := Aggregate(maxAttempts, counting)

	require.True(t, p.ShouldRetry(context.Background(), &Info{Attempts: 1}))
	require.True(t, p.ShouldRetry(context.Background(), &Info{Attempts: 2}))
	require.False(t, p.ShouldRetry(context.Background(), &Info{Attempts: 3}))
	require.Equal(t, 2, calls)

	require.True(t, Aggregate().ShouldRetry(context.Background(), &Info{Attempts: 1}))
}
