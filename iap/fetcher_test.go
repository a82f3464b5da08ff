package iap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/flipchat-iap/catalog"
	"github.com/code-payments/flipchat-iap/correlation"
	"github.com/code-payments/flipchat-iap/failure"
	"github.com/code-payments/flipchat-iap/model"
	"github.com/code-payments/flipchat-iap/retry"
)

type fetchResults struct {
	successes [][]*model.Product
	failures  []*FetchFailure
}

func (r *fetchResults) onSuccess(products []*model.Product) {
	r.successes = append(r.successes, products)
}

func (r *fetchResults) onFailure(f *FetchFailure) {
	r.failures = append(r.failures, f)
}

func newTestFetcher(h *harness, store *fakeStore, opts ...correlation.Option) *ProductFetcher {
	return NewProductFetcher(h.log, store, h.loop, catalog.NewCache(time.Minute), time.Minute, opts...)
}

func ids(products []*model.Product) []string {
	var result []string
	for _, p := range products {
		result = append(result, p.Definition.ID)
	}
	return result
}

func defIDs(definitions []*model.ProductDefinition) []string {
	var result []string
	for _, d := range definitions {
		result = append(result, d.ID)
	}
	return result
}

func TestProductFetcher_SingleFlight(t *testing.T) {
	h := newHarness(t)
	store := newFakeStore("FakeStore")
	f := newTestFetcher(h, store)

	a := definition("a", model.ProductTypeConsumable)
	b := definition("b", model.ProductTypeNonConsumable)

	first := &fetchResults{}
	second := &fetchResults{}
	h.do(func() {
		require.NoError(t, f.FetchProducts(context.Background(), []*model.ProductDefinition{a}, first.onSuccess, first.onFailure, nil))
		require.True(t, f.InProgress())

		// A fetch for entirely different products is still rejected.
		err := f.FetchProducts(context.Background(), []*model.ProductDefinition{b}, second.onSuccess, second.onFailure, nil)
		require.True(t, failure.Is(err, failure.KindDuplicateRequest))
		require.Equal(t, "fetch already in progress", failure.MessageOf(err))
	})
	require.Equal(t, 1, store.fetchCount())

	h.do(func() {
		f.OnProductsRetrieved([]*model.ProductDescription{description(a)})

		require.Len(t, first.successes, 1)
		require.Equal(t, []string{"a"}, ids(first.successes[0]))
		require.Empty(t, first.failures)
		require.Empty(t, second.successes)
		require.Empty(t, second.failures)
		require.False(t, f.InProgress())

		// The slot is free again.
		require.NoError(t, f.FetchProducts(context.Background(), []*model.ProductDefinition{b}, second.onSuccess, second.onFailure, nil))
	})
	require.Equal(t, 2, store.fetchCount())
}

func TestProductFetcher_InvalidArguments(t *testing.T) {
	h := newHarness(t)
	store := newFakeStore("FakeStore")
	f := newTestFetcher(h, store)

	results := &fetchResults{}
	h.do(func() {
		err := f.FetchProducts(context.Background(), nil, results.onSuccess, results.onFailure, nil)
		require.True(t, failure.Is(err, failure.KindInvalidArgument))

		err = f.FetchProducts(context.Background(), []*model.ProductDefinition{}, results.onSuccess, results.onFailure, nil)
		require.True(t, failure.Is(err, failure.KindInvalidArgument))

		err = f.FetchProducts(context.Background(), []*model.ProductDefinition{definition("a", model.ProductTypeConsumable)}, nil, results.onFailure, nil)
		require.True(t, failure.Is(err, failure.KindInvalidArgument))

		require.False(t, f.InProgress())
	})
	require.Equal(t, 0, store.fetchCount())
}

func TestProductFetcher_PartialSuccess(t *testing.T) {
	h := newHarness(t)
	store := newFakeStore("FakeStore")
	f := newTestFetcher(h, store)

	a := definition("a", model.ProductTypeConsumable)
	b := definition("b", model.ProductTypeNonConsumable)
	c := definition("c", model.ProductTypeSubscription)
	unrequested := definition("x", model.ProductTypeConsumable)

	results := &fetchResults{}
	h.do(func() {
		require.NoError(t, f.FetchProducts(context.Background(), []*model.ProductDefinition{a, b, c}, results.onSuccess, results.onFailure, nil))

		f.OnProductsRetrieved([]*model.ProductDescription{description(a), description(unrequested), description(c)})

		require.Len(t, results.successes, 1)
		require.Equal(t, []string{"a", "c"}, ids(results.successes[0]))
		for _, p := range results.successes[0] {
			require.True(t, p.Available)
			require.Equal(t, "USD", p.Metadata.CurrencyCode)
		}

		require.Len(t, results.failures, 1)
		require.Equal(t, []string{"b"}, defIDs(results.failures[0].Definitions))
		require.Equal(t, PartialFetchMessage, results.failures[0].Message)
		require.Equal(t, model.ProductFetchFailureProductsUnavailable, results.failures[0].Reason)

		cached, ok := f.products.Get(c.StoreSpecificID)
		require.True(t, ok)
		require.Equal(t, "c", cached.Definition.ID)

		_, ok = f.products.Get(unrequested.StoreSpecificID)
		require.False(t, ok)
	})
}

func TestProductFetcher_TotalMiss(t *testing.T) {
	h := newHarness(t)
	store := newFakeStore("FakeStore")
	f := newTestFetcher(h, store)

	a := definition("a", model.ProductTypeConsumable)
	b := definition("b", model.ProductTypeNonConsumable)
	c := definition("c", model.ProductTypeSubscription)

	results := &fetchResults{}
	h.do(func() {
		require.NoError(t, f.FetchProducts(context.Background(), []*model.ProductDefinition{a, b, c}, results.onSuccess, results.onFailure, nil))

		f.OnProductsRetrieved(nil)

		require.Len(t, results.successes, 1)
		require.Empty(t, results.successes[0])

		require.Len(t, results.failures, 1)
		require.Equal(t, []string{"a", "b", "c"}, defIDs(results.failures[0].Definitions))
		require.Equal(t, FailedFetchMessage, results.failures[0].Message)
	})
}

func TestProductFetcher_RetriesUntilPolicyDeclines(t *testing.T) {
	h := newHarness(t)
	store := newFakeStore("FakeStore")
	f := newTestFetcher(h, store)

	policy, err := retry.NewMaximumNumberOfAttempts(2)
	require.NoError(t, err)

	a := definition("a", model.ProductTypeConsumable)
	results := &fetchResults{}
	h.do(func() {
		require.NoError(t, f.FetchProducts(context.Background(), []*model.ProductDefinition{a}, results.onSuccess, results.onFailure, policy))
	})
	require.Equal(t, 1, store.fetchCount())

	for expected := 2; expected <= 3; expected++ {
		h.do(func() {
			f.OnProductsRetrieveFailed(model.ProductFetchFailureNetworkUnavailable, "offline")
		})
		h.eventually(func() bool { return store.fetchCount() == expected })
		h.do(func() {
			require.True(t, f.InProgress())
			require.Empty(t, results.failures)
		})
	}

	h.do(func() {
		f.OnProductsRetrieveFailed(model.ProductFetchFailureNetworkUnavailable, "offline")
	})
	h.eventually(func() bool { return len(results.failures) == 1 })

	h.do(func() {
		require.Empty(t, results.successes)
		require.Equal(t, []string{"a"}, defIDs(results.failures[0].Definitions))
		require.Equal(t, model.ProductFetchFailureNetworkUnavailable, results.failures[0].Reason)
		require.Equal(t, "offline", results.failures[0].Message)
		require.False(t, f.InProgress())
	})
	require.Equal(t, 3, store.fetchCount())
}

func TestProductFetcher_RetryThenSuccess(t *testing.T) {
	h := newHarness(t)
	store := newFakeStore("FakeStore")
	f := newTestFetcher(h, store)

	a := definition("a", model.ProductTypeConsumable)
	results := &fetchResults{}
	h.do(func() {
		require.NoError(t, f.FetchProducts(context.Background(), []*model.ProductDefinition{a}, results.onSuccess, results.onFailure, retryAlways()))
		f.OnProductsRetrieveFailed(model.ProductFetchFailureUnknown, "")
	})
	h.eventually(func() bool { return store.fetchCount() == 2 })

	h.do(func() {
		f.OnProductsRetrieved([]*model.ProductDescription{description(a)})

		require.Len(t, results.successes, 1)
		require.Equal(t, []string{"a"}, ids(results.successes[0]))
		require.Empty(t, results.failures)
		require.False(t, f.InProgress())
	})
}

func TestProductFetcher_DeclinedWithoutMessage(t *testing.T) {
	h := newHarness(t)
	store := newFakeStore("FakeStore")
	f := newTestFetcher(h, store)

	results := &fetchResults{}
	h.do(func() {
		require.NoError(t, f.FetchProducts(context.Background(), []*model.ProductDefinition{definition("a", model.ProductTypeConsumable)}, results.onSuccess, results.onFailure, retry.NoRetries()))
		f.OnProductsRetrieveFailed(model.ProductFetchFailureProductsUnavailable, "")
	})
	h.eventually(func() bool { return len(results.failures) == 1 })

	h.do(func() {
		require.Equal(t, "ProductsUnavailable", results.failures[0].Message)
	})
}

func TestProductFetcher_DispatchError(t *testing.T) {
	h := newHarness(t)
	store := newFakeStore("FakeStore")
	store.fetchErr = errors.New("billing client disconnected")
	f := newTestFetcher(h, store)

	results := &fetchResults{}
	h.do(func() {
		require.NoError(t, f.FetchProducts(context.Background(), []*model.ProductDefinition{definition("a", model.ProductTypeConsumable)}, results.onSuccess, results.onFailure, nil))
	})
	h.eventually(func() bool { return len(results.failures) == 1 })

	h.do(func() {
		require.Equal(t, "billing client disconnected", results.failures[0].Message)
		require.False(t, f.InProgress())
	})
}

func TestProductFetcher_Orphans(t *testing.T) {
	h := newHarness(t)
	store := newFakeStore("FakeStore")
	f := newTestFetcher(h, store)

	h.do(func() {
		f.OnProductsRetrieved([]*model.ProductDescription{description(definition("a", model.ProductTypeConsumable))})
		f.OnProductsRetrieveFailed(model.ProductFetchFailureUnknown, "late")
		require.False(t, f.InProgress())
	})
}

func TestProductFetcher_Timeout(t *testing.T) {
	h := newHarness(t)
	store := newFakeStore("FakeStore")
	clock := newFakeClock()
	f := newTestFetcher(h, store, correlation.WithClock(clock.Now))

	a := definition("a", model.ProductTypeConsumable)
	results := &fetchResults{}
	h.do(func() {
		require.NoError(t, f.FetchProducts(context.Background(), []*model.ProductDefinition{a}, results.onSuccess, results.onFailure, nil))

		f.Sweep(clock.Now().Add(time.Minute))
		require.True(t, f.InProgress())

		f.Sweep(clock.Now().Add(time.Minute + time.Second))
		require.False(t, f.InProgress())
		require.Len(t, results.failures, 1)
		require.Equal(t, model.ProductFetchFailureTimeout, results.failures[0].Reason)
		require.Equal(t, TimedOutMessage, results.failures[0].Message)

		// The answer arrives too late and is dropped.
		f.OnProductsRetrieved([]*model.ProductDescription{description(a)})
		require.Empty(t, results.successes)
		require.Len(t, results.failures, 1)
	})
}

func TestProductFetcher_LateAnswerAfterTimeout(t *testing.T) {
	h := newHarness(t)
	store := newFakeStore("FakeStore")
	clock := newFakeClock()
	f := newTestFetcher(h, store, correlation.WithClock(clock.Now))

	a := definition("a", model.ProductTypeConsumable)
	b := definition("b", model.ProductTypeNonConsumable)

	first := &fetchResults{}
	second := &fetchResults{}
	h.do(func() {
		require.NoError(t, f.FetchProducts(context.Background(), []*model.ProductDefinition{a}, first.onSuccess, first.onFailure, nil))

		clock.Advance(2 * time.Minute)
		f.Sweep(clock.Now())
		require.Len(t, first.failures, 1)
		require.Equal(t, model.ProductFetchFailureTimeout, first.failures[0].Reason)

		require.NoError(t, f.FetchProducts(context.Background(), []*model.ProductDefinition{b}, second.onSuccess, second.onFailure, nil))

		// The evicted fetch's answer must not resolve the new fetch.
		f.OnProductsRetrieved([]*model.ProductDescription{description(a)})
		require.True(t, f.InProgress())
		require.Empty(t, second.successes)
		require.Empty(t, second.failures)

		f.OnProductsRetrieved([]*model.ProductDescription{description(b)})
		require.Len(t, second.successes, 1)
		require.Equal(t, []string{"b"}, ids(second.successes[0]))
		require.Empty(t, second.failures)
		require.False(t, f.InProgress())

		require.Empty(t, first.successes)
		require.Len(t, first.failures, 1)
	})
	require.Equal(t, 2, store.fetchCount())
}

func TestProductFetcher_LateFailureAfterTimeout(t *testing.T) {
	h := newHarness(t)
	store := newFakeStore("FakeStore")
	clock := newFakeClock()
	f := newTestFetcher(h, store, correlation.WithClock(clock.Now))

	a := definition("a", model.ProductTypeConsumable)
	results := &fetchResults{}
	h.do(func() {
		require.NoError(t, f.FetchProducts(context.Background(), []*model.ProductDefinition{a}, results.onSuccess, results.onFailure, nil))
		clock.Advance(2 * time.Minute)
		f.Sweep(clock.Now())

		require.NoError(t, f.FetchProducts(context.Background(), []*model.ProductDefinition{a}, results.onSuccess, results.onFailure, retry.NoRetries()))
		f.OnProductsRetrieveFailed(model.ProductFetchFailureNetworkUnavailable, "offline")
		require.True(t, f.InProgress())

		f.OnProductsRetrieved([]*model.ProductDescription{description(a)})
		require.Len(t, results.successes, 1)
		require.Equal(t, []string{"a"}, ids(results.successes[0]))
		require.Len(t, results.failures, 1)
	})
}

func TestProductFetcher_NilContext(t *testing.T) {
	h := newHarness(t)
	store := newFakeStore("FakeStore")
	f := newTestFetcher(h, store)

	backOff, err := retry.NewExponentialBackOff(1, 1, 2)
	require.NoError(t, err)
	limit, err := retry.NewMaximumNumberOfAttempts(1)
	require.NoError(t, err)

	a := definition("a", model.ProductTypeConsumable)
	results := &fetchResults{}
	var ctx context.Context
	h.do(func() {
		require.NoError(t, f.FetchProducts(ctx, []*model.ProductDefinition{a}, results.onSuccess, results.onFailure, retry.Aggregate(limit, backOff)))
		f.OnProductsRetrieveFailed(model.ProductFetchFailureNetworkUnavailable, "offline")
	})
	h.eventually(func() bool { return store.fetchCount() == 2 })

	h.do(func() {
		f.OnProductsRetrieved([]*model.ProductDescription{description(a)})
		require.Len(t, results.successes, 1)
		require.Empty(t, results.failures)
	})
}

func TestProductFetcher_TimeoutCancelsBackOff(t *testing.T) {
	h := newHarness(t)
	store := newFakeStore("FakeStore")
	clock := newFakeClock()
	f := newTestFetcher(h, store, correlation.WithClock(clock.Now))

	waiting := make(chan struct{})
	interrupted := make(chan struct{})
	backOff, err := retry.NewExponentialBackOff(1000, 1000, 2, retry.WithSleeper(func(ctx context.Context, _ time.Duration) bool {
		close(waiting)
		<-ctx.Done()
		close(interrupted)
		return false
	}))
	require.NoError(t, err)

	results := &fetchResults{}
	h.do(func() {
		require.NoError(t, f.FetchProducts(context.Background(), []*model.ProductDefinition{definition("a", model.ProductTypeConsumable)}, results.onSuccess, results.onFailure, backOff))
		f.OnProductsRetrieveFailed(model.ProductFetchFailureUnknown, "try again")
	})
	<-waiting

	h.do(func() {
		clock.Advance(2 * time.Minute)
		f.Sweep(clock.Now())
		require.Len(t, results.failures, 1)
		require.Equal(t, model.ProductFetchFailureTimeout, results.failures[0].Reason)
	})

	select {
	case <-interrupted:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "back off was not interrupted by eviction")
	}

	time.Sleep(50 * time.Millisecond)
	h.do(func() {
		require.Len(t, results.failures, 1)
		require.False(t, f.InProgress())
	})
	require.Equal(t, 1, store.fetchCount())
}

func TestProductFetcher_StaleRetryDecisionDropped(t *testing.T) {
	h := newHarness(t)
	store := newFakeStore("FakeStore")
	clock := newFakeClock()
	f := newTestFetcher(h, store, correlation.WithClock(clock.Now))

	deciding := make(chan struct{})
	release := make(chan struct{})
	blocking := retry.PolicyFunc(func(context.Context, *retry.Info) bool {
		close(deciding)
		<-release
		return true
	})

	results := &fetchResults{}
	h.do(func() {
		require.NoError(t, f.FetchProducts(context.Background(), []*model.ProductDefinition{definition("a", model.ProductTypeConsumable)}, results.onSuccess, results.onFailure, blocking))
		f.OnProductsRetrieveFailed(model.ProductFetchFailureUnknown, "try again")
	})
	<-deciding

	h.do(func() {
		f.Sweep(clock.Now().Add(time.Hour))
		require.Len(t, results.failures, 1)
	})
	close(release)

	// The approved retry belongs to an evicted request and must not reach
	// the store or resolve the request a second time.
	time.Sleep(50 * time.Millisecond)
	h.do(func() {
		require.Len(t, results.failures, 1)
		require.False(t, f.InProgress())
	})
	require.Equal(t, 1, store.fetchCount())
}
