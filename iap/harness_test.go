package iap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/code-payments/flipchat-iap/dispatch"
	"github.com/code-payments/flipchat-iap/model"
	"github.com/code-payments/flipchat-iap/native"
)

// harness runs a dispatch loop for the duration of a test. Everything that
// touches an orchestrator goes through do.
type harness struct {
	t    *testing.T
	log  *zap.Logger
	loop *dispatch.Loop
}

func newHarness(t *testing.T) *harness {
	log := zap.Must(zap.NewDevelopment())
	loop := dispatch.NewLoop(log, 64)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = loop.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	return &harness{t: t, log: log, loop: loop}
}

func (h *harness) do(fn func()) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(h.t, h.loop.Do(ctx, fn))
}

// eventually polls cond on the loop.
func (h *harness) eventually(cond func() bool) {
	require.Eventually(h.t, func() bool {
		var ok bool
		h.do(func() { ok = cond() })
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}

type fakeStore struct {
	name string

	mu        sync.Mutex
	listener  native.Listener
	fetches   [][]*model.ProductDefinition
	purchases []*model.Cart
	finished  []*model.PendingOrder
	checks    []*model.ProductDefinition

	fetchErr    error
	purchaseErr error
	finishErr   error
	checkErr    error
}

func newFakeStore(name string) *fakeStore {
	return &fakeStore{name: name}
}

func (s *fakeStore) Name() string { return s.name }

func (s *fakeStore) Connect(l native.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

func (s *fakeStore) FetchProducts(definitions []*model.ProductDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = append(s.fetches, definitions)
	return s.fetchErr
}

func (s *fakeStore) Purchase(cart *model.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchases = append(s.purchases, cart)
	return s.purchaseErr
}

func (s *fakeStore) FinishTransaction(order *model.PendingOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, order)
	return s.finishErr
}

func (s *fakeStore) CheckEntitlement(definition *model.ProductDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = append(s.checks, definition)
	return s.checkErr
}

func (s *fakeStore) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fetches)
}

func (s *fakeStore) finishCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.finished)
}

func (s *fakeStore) checkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.checks)
}

func (s *fakeStore) purchaseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.purchases)
}

func definition(id string, productType model.ProductType) *model.ProductDefinition {
	return model.NewProductDefinition(id, "com.flipchat."+id, productType)
}

func description(def *model.ProductDefinition) *model.ProductDescription {
	return &model.ProductDescription{
		StoreSpecificID: def.StoreSpecificID,
		Metadata: model.ProductMetadata{
			Price:          decimal.RequireFromString("0.99"),
			CurrencyCode:   "USD",
			LocalizedTitle: def.ID,
		},
	}
}

func product(def *model.ProductDefinition) *model.Product {
	return model.NewProduct(def, description(def))
}

func pendingOrder(p *model.Product, transactionID string) *model.PendingOrder {
	return &model.PendingOrder{
		Cart: model.NewSingleItemCart(p, 1),
		Info: &model.OrderInfo{TransactionID: transactionID, Receipt: "receipt", StoreName: "FakeStore"},
	}
}

// fakeClock is a manually advanced time source. It is only read on the loop.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
