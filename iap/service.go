package iap

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/code-payments/flipchat-iap/cart"
	"github.com/code-payments/flipchat-iap/catalog"
	"github.com/code-payments/flipchat-iap/correlation"
	"github.com/code-payments/flipchat-iap/dispatch"
	"github.com/code-payments/flipchat-iap/event"
	"github.com/code-payments/flipchat-iap/ledger"
	"github.com/code-payments/flipchat-iap/model"
	"github.com/code-payments/flipchat-iap/native"
	"github.com/code-payments/flipchat-iap/retry"
)

const (
	DefaultRequestTimeout = 5 * time.Minute
	DefaultProductTTL     = time.Hour
)

type serviceOpts struct {
	validator      cart.Validator
	ledger         ledger.Store
	requestTimeout time.Duration
	productTTL     time.Duration
	registryOpts   []correlation.Option
}

type Option func(*serviceOpts)

// WithValidator replaces the cart pipeline of the store.
func WithValidator(v cart.Validator) Option {
	return func(o *serviceOpts) {
		o.validator = v
	}
}

// WithLedger records confirmed orders in s.
func WithLedger(s ledger.Store) Option {
	return func(o *serviceOpts) {
		o.ledger = s
	}
}

// WithRequestTimeout sets how long a request may stay outstanding before
// Sweep evicts it. Zero disables eviction.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *serviceOpts) {
		o.requestTimeout = d
	}
}

func WithProductTTL(d time.Duration) Option {
	return func(o *serviceOpts) {
		o.productTTL = d
	}
}

// WithClock overrides the clock that outstanding requests are timed with.
func WithClock(now func() time.Time) Option {
	return func(o *serviceOpts) {
		o.registryOpts = append(o.registryOpts, correlation.WithClock(now))
	}
}

// Service is the client facing surface of a single store. It owns the
// orchestrators for that store and routes native callbacks to them.
//
// Every method, and every callback, must run on the executor the service was
// created with.
type Service struct {
	log   *zap.Logger
	store native.Store

	products     *catalog.Cache
	fetcher      *ProductFetcher
	purchaser    *Purchaser
	confirmer    *OrderConfirmer
	entitlements *EntitlementChecker

	faults *event.Bus[error]
}

// NewService creates the service for store and connects itself as the
// store's listener, with callbacks marshaled onto exec.
func NewService(log *zap.Logger, store native.Store, exec dispatch.Executor, opts ...Option) *Service {
	o := serviceOpts{
		validator:      cart.ForStore(store.Name()),
		requestTimeout: DefaultRequestTimeout,
		productTTL:     DefaultProductTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}

	log = log.With(zap.String("store", store.Name()))
	products := catalog.NewCache(o.productTTL)

	s := &Service{
		log:   log,
		store: store,

		products:     products,
		fetcher:      NewProductFetcher(log, store, exec, products, o.requestTimeout, o.registryOpts...),
		purchaser:    NewPurchaser(log, store, o.validator),
		confirmer:    NewOrderConfirmer(log, store, o.ledger, o.requestTimeout, o.registryOpts...),
		entitlements: NewEntitlementChecker(log, store, o.requestTimeout, o.registryOpts...),

		faults: event.NewBus[error](),
	}

	s.confirmer.Confirmed().SubscribeFunc("entitlements", func(order *model.ConfirmedOrder) {
		s.entitlements.Remember(order)
	})

	store.Connect(native.Marshal(exec, s))
	return s
}

func (s *Service) StoreName() string {
	return s.store.Name()
}

func (s *Service) FetchProducts(
	ctx context.Context,
	definitions []*model.ProductDefinition,
	onSuccess func([]*model.Product),
	onFailure func(*FetchFailure),
	policy retry.Policy,
) error {
	return s.fetcher.FetchProducts(ctx, definitions, onSuccess, onFailure, policy)
}

func (s *Service) Purchase(c *model.Cart) error {
	return s.purchaser.Purchase(c)
}

func (s *Service) ConfirmOrder(order *model.PendingOrder, onSuccess func(*model.ConfirmedOrder), onFailure func(*model.FailedOrder)) error {
	return s.confirmer.ConfirmOrder(order, onSuccess, onFailure)
}

func (s *Service) IsProductEntitled(product *model.Product, onResult func(*model.Entitlement)) {
	s.entitlements.IsProductEntitled(product, onResult)
}

// Product returns a recently fetched product by store specific id.
func (s *Service) Product(storeSpecificID string) (*model.Product, bool) {
	return s.products.Get(storeSpecificID)
}

func (s *Service) PurchasePending() *event.Bus[*model.PendingOrder]   { return s.purchaser.Pending() }
func (s *Service) PurchaseFailed() *event.Bus[*model.FailedOrder]     { return s.purchaser.Failed() }
func (s *Service) PurchaseDeferred() *event.Bus[*model.DeferredOrder] { return s.purchaser.Deferred() }

// Faults publishes callbacks that could not be matched where a match is
// guaranteed. They mean the service's request state is inconsistent.
func (s *Service) Faults() *event.Bus[error] {
	return s.faults
}

// Fault logs and publishes err.
func (s *Service) Fault(err error) {
	s.log.Error("Request state is inconsistent", zap.Error(err))
	s.faults.Publish(err)
}

// Sweep evicts every request outstanding for longer than the request timeout
// and fails it.
func (s *Service) Sweep(now time.Time) {
	s.fetcher.Sweep(now)
	s.confirmer.Sweep(now)
	s.entitlements.Sweep(now)
}

func (s *Service) OnProductsRetrieved(descriptions []*model.ProductDescription) {
	s.fetcher.OnProductsRetrieved(descriptions)
}

func (s *Service) OnProductsRetrieveFailed(reason model.ProductFetchFailureReason, message string) {
	s.fetcher.OnProductsRetrieveFailed(reason, message)
}

func (s *Service) OnPurchaseSucceeded(order *model.PendingOrder) {
	s.purchaser.OnPurchaseSucceeded(order)
}

func (s *Service) OnPurchaseFailed(order *model.FailedOrder) {
	s.purchaser.OnPurchaseFailed(order)
}

func (s *Service) OnPurchaseDeferred(order *model.DeferredOrder) {
	s.purchaser.OnPurchaseDeferred(order)
}

func (s *Service) OnConfirmOrderSucceeded(transactionID string) {
	if err := s.confirmer.OnConfirmOrderSucceeded(transactionID); err != nil {
		s.Fault(err)
	}
}

func (s *Service) OnConfirmOrderFailed(order *model.FailedOrder, transactionID string) {
	if err := s.confirmer.OnConfirmOrderFailed(order, transactionID); err != nil {
		s.Fault(err)
	}
}

func (s *Service) OnCheckEntitlement(definition *model.ProductDefinition, status model.EntitlementStatus, message string) {
	s.entitlements.OnCheckEntitlement(definition, status, message)
}
