package iap

import (
	"time"

	"go.uber.org/zap"

	"github.com/code-payments/flipchat-iap/correlation"
	"github.com/code-payments/flipchat-iap/model"
	"github.com/code-payments/flipchat-iap/native"
)

const (
	entitlementOp = "iap.IsProductEntitled"

	NilProductMessage       = "product is nil"
	DuplicateRequestMessage = "duplicate request"
)

type entitlementRequest struct {
	product  *model.Product
	onResult func(*model.Entitlement)
}

// EntitlementChecker asks a store whether products are owned. One check may
// be outstanding per product, keyed by store specific id.
type EntitlementChecker struct {
	log      *zap.Logger
	store    native.Store
	requests *correlation.Registry[string, *entitlementRequest]
	evicted  *correlation.Debts[string]

	// orders holds the last confirmed order per store specific id.
	orders map[string]model.Order
}

func NewEntitlementChecker(log *zap.Logger, store native.Store, timeout time.Duration, opts ...correlation.Option) *EntitlementChecker {
	return &EntitlementChecker{
		log:      log.With(zap.String("orchestrator", "entitlement")),
		store:    store,
		requests: correlation.NewRegistry[string, *entitlementRequest](entitlementOp, timeout, opts...),
		evicted:  correlation.NewDebts[string](),
		orders:   make(map[string]model.Order),
	}
}

// IsProductEntitled reports the entitlement of product through onResult,
// exactly once. Checks that cannot be dispatched resolve immediately as
// unknown.
func (e *EntitlementChecker) IsProductEntitled(product *model.Product, onResult func(*model.Entitlement)) {
	if product == nil {
		onResult(unknownEntitlement(nil, NilProductMessage))
		return
	}
	if err := product.Definition.Validate(); err != nil {
		onResult(unknownEntitlement(product, err.Error()))
		return
	}

	key := product.StoreSpecificID()
	if e.requests.Contains(key) {
		onResult(unknownEntitlement(product, DuplicateRequestMessage))
		return
	}

	req := &entitlementRequest{product: product, onResult: onResult}
	if err := e.requests.Register(key, req); err != nil {
		onResult(unknownEntitlement(product, err.Error()))
		return
	}

	log := e.log.With(zap.String("product_id", key))
	log.Debug("Checking entitlement")

	if err := e.store.CheckEntitlement(product.Definition); err != nil {
		log.Warn("Failed to dispatch entitlement check", zap.Error(err))
		e.requests.Resolve(key)
		onResult(unknownEntitlement(product, err.Error()))
	}
}

// Checking reports whether a check is outstanding for the store specific id.
func (e *EntitlementChecker) Checking(storeSpecificID string) bool {
	return e.requests.Contains(storeSpecificID)
}

func (e *EntitlementChecker) OnCheckEntitlement(definition *model.ProductDefinition, status model.EntitlementStatus, message string) {
	if definition == nil {
		e.log.Warn("Dropping entitlement result without a product definition")
		return
	}

	key := definition.StoreSpecificID
	if e.evicted.Settle(key) {
		e.log.Debug("Dropping entitlement result for an evicted check", zap.String("product_id", key), zap.Stringer("status", status))
		return
	}

	req, ok := e.requests.Resolve(key)
	if !ok {
		e.log.Warn("Dropping orphaned entitlement result", zap.String("product_id", key), zap.Stringer("status", status))
		return
	}

	result := &model.Entitlement{
		Product: req.product,
		Status:  status,
		Message: message,
	}
	switch status {
	case model.EntitlementEntitled:
		if order, ok := e.orders[key]; ok {
			result.Order = order
		}
	case model.EntitlementNotEntitled:
		delete(e.orders, key)
	}
	req.onResult(result)
}

// Remember attaches order to later Entitled results for the products in its
// cart, until a check reports one of them as not entitled.
func (e *EntitlementChecker) Remember(order model.Order) {
	c := order.GetCart()
	if c == nil {
		return
	}
	for _, item := range c.Items {
		if item == nil || item.Product == nil {
			continue
		}
		e.orders[item.Product.StoreSpecificID()] = order
	}
}

// Sweep resolves every check that has been outstanding for longer than the
// timeout as unknown. The store's result for an evicted check is dropped when
// it arrives.
func (e *EntitlementChecker) Sweep(now time.Time) {
	for _, expired := range e.requests.Expire(now) {
		e.log.Warn("Entitlement check timed out", zap.String("product_id", expired.Key))
		e.evicted.Owe(expired.Key)
		expired.Request.onResult(unknownEntitlement(expired.Request.product, TimedOutMessage))
	}
}

func unknownEntitlement(product *model.Product, message string) *model.Entitlement {
	return &model.Entitlement{
		Product: product,
		Status:  model.EntitlementUnknown,
		Message: message,
	}
}
