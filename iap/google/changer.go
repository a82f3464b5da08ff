package google

import (
	"time"

	"go.uber.org/zap"

	"github.com/code-payments/flipchat-iap/correlation"
	"github.com/code-payments/flipchat-iap/dispatch"
	"github.com/code-payments/flipchat-iap/event"
	"github.com/code-payments/flipchat-iap/failure"
	"github.com/code-payments/flipchat-iap/model"
)

const (
	changeOp = "google.ChangeSubscription"

	NoCurrentProductMessage = "current order has no subscription product"
	SameProductMessage      = "new product is the current subscription"
	DuplicateChangeMessage  = "a subscription change is already pending for this order or product"
	CorruptedStateMessage   = "corrupted subscription change state"
	TimedOutMessage         = "request timed out"
)

type changeRequest struct {
	currentOrder model.Order
	newProduct   *model.Product
	mode         ReplacementMode
}

// SubscriptionChanger upgrades and downgrades Google Play subscriptions. At
// most one change may be pending per current order and per new product.
// Requests are keyed by the new product's store specific id.
//
// Like the other orchestrators it must only be used from the executor it was
// created with.
type SubscriptionChanger struct {
	log      *zap.Logger
	store    Store
	faults   *event.Bus[error]
	requests *correlation.Registry[string, *changeRequest]
	evicted  *correlation.Debts[string]

	succeeded *event.Bus[*model.PendingOrder]
	deferred  *event.Bus[*model.DeferredOrder]
	failed    *event.Bus[*model.FailedOrder]
}

// NewSubscriptionChanger creates a changer and connects it as the store's
// subscription listener, with callbacks marshaled onto exec. Corrupted state
// is reported on faults, which may be nil.
func NewSubscriptionChanger(
	log *zap.Logger,
	store Store,
	exec dispatch.Executor,
	faults *event.Bus[error],
	timeout time.Duration,
	opts ...correlation.Option,
) *SubscriptionChanger {
	c := &SubscriptionChanger{
		log:       log.With(zap.String("orchestrator", "subscription_change"), zap.String("store", store.Name())),
		store:     store,
		faults:    faults,
		requests:  correlation.NewRegistry[string, *changeRequest](changeOp, timeout, opts...),
		evicted:   correlation.NewDebts[string](),
		succeeded: event.NewBus[*model.PendingOrder](),
		deferred:  event.NewBus[*model.DeferredOrder](),
		failed:    event.NewBus[*model.FailedOrder](),
	}

	store.ConnectSubscriptions(Marshal(exec, c))
	return c
}

func (c *SubscriptionChanger) Succeeded() *event.Bus[*model.PendingOrder] { return c.succeeded }
func (c *SubscriptionChanger) Deferred() *event.Bus[*model.DeferredOrder] { return c.deferred }
func (c *SubscriptionChanger) Failed() *event.Bus[*model.FailedOrder]     { return c.failed }

// ChangeSubscription replaces the subscription bought by currentOrder with
// newProduct. It returns a failed order if the change is rejected before
// reaching the store, and nil once it has been dispatched; the outcome is
// then published on the changer's buses.
func (c *SubscriptionChanger) ChangeSubscription(currentOrder model.Order, newProduct *model.Product, mode ReplacementMode) *model.FailedOrder {
	var current *model.Product
	if currentOrder != nil {
		current = currentOrder.GetCart().FirstProduct()
	}
	if current == nil {
		return rejected(currentOrder, newProduct, model.PurchaseFailureProductUnavailable, NoCurrentProductMessage)
	}
	if err := current.Definition.Validate(); err != nil {
		return rejected(currentOrder, newProduct, model.PurchaseFailureProductUnavailable, err.Error())
	}
	if newProduct == nil {
		return rejected(currentOrder, nil, model.PurchaseFailureProductUnavailable, "new product is nil")
	}
	if err := newProduct.Definition.Validate(); err != nil {
		return rejected(currentOrder, newProduct, model.PurchaseFailureProductUnavailable, err.Error())
	}
	if current.Definition.Equals(newProduct.Definition) {
		return rejected(currentOrder, newProduct, model.PurchaseFailureProductUnavailable, SameProductMessage)
	}

	if _, _, ok := c.requests.Find(func(_ string, req *changeRequest) bool {
		return req.currentOrder == currentOrder
	}); ok {
		return rejected(currentOrder, newProduct, model.PurchaseFailureDuplicateTransaction, DuplicateChangeMessage)
	}

	key := newProduct.StoreSpecificID()
	req := &changeRequest{
		currentOrder: currentOrder,
		newProduct:   newProduct,
		mode:         mode,
	}
	if err := c.requests.Register(key, req); err != nil {
		err = failure.Wrap(err, failure.KindDuplicateRequest, changeOp, "change to %s is already pending", key)
		c.log.Debug("Rejecting subscription change", zap.Error(err))
		return rejected(currentOrder, newProduct, model.PurchaseFailureDuplicateTransaction, DuplicateChangeMessage)
	}

	log := c.log.With(
		zap.String("current_product_id", current.StoreSpecificID()),
		zap.String("new_product_id", key),
		zap.Stringer("mode", mode),
	)
	log.Debug("Changing subscription")

	if err := c.store.ChangeSubscription(currentOrder, newProduct, mode); err != nil {
		log.Warn("Failed to dispatch subscription change", zap.Error(err))
		c.requests.Resolve(key)
		return rejected(currentOrder, newProduct, model.PurchaseFailurePurchasingUnavailable, err.Error())
	}
	return nil
}

// Pending reports whether a change to the product is outstanding.
func (c *SubscriptionChanger) Pending(storeSpecificID string) bool {
	return c.requests.Contains(storeSpecificID)
}

func (c *SubscriptionChanger) OnSubscriptionChangeSucceeded(storeSpecificID string, order *model.PendingOrder) {
	if _, ok := c.resolve(storeSpecificID, order); !ok {
		return
	}

	c.log.Debug("Subscription changed", zap.String("new_product_id", storeSpecificID))
	c.succeeded.Publish(order)
}

func (c *SubscriptionChanger) OnSubscriptionChangeDeferred(storeSpecificID string, order *model.DeferredOrder) {
	if _, ok := c.resolve(storeSpecificID, order); !ok {
		return
	}

	c.log.Debug("Subscription change deferred", zap.String("new_product_id", storeSpecificID))
	c.deferred.Publish(order)
}

func (c *SubscriptionChanger) OnSubscriptionChangeFailed(storeSpecificID string, order *model.FailedOrder) {
	if _, ok := c.resolve(storeSpecificID, order); !ok {
		return
	}

	c.log.Debug("Subscription change failed", zap.String("new_product_id", storeSpecificID))
	c.failed.Publish(order)
}

// resolve removes the request for storeSpecificID. A completion owed to an
// evicted request is dropped. Any other completion nothing was waiting for is
// published as a failed order and reported as a fault.
func (c *SubscriptionChanger) resolve(storeSpecificID string, order model.Order) (*changeRequest, bool) {
	if c.evicted.Settle(storeSpecificID) {
		c.log.Debug("Dropping subscription change result for an evicted request", zap.String("new_product_id", storeSpecificID))
		return nil, false
	}

	req, ok := c.requests.Resolve(storeSpecificID)
	if ok {
		return req, true
	}

	err := failure.New(failure.KindCorruption, changeOp, "no subscription change outstanding for product %s", storeSpecificID)
	c.log.Error("Request state is inconsistent", zap.Error(err))

	synthetic := &model.FailedOrder{
		Info:    &model.OrderInfo{},
		Reason:  model.PurchaseFailureUnknown,
		Message: CorruptedStateMessage,
	}
	if order != nil {
		synthetic.Cart = order.GetCart()
		if info := order.GetInfo(); info != nil {
			synthetic.Info = info
		}
	}
	c.failed.Publish(synthetic)

	if c.faults != nil {
		c.faults.Publish(err)
	}
	return nil, false
}

// Sweep fails every change that has been outstanding for longer than the
// timeout.
func (c *SubscriptionChanger) Sweep(now time.Time) {
	for _, expired := range c.requests.Expire(now) {
		c.log.Warn("Subscription change timed out", zap.String("new_product_id", expired.Key))
		c.evicted.Owe(expired.Key)
		c.failed.Publish(rejected(expired.Request.currentOrder, expired.Request.newProduct, model.PurchaseFailureTimeout, TimedOutMessage))
	}
}

func rejected(currentOrder model.Order, newProduct *model.Product, reason model.PurchaseFailureReason, message string) *model.FailedOrder {
	var cart *model.Cart
	if newProduct != nil {
		cart = model.NewSingleItemCart(newProduct, 1)
	}

	order := model.NewFailedOrder(cart, reason, message)
	if currentOrder != nil && currentOrder.GetInfo() != nil {
		order.Info = currentOrder.GetInfo()
	}
	return order
}
