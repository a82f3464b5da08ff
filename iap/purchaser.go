package iap

import (
	"go.uber.org/zap"

	"github.com/code-payments/flipchat-iap/cart"
	"github.com/code-payments/flipchat-iap/event"
	"github.com/code-payments/flipchat-iap/model"
	"github.com/code-payments/flipchat-iap/native"
)

// Purchaser validates carts and dispatches them to a store. The store reports
// exactly one outcome per purchase, so no correlation is needed; outcomes are
// republished on the purchaser's buses.
type Purchaser struct {
	log       *zap.Logger
	store     native.Store
	validator cart.Validator

	pending  *event.Bus[*model.PendingOrder]
	failed   *event.Bus[*model.FailedOrder]
	deferred *event.Bus[*model.DeferredOrder]
}

func NewPurchaser(log *zap.Logger, store native.Store, validator cart.Validator) *Purchaser {
	return &Purchaser{
		log:       log.With(zap.String("orchestrator", "purchase")),
		store:     store,
		validator: validator,
		pending:   event.NewBus[*model.PendingOrder](),
		failed:    event.NewBus[*model.FailedOrder](),
		deferred:  event.NewBus[*model.DeferredOrder](),
	}
}

// Purchase dispatches c once it passes validation. Validation failures are
// returned; everything after dispatch is reported on the buses.
func (p *Purchaser) Purchase(c *model.Cart) error {
	if err := p.validator.Validate(c); err != nil {
		p.log.Debug("Rejecting invalid cart", zap.Error(err))
		return err
	}

	if err := p.store.Purchase(c); err != nil {
		p.log.Warn("Failed to dispatch purchase", zap.Error(err))
		p.failed.Publish(model.NewFailedOrder(c, model.PurchaseFailurePurchasingUnavailable, err.Error()))
	}
	return nil
}

func (p *Purchaser) Pending() *event.Bus[*model.PendingOrder]   { return p.pending }
func (p *Purchaser) Failed() *event.Bus[*model.FailedOrder]     { return p.failed }
func (p *Purchaser) Deferred() *event.Bus[*model.DeferredOrder] { return p.deferred }

func (p *Purchaser) OnPurchaseSucceeded(order *model.PendingOrder) {
	p.log.Debug("Purchase pending", zap.String("transaction_id", model.TransactionIDOf(order)))
	p.pending.Publish(order)
}

func (p *Purchaser) OnPurchaseFailed(order *model.FailedOrder) {
	p.log.Debug("Purchase failed", zap.Stringer("reason", order.Reason), zap.String("message", order.Message))
	p.failed.Publish(order)
}

func (p *Purchaser) OnPurchaseDeferred(order *model.DeferredOrder) {
	p.log.Debug("Purchase deferred", zap.String("transaction_id", model.TransactionIDOf(order)))
	p.deferred.Publish(order)
}
