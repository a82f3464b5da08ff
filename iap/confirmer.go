package iap

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/code-payments/flipchat-iap/correlation"
	"github.com/code-payments/flipchat-iap/event"
	"github.com/code-payments/flipchat-iap/failure"
	"github.com/code-payments/flipchat-iap/ledger"
	"github.com/code-payments/flipchat-iap/model"
	"github.com/code-payments/flipchat-iap/native"
)

const (
	confirmOp = "iap.ConfirmOrder"

	ledgerTimeout = 10 * time.Second
)

type confirmRequest struct {
	order     *model.PendingOrder
	onSuccess func(*model.ConfirmedOrder)
	onFailure func(*model.FailedOrder)
}

// OrderConfirmer finishes pending transactions. Requests are keyed by the
// pending order itself and matched to callbacks by transaction id.
type OrderConfirmer struct {
	log      *zap.Logger
	store    native.Store
	ledger   ledger.Store
	now      func() time.Time
	requests *correlation.Registry[*model.PendingOrder, *confirmRequest]
	evicted  *correlation.Debts[string]

	confirmed *event.Bus[*model.ConfirmedOrder]
}

// NewOrderConfirmer creates a confirmer. Confirmed orders are recorded in
// records when it is not nil.
func NewOrderConfirmer(
	log *zap.Logger,
	store native.Store,
	records ledger.Store,
	timeout time.Duration,
	opts ...correlation.Option,
) *OrderConfirmer {
	return &OrderConfirmer{
		log:      log.With(zap.String("orchestrator", "confirm")),
		store:    store,
		ledger:   records,
		now:      time.Now,
		requests: correlation.NewRegistry[*model.PendingOrder, *confirmRequest](confirmOp, timeout, opts...),
		evicted:  correlation.NewDebts[string](),

		confirmed: event.NewBus[*model.ConfirmedOrder](),
	}
}

// ConfirmOrder asks the store to finish the transaction of order. It fails if
// order is nil or already being confirmed; the outcome is otherwise reported
// through exactly one of the callbacks.
func (c *OrderConfirmer) ConfirmOrder(order *model.PendingOrder, onSuccess func(*model.ConfirmedOrder), onFailure func(*model.FailedOrder)) error {
	if order == nil {
		return failure.New(failure.KindInvalidArgument, confirmOp, "pending order is nil")
	}
	if onSuccess == nil || onFailure == nil {
		return failure.New(failure.KindInvalidArgument, confirmOp, "confirmation callbacks are required")
	}

	req := &confirmRequest{
		order:     order,
		onSuccess: onSuccess,
		onFailure: onFailure,
	}
	if err := c.requests.Register(order, req); err != nil {
		return failure.Wrap(err, failure.KindDuplicateRequest, confirmOp, "order %s is already being confirmed", model.TransactionIDOf(order))
	}

	log := c.log.With(zap.String("transaction_id", model.TransactionIDOf(order)))
	log.Debug("Finishing transaction")

	if err := c.store.FinishTransaction(order); err != nil {
		log.Warn("Failed to dispatch transaction finish", zap.Error(err))
		c.requests.Resolve(order)
		onFailure(&model.FailedOrder{
			Cart:    order.Cart,
			Info:    order.Info,
			Reason:  model.PurchaseFailurePurchasingUnavailable,
			Message: err.Error(),
		})
	}
	return nil
}

// Confirmed publishes every confirmed order before its onSuccess runs.
func (c *OrderConfirmer) Confirmed() *event.Bus[*model.ConfirmedOrder] {
	return c.confirmed
}

// Confirming reports whether order is being confirmed.
func (c *OrderConfirmer) Confirming(order *model.PendingOrder) bool {
	return c.requests.Contains(order)
}

// resolve removes the request waiting on transactionID. It returns nil and no
// error for an answer owed to an evicted request.
func (c *OrderConfirmer) resolve(transactionID string) (*confirmRequest, error) {
	if c.evicted.Settle(transactionID) {
		c.log.Debug("Dropping confirmation result for an evicted request", zap.String("transaction_id", transactionID))
		return nil, nil
	}

	key, req, ok := c.requests.Find(func(order *model.PendingOrder, _ *confirmRequest) bool {
		return model.TransactionIDOf(order) == transactionID
	})
	if !ok {
		return nil, failure.New(failure.KindCorruption, confirmOp, "no confirmation outstanding for transaction %s", transactionID)
	}

	c.requests.Resolve(key)
	return req, nil
}

func (c *OrderConfirmer) OnConfirmOrderSucceeded(transactionID string) error {
	req, err := c.resolve(transactionID)
	if err != nil || req == nil {
		return err
	}

	confirmed := &model.ConfirmedOrder{
		Cart: req.order.Cart,
		Info: req.order.Info,
	}

	c.log.Debug("Order confirmed", zap.String("transaction_id", transactionID))
	if c.ledger != nil {
		go c.record(ledger.FromConfirmedOrder(confirmed, c.now()))
	}

	c.confirmed.Publish(confirmed)
	req.onSuccess(confirmed)
	return nil
}

func (c *OrderConfirmer) OnConfirmOrderFailed(order *model.FailedOrder, transactionID string) error {
	req, err := c.resolve(transactionID)
	if err != nil || req == nil {
		return err
	}

	c.log.Debug("Order confirmation failed", zap.String("transaction_id", transactionID), zap.Stringer("reason", order.Reason))
	req.onFailure(order)
	return nil
}

// Sweep fails every confirmation that has been outstanding for longer than
// the timeout. The store's answer for an evicted confirmation is dropped when
// it arrives.
func (c *OrderConfirmer) Sweep(now time.Time) {
	for _, expired := range c.requests.Expire(now) {
		order := expired.Request.order
		c.log.Warn("Order confirmation timed out", zap.String("transaction_id", model.TransactionIDOf(order)))
		c.evicted.Owe(model.TransactionIDOf(order))
		expired.Request.onFailure(&model.FailedOrder{
			Cart:    order.Cart,
			Info:    order.Info,
			Reason:  model.PurchaseFailureTimeout,
			Message: TimedOutMessage,
		})
	}
}

func (c *OrderConfirmer) record(record *ledger.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
	defer cancel()

	log := c.log.With(zap.String("transaction_id", record.TransactionID))

	err := c.ledger.CreateRecord(ctx, record)
	switch err {
	case nil:
		log.Debug("Recorded confirmed order")
	case ledger.ErrExists:
		log.Debug("Confirmed order already recorded")
	default:
		log.Warn("Failed to record confirmed order", zap.Error(err))
	}
}
