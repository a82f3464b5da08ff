package native

import (
	"github.com/code-payments/flipchat-iap/model"
)

// Store is the capability a native store binding exposes. Every operation
// returns immediately; its outcome is reported later, exactly once, through
// the connected Listener and on an unspecified goroutine. A returned error
// means the operation could not be dispatched at all.
type Store interface {
	Name() string

	// Connect sets the listener that receives callbacks for every operation
	// dispatched afterwards.
	Connect(l Listener)

	FetchProducts(definitions []*model.ProductDefinition) error
	Purchase(cart *model.Cart) error
	FinishTransaction(order *model.PendingOrder) error
	CheckEntitlement(definition *model.ProductDefinition) error
}

type Listener interface {
	OnProductsRetrieved(descriptions []*model.ProductDescription)
	OnProductsRetrieveFailed(reason model.ProductFetchFailureReason, message string)

	OnPurchaseSucceeded(order *model.PendingOrder)
	OnPurchaseFailed(order *model.FailedOrder)
	OnPurchaseDeferred(order *model.DeferredOrder)

	OnConfirmOrderSucceeded(transactionID string)
	OnConfirmOrderFailed(order *model.FailedOrder, transactionID string)

	OnCheckEntitlement(definition *model.ProductDefinition, status model.EntitlementStatus, message string)
}
