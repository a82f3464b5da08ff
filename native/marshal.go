package native

import (
	"github.com/code-payments/flipchat-iap/dispatch"
	"github.com/code-payments/flipchat-iap/model"
)

type marshaled struct {
	exec dispatch.Executor
	l    Listener
}

// Marshal returns a Listener that forwards every callback to l on exec. Native
// bindings call back on their own goroutines; orchestrators expect all calls
// on the single context they belong to.
func Marshal(exec dispatch.Executor, l Listener) Listener {
	return &marshaled{exec: exec, l: l}
}

func (m *marshaled) OnProductsRetrieved(descriptions []*model.ProductDescription) {
	m.exec.Post(func() { m.l.OnProductsRetrieved(descriptions) })
}

func (m *marshaled) OnProductsRetrieveFailed(reason model.ProductFetchFailureReason, message string) {
	m.exec.Post(func() { m.l.OnProductsRetrieveFailed(reason, message) })
}

func (m *marshaled) OnPurchaseSucceeded(order *model.PendingOrder) {
	m.exec.Post(func() { m.l.OnPurchaseSucceeded(order) })
}

func (m *marshaled) OnPurchaseFailed(order *model.FailedOrder) {
	m.exec.Post(func() { m.l.OnPurchaseFailed(order) })
}

func (m *marshaled) OnPurchaseDeferred(order *model.DeferredOrder) {
	m.exec.Post(func() { m.l.OnPurchaseDeferred(order) })
}

func (m *marshaled) OnConfirmOrderSucceeded(transactionID string) {
	m.exec.Post(func() { m.l.OnConfirmOrderSucceeded(transactionID) })
}

func (m *marshaled) OnConfirmOrderFailed(order *model.FailedOrder, transactionID string) {
	m.exec.Post(func() { m.l.OnConfirmOrderFailed(order, transactionID) })
}

func (m *marshaled) OnCheckEntitlement(definition *model.ProductDefinition, status model.EntitlementStatus, message string) {
	m.exec.Post(func() { m.l.OnCheckEntitlement(definition, status, message) })
}
