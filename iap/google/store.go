package google

import (
	"github.com/code-payments/flipchat-iap/dispatch"
	"github.com/code-payments/flipchat-iap/model"
	"github.com/code-payments/flipchat-iap/native"
)

// ReplacementMode controls how Google Play bills the switch from one
// subscription to another.
type ReplacementMode uint8

const (
	ReplacementModeWithTimeProration ReplacementMode = iota
	ReplacementModeChargeProratedPrice
	ReplacementModeWithoutProration
	ReplacementModeChargeFullPrice
	ReplacementModeDeferred
)

func (m ReplacementMode) String() string {
	switch m {
	case ReplacementModeWithTimeProration:
		return "WithTimeProration"
	case ReplacementModeChargeProratedPrice:
		return "ChargeProratedPrice"
	case ReplacementModeWithoutProration:
		return "WithoutProration"
	case ReplacementModeChargeFullPrice:
		return "ChargeFullPrice"
	case ReplacementModeDeferred:
		return "Deferred"
	default:
		return "Unknown"
	}
}

// Store is a native store that can also replace one subscription with
// another.
type Store interface {
	native.Store

	// ConnectSubscriptions sets the listener for subscription changes.
	ConnectSubscriptions(l Listener)

	ChangeSubscription(currentOrder model.Order, newProduct *model.Product, mode ReplacementMode) error
}

// Listener receives the outcome of a subscription change, keyed by the store
// specific id of the new product.
type Listener interface {
	OnSubscriptionChangeSucceeded(storeSpecificID string, order *model.PendingOrder)
	OnSubscriptionChangeDeferred(storeSpecificID string, order *model.DeferredOrder)
	OnSubscriptionChangeFailed(storeSpecificID string, order *model.FailedOrder)
}

type marshaled struct {
	exec dispatch.Executor
	l    Listener
}

// Marshal returns a Listener that forwards every callback to l on exec.
func Marshal(exec dispatch.Executor, l Listener) Listener {
	return &marshaled{exec: exec, l: l}
}

func (m *marshaled) OnSubscriptionChangeSucceeded(storeSpecificID string, order *model.PendingOrder) {
	m.exec.Post(func() { m.l.OnSubscriptionChangeSucceeded(storeSpecificID, order) })
}

func (m *marshaled) OnSubscriptionChangeDeferred(storeSpecificID string, order *model.DeferredOrder) {
	m.exec.Post(func() { m.l.OnSubscriptionChangeDeferred(storeSpecificID, order) })
}

func (m *marshaled) OnSubscriptionChangeFailed(storeSpecificID string, order *model.FailedOrder) {
	m.exec.Post(func() { m.l.OnSubscriptionChangeFailed(storeSpecificID, order) })
}
