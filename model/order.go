package model

type PurchaseFailureReason uint8

const (
	PurchaseFailureUnknown PurchaseFailureReason = iota
	PurchaseFailurePurchasingUnavailable
	PurchaseFailureExistingPurchasePending
	PurchaseFailureProductUnavailable
	PurchaseFailureSignatureInvalid
	PurchaseFailureUserCancelled
	PurchaseFailurePaymentDeclined
	PurchaseFailureDuplicateTransaction
	PurchaseFailureValidationFailed
	PurchaseFailureTimeout
)

func (r PurchaseFailureReason) String() string {
	switch r {
	case PurchaseFailurePurchasingUnavailable:
		return "PurchasingUnavailable"
	case PurchaseFailureExistingPurchasePending:
		return "ExistingPurchasePending"
	case PurchaseFailureProductUnavailable:
		return "ProductUnavailable"
	case PurchaseFailureSignatureInvalid:
		return "SignatureInvalid"
	case PurchaseFailureUserCancelled:
		return "UserCancelled"
	case PurchaseFailurePaymentDeclined:
		return "PaymentDeclined"
	case PurchaseFailureDuplicateTransaction:
		return "DuplicateTransaction"
	case PurchaseFailureValidationFailed:
		return "ValidationFailed"
	case PurchaseFailureTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

type ProductFetchFailureReason uint8

const (
	ProductFetchFailureUnknown ProductFetchFailureReason = iota
	ProductFetchFailureProductsUnavailable
	ProductFetchFailureNetworkUnavailable
	ProductFetchFailureTimeout
)

func (r ProductFetchFailureReason) String() string {
	switch r {
	case ProductFetchFailureProductsUnavailable:
		return "ProductsUnavailable"
	case ProductFetchFailureNetworkUnavailable:
		return "NetworkUnavailable"
	case ProductFetchFailureTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

type OrderInfo struct {
	TransactionID string
	Receipt       string
	StoreName     string
}

// Order is the result of a purchase attempt.
type Order interface {
	GetCart() *Cart
	GetInfo() *OrderInfo
}

// PendingOrder is created when a store reports a successful purchase, and
// stays pending until it is confirmed.
type PendingOrder struct {
	Cart *Cart
	Info *OrderInfo
}

func (o *PendingOrder) GetCart() *Cart {
	if o == nil {
		return nil
	}
	return o.Cart
}

func (o *PendingOrder) GetInfo() *OrderInfo {
	if o == nil {
		return nil
	}
	return o.Info
}

type ConfirmedOrder struct {
	Cart *Cart
	Info *OrderInfo
}

func (o *ConfirmedOrder) GetCart() *Cart {
	if o == nil {
		return nil
	}
	return o.Cart
}

func (o *ConfirmedOrder) GetInfo() *OrderInfo {
	if o == nil {
		return nil
	}
	return o.Info
}

type FailedOrder struct {
	Cart    *Cart
	Info    *OrderInfo
	Reason  PurchaseFailureReason
	Message string
}

func NewFailedOrder(cart *Cart, reason PurchaseFailureReason, message string) *FailedOrder {
	return &FailedOrder{
		Cart:    cart,
		Info:    &OrderInfo{},
		Reason:  reason,
		Message: message,
	}
}

func (o *FailedOrder) GetCart() *Cart {
	if o == nil {
		return nil
	}
	return o.Cart
}

func (o *FailedOrder) GetInfo() *OrderInfo {
	if o == nil {
		return nil
	}
	return o.Info
}

// DeferredOrder is a purchase waiting on something outside the app, such as
// parental approval. The store resolves it later, out of band.
type DeferredOrder struct {
	Cart *Cart
	Info *OrderInfo
}

func (o *DeferredOrder) GetCart() *Cart {
	if o == nil {
		return nil
	}
	return o.Cart
}

func (o *DeferredOrder) GetInfo() *OrderInfo {
	if o == nil {
		return nil
	}
	return o.Info
}

// TransactionIDOf returns the transaction id of order, or an empty string.
func TransactionIDOf(order Order) string {
	if order == nil {
		return ""
	}
	info := order.GetInfo()
	if info == nil {
		return ""
	}
	return info.TransactionID
}
