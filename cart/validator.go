package cart

import (
	"github.com/code-payments/flipchat-iap/failure"
	"github.com/code-payments/flipchat-iap/model"
)

const op = "cart.Validate"

// Validator rejects a cart before it reaches a store. Implementations have no
// side effects, and their failures are never retried.
type Validator interface {
	Validate(cart *model.Cart) error
}

// ValidatorFunc is an adapter to allow the use of ordinary
// functions as Validators.
type ValidatorFunc func(cart *model.Cart) error

// Validate calls f(cart).
func (f ValidatorFunc) Validate(cart *model.Cart) error {
	return f(cart)
}

func invalidCart(format string, args ...any) error {
	return failure.New(failure.KindInvalidCart, op, format, args...)
}

func invalidCartItem(format string, args ...any) error {
	return failure.New(failure.KindInvalidCartItem, op, format, args...)
}

// NonNull requires the cart, its item list, and every item's product and
// definition to be present.
func NonNull() Validator {
	return ValidatorFunc(func(cart *model.Cart) error {
		if cart == nil {
			return invalidCart("cart is nil")
		}
		if cart.Items == nil {
			return invalidCart("cart items are nil")
		}
		for i, item := range cart.Items {
			if item == nil {
				return invalidCartItem("item %d is nil", i)
			}
			if item.Product == nil {
				return invalidCartItem("item %d has no product", i)
			}
			if item.Product.Definition == nil {
				return invalidCartItem("item %d has no product definition", i)
			}
		}
		return nil
	})
}

func SingleProduct() Validator {
	return ValidatorFunc(func(cart *model.Cart) error {
		if cart == nil {
			return invalidCart("cart is nil")
		}
		if n := len(cart.Items); n != 1 {
			return invalidCart("cart must contain exactly one item, found %d", n)
		}
		return nil
	})
}

func SingleQuantity() Validator {
	return ValidatorFunc(func(cart *model.Cart) error {
		for _, item := range itemsOf(cart) {
			if item.Quantity != 1 {
				return invalidCartItem("product %s must have a quantity of 1, found %d", item.Product.StoreSpecificID(), item.Quantity)
			}
		}
		return nil
	})
}

// DistinctProducts rejects carts listing the same product more than once. The
// quantity field must be used instead.
func DistinctProducts() Validator {
	return ValidatorFunc(func(cart *model.Cart) error {
		seen := make(map[string]struct{})
		for _, item := range itemsOf(cart) {
			id := item.Product.StoreSpecificID()
			if _, ok := seen[id]; ok {
				return invalidCartItem("product %s appears more than once, use the item quantity instead", id)
			}
			seen[id] = struct{}{}
		}
		return nil
	})
}

// MultipleConsumableQuantity allows any positive quantity for consumables, and
// exactly one of anything else.
func MultipleConsumableQuantity() Validator {
	return ValidatorFunc(func(cart *model.Cart) error {
		for _, item := range itemsOf(cart) {
			def := item.Product.Definition
			if def == nil {
				continue
			}
			if def.Type == model.ProductTypeConsumable {
				if item.Quantity <= 0 {
					return invalidCartItem("consumable %s must have a positive quantity, found %d", def.StoreSpecificID, item.Quantity)
				}
				continue
			}
			if item.Quantity != 1 {
				return invalidCartItem("%s %s must have a quantity of exactly 1, found %d", def.Type, def.StoreSpecificID, item.Quantity)
			}
		}
		return nil
	})
}

// itemsOf returns the well formed items of cart. Malformed items are left to
// NonNull.
func itemsOf(cart *model.Cart) []*model.CartItem {
	if cart == nil {
		return nil
	}
	items := make([]*model.CartItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		if item != nil && item.Product != nil {
			items = append(items, item)
		}
	}
	return items
}

type aggregate []Validator

// Aggregate runs validators in order and returns the first failure.
func Aggregate(validators ...Validator) Validator {
	return aggregate(validators)
}

func (a aggregate) Validate(cart *model.Cart) error {
	for _, v := range a {
		if err := v.Validate(cart); err != nil {
			return err
		}
	}
	return nil
}

type storeScoped struct {
	storeName string
	inner     Validator
}

// StoreScoped prefixes failures from v with the store name. Every failure is
// reported as an invalid cart, with the original failure as its cause.
func StoreScoped(storeName string, v Validator) Validator {
	return &storeScoped{storeName: storeName, inner: v}
}

func (s *storeScoped) Validate(cart *model.Cart) error {
	err := s.inner.Validate(cart)
	if err == nil {
		return nil
	}
	return failure.Wrap(err, failure.KindInvalidCart, op, "%s: %s", s.storeName, failure.MessageOf(err))
}
