package model

type CartItem struct {
	Product  *Product
	Quantity int
}

// Cart is a candidate purchase request, built just before a purchase and
// discarded once the purchase is dispatched.
type Cart struct {
	Items []*CartItem
}

func NewCart(items ...*CartItem) *Cart {
	return &Cart{Items: items}
}

// NewSingleItemCart returns a cart holding quantity units of product.
func NewSingleItemCart(product *Product, quantity int) *Cart {
	return NewCart(&CartItem{Product: product, Quantity: quantity})
}

// FirstProduct returns the product of the first item, if any.
func (c *Cart) FirstProduct() *Product {
	if c == nil || len(c.Items) == 0 || c.Items[0] == nil {
		return nil
	}
	return c.Items[0].Product
}
