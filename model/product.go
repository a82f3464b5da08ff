package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type ProductType uint8

const (
	ProductTypeUnknown ProductType = iota
	ProductTypeConsumable
	ProductTypeNonConsumable
	ProductTypeSubscription
)

func (t ProductType) String() string {
	switch t {
	case ProductTypeConsumable:
		return "consumable"
	case ProductTypeNonConsumable:
		return "non_consumable"
	case ProductTypeSubscription:
		return "subscription"
	default:
		return "unknown"
	}
}

// ProductDefinition is a store agnostic catalog entry. It is created when the
// catalog is configured and never modified afterwards.
type ProductDefinition struct {
	ID              string
	StoreSpecificID string
	Type            ProductType
}

// NewProductDefinition creates a definition. An empty storeSpecificID falls
// back to id.
func NewProductDefinition(id, storeSpecificID string, productType ProductType) *ProductDefinition {
	if storeSpecificID == "" {
		storeSpecificID = id
	}
	return &ProductDefinition{
		ID:              id,
		StoreSpecificID: storeSpecificID,
		Type:            productType,
	}
}

func (d *ProductDefinition) Validate() error {
	if d == nil {
		return errors.New("product definition is nil")
	}
	if d.ID == "" {
		return errors.New("product definition id is empty")
	}
	if d.StoreSpecificID == "" {
		return fmt.Errorf("product definition %s has no store specific id", d.ID)
	}
	if d.Type == ProductTypeUnknown || d.Type > ProductTypeSubscription {
		return fmt.Errorf("product definition %s has unknown type", d.ID)
	}
	return nil
}

func (d *ProductDefinition) Equals(other *ProductDefinition) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.StoreSpecificID == other.StoreSpecificID && d.ID == other.ID && d.Type == other.Type
}

type ProductMetadata struct {
	Price                decimal.Decimal
	CurrencyCode         string
	LocalizedTitle       string
	LocalizedDescription string
}

// PriceString formats the price for display in the given locale. Unknown
// currency codes are printed after the bare amount.
func (m ProductMetadata) PriceString(tag language.Tag) string {
	amount, _ := m.Price.Float64()
	p := message.NewPrinter(tag)

	unit, err := currency.ParseISO(m.CurrencyCode)
	if err != nil {
		return p.Sprintf("%s %s", m.Price.StringFixed(2), m.CurrencyCode)
	}
	return p.Sprintf("%v", currency.Symbol(unit.Amount(amount)))
}

// ProductDescription is what a native store reports for a single product when
// products are fetched.
type ProductDescription struct {
	StoreSpecificID string
	Metadata        ProductMetadata
	Receipt         string
	TransactionID   string
}

// Product is a definition bound to live store metadata.
type Product struct {
	Definition    *ProductDefinition
	Metadata      ProductMetadata
	Available     bool
	Receipt       string
	TransactionID string
}

func NewProduct(def *ProductDefinition, desc *ProductDescription) *Product {
	return &Product{
		Definition:    def,
		Metadata:      desc.Metadata,
		Available:     true,
		Receipt:       desc.Receipt,
		TransactionID: desc.TransactionID,
	}
}

// StoreSpecificID returns the store specific id of the product definition, or
// an empty string if there is none.
func (p *Product) StoreSpecificID() string {
	if p == nil || p.Definition == nil {
		return ""
	}
	return p.Definition.StoreSpecificID
}

func (p *Product) Clone() *Product {
	cloned := *p
	return &cloned
}
