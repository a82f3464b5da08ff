package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/code-payments/flipchat-iap/model"
)

var (
	ErrExists   = errors.New("ledger record already exists")
	ErrNotFound = errors.New("ledger record not found")
)

type State uint8

const (
	StateUnknown State = iota
	StateConfirmed
)

func (s State) String() string {
	switch s {
	case StateConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Record is a transaction as it was settled with a store. Records are keyed by
// store name and transaction id and are never updated.
type Record struct {
	StoreName     string
	TransactionID string
	Items         []Item
	Receipt       string
	State         State
	CreatedAt     time.Time
}

type Store interface {
	CreateRecord(ctx context.Context, record *Record) error
	GetRecord(ctx context.Context, storeName, transactionID string) (*Record, error)
}

func (r *Record) Validate() error {
	if r.StoreName == "" {
		return errors.New("store name is required")
	}
	if r.TransactionID == "" {
		return errors.New("transaction id is required")
	}
	if r.State == StateUnknown {
		return errors.New("state is required")
	}
	return nil
}

func (r *Record) Clone() *Record {
	cloned := *r
	cloned.Items = append([]Item(nil), r.Items...)
	return &cloned
}

// FromConfirmedOrder builds the record of a confirmed order.
func FromConfirmedOrder(order *model.ConfirmedOrder, now time.Time) *Record {
	record := &Record{
		State:     StateConfirmed,
		CreatedAt: now,
	}
	if order.Info != nil {
		record.StoreName = order.Info.StoreName
		record.TransactionID = order.Info.TransactionID
		record.Receipt = order.Info.Receipt
	}
	if order.Cart != nil {
		for _, item := range order.Cart.Items {
			record.Items = append(record.Items, Item{
				ProductID: item.Product.StoreSpecificID(),
				Quantity:  item.Quantity,
			})
		}
	}
	return record
}
