package postgres

import (
	"encoding/json"
	"time"

	"github.com/code-payments/flipchat-iap/ledger"
)

const (
	recordTable = `"iap_ledger"`
)

// Schema creates the ledger table.
const Schema = `
CREATE TABLE IF NOT EXISTS ` + recordTable + ` (
	"storeName"     TEXT        NOT NULL,
	"transactionId" TEXT        NOT NULL,
	"items"         TEXT        NOT NULL,
	"receipt"       TEXT        NOT NULL DEFAULT '',
	"state"         SMALLINT    NOT NULL,
	"createdAt"     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY ("storeName", "transactionId")
)`

type recordModel struct {
	StoreName     string    `db:"storeName"`
	TransactionID string    `db:"transactionId"`
	Items         string    `db:"items"`
	Receipt       string    `db:"receipt"`
	State         int16     `db:"state"`
	CreatedAt     time.Time `db:"createdAt"`
}

func toModel(r *ledger.Record) (*recordModel, error) {
	items, err := json.Marshal(r.Items)
	if err != nil {
		return nil, err
	}

	return &recordModel{
		StoreName:     r.StoreName,
		TransactionID: r.TransactionID,
		Items:         string(items),
		Receipt:       r.Receipt,
		State:         int16(r.State),
		CreatedAt:     r.CreatedAt.UTC(),
	}, nil
}

func fromModel(m *recordModel) (*ledger.Record, error) {
	var items []ledger.Item
	if err := json.Unmarshal([]byte(m.Items), &items); err != nil {
		return nil, err
	}

	return &ledger.Record{
		StoreName:     m.StoreName,
		TransactionID: m.TransactionID,
		Items:         items,
		Receipt:       m.Receipt,
		State:         ledger.State(m.State),
		CreatedAt:     m.CreatedAt,
	}, nil
}
