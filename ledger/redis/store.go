package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/code-payments/flipchat-iap/ledger"
)

const recordKeyPrefix = "iap:ledger:"

type redisStore struct {
	client *redis.Client
}

func NewInRedis(client *redis.Client) ledger.Store {
	return &redisStore{client: client}
}

type recordModel struct {
	StoreName     string        `json:"store_name"`
	TransactionID string        `json:"transaction_id"`
	Items         []ledger.Item `json:"items"`
	Receipt       string        `json:"receipt"`
	State         ledger.State  `json:"state"`
	CreatedAt     time.Time     `json:"created_at"`
}

func (s *redisStore) CreateRecord(ctx context.Context, record *ledger.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	encoded, err := json.Marshal(&recordModel{
		StoreName:     record.StoreName,
		TransactionID: record.TransactionID,
		Items:         record.Items,
		Receipt:       record.Receipt,
		State:         record.State,
		CreatedAt:     record.CreatedAt,
	})
	if err != nil {
		return errors.Wrap(err, "failed to encode ledger record")
	}

	ok, err := s.client.SetNX(ctx, toKey(record.StoreName, record.TransactionID), encoded, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ledger.ErrExists
	}
	return nil
}

func (s *redisStore) GetRecord(ctx context.Context, storeName, transactionID string) (*ledger.Record, error) {
	encoded, err := s.client.Get(ctx, toKey(storeName, transactionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ledger.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	var m recordModel
	if err := json.Unmarshal(encoded, &m); err != nil {
		return nil, errors.Wrap(err, "failed to decode ledger record")
	}

	return &ledger.Record{
		StoreName:     m.StoreName,
		TransactionID: m.TransactionID,
		Items:         m.Items,
		Receipt:       m.Receipt,
		State:         m.State,
		CreatedAt:     m.CreatedAt,
	}, nil
}

func toKey(storeName, transactionID string) string {
	return recordKeyPrefix + storeName + ":" + transactionID
}
