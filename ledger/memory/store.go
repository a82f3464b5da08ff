package memory

import (
	"context"
	"sync"

	"github.com/code-payments/flipchat-iap/ledger"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*ledger.Record
}

func NewInMemory() ledger.Store {
	return &InMemoryStore{
		records: map[string]*ledger.Record{},
	}
}

func (s *InMemoryStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*ledger.Record)
}

func (s *InMemoryStore) CreateRecord(_ context.Context, record *ledger.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := toKey(record.StoreName, record.TransactionID)
	if _, ok := s.records[key]; ok {
		return ledger.ErrExists
	}

	s.records[key] = record.Clone()

	return nil
}

func (s *InMemoryStore) GetRecord(_ context.Context, storeName, transactionID string) (*ledger.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[toKey(storeName, transactionID)]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return record.Clone(), nil
}

func toKey(storeName, transactionID string) string {
	return storeName + "/" + transactionID
}
