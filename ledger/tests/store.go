package tests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/flipchat-iap/ledger"
	"github.com/code-payments/flipchat-iap/model"
)

func RunStoreTests(t *testing.T, s ledger.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s ledger.Store){
		testLedgerStore_HappyPath,
		testLedgerStore_ScopedByStore,
		testLedgerStore_Validation,
	} {
		tf(t, s)
		teardown()
	}
}

func testLedgerStore_HappyPath(t *testing.T, store ledger.Store) {
	expected := &ledger.Record{
		StoreName:     "GooglePlay",
		TransactionID: model.MustGenerateTransactionID(),
		Items: []ledger.Item{
			{ProductID: "com.flipchat.gems", Quantity: 3},
			{ProductID: "com.flipchat.noads", Quantity: 1},
		},
		Receipt:   "receipt",
		State:     ledger.StateConfirmed,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	_, err := store.GetRecord(context.Background(), expected.StoreName, expected.TransactionID)
	require.Equal(t, ledger.ErrNotFound, err)

	require.NoError(t, store.CreateRecord(context.Background(), expected))

	actual, err := store.GetRecord(context.Background(), expected.StoreName, expected.TransactionID)
	require.NoError(t, err)
	require.Equal(t, expected.StoreName, actual.StoreName)
	require.Equal(t, expected.TransactionID, actual.TransactionID)
	require.Equal(t, expected.Items, actual.Items)
	require.Equal(t, expected.Receipt, actual.Receipt)
	require.Equal(t, expected.State, actual.State)
	require.True(t, expected.CreatedAt.Equal(actual.CreatedAt))

	require.Equal(t, ledger.ErrExists, store.CreateRecord(context.Background(), expected))
}

func testLedgerStore_ScopedByStore(t *testing.T, store ledger.Store) {
	transactionID := model.MustGenerateTransactionID()

	for _, storeName := range []string{"GooglePlay", "AppleAppStore"} {
		require.NoError(t, store.CreateRecord(context.Background(), &ledger.Record{
			StoreName:     storeName,
			TransactionID: transactionID,
			State:         ledger.StateConfirmed,
			CreatedAt:     time.Now(),
		}))
	}

	actual, err := store.GetRecord(context.Background(), "AppleAppStore", transactionID)
	require.NoError(t, err)
	require.Equal(t, "AppleAppStore", actual.StoreName)

	_, err = store.GetRecord(context.Background(), "AmazonAppStore", transactionID)
	require.Equal(t, ledger.ErrNotFound, err)
}

func testLedgerStore_Validation(t *testing.T, store ledger.Store) {
	for _, invalid := range []*ledger.Record{
		{TransactionID: "tx", State: ledger.StateConfirmed},
		{StoreName: "GooglePlay", State: ledger.StateConfirmed},
		{StoreName: "GooglePlay", TransactionID: "tx"},
	} {
		require.Error(t, store.CreateRecord(context.Background(), invalid))
	}
}
