package postgres

import (
	"context"
	"database/sql"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/code-payments/flipchat-iap/ledger"
)

type pgStore struct {
	db *sqlx.DB
}

// NewInPostgres returns a ledger backed by db, which must use the pgx driver.
func NewInPostgres(db *sql.DB) ledger.Store {
	return &pgStore{
		db: sqlx.NewDb(db, "pgx"),
	}
}

// CreateSchema creates the ledger table if it does not exist yet.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return errors.Wrap(err, "failed to create ledger schema")
}

func (s *pgStore) reset() {
	_, err := s.db.ExecContext(context.Background(), `DELETE FROM `+recordTable)
	if err != nil {
		panic(err)
	}
}

func (s *pgStore) CreateRecord(ctx context.Context, record *ledger.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	m, err := toModel(record)
	if err != nil {
		return errors.Wrap(err, "failed to encode ledger record")
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO `+recordTable+` ("storeName", "transactionId", "items", "receipt", "state", "createdAt")
		VALUES (:storeName, :transactionId, :items, :receipt, :state, :createdAt)
	`, m)
	if isUniqueViolation(err) {
		return ledger.ErrExists
	}
	return err
}

func (s *pgStore) GetRecord(ctx context.Context, storeName, transactionID string) (*ledger.Record, error) {
	var m recordModel
	query := `SELECT "storeName", "transactionId", "items", "receipt", "state", "createdAt" FROM ` + recordTable + ` WHERE "storeName" = $1 AND "transactionId" = $2`
	err := s.db.GetContext(ctx, &m, query, storeName, transactionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	record, err := fromModel(&m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode ledger record")
	}
	return record, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
