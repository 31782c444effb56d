// Package postgres implements the ledger document store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dvloznov/spend-assistant/internal/domain"
	"github.com/dvloznov/spend-assistant/internal/ledger"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	selectDocument = `SELECT revision, balance, entries FROM ledger_documents WHERE user_id = $1`

	insertDocument = `INSERT INTO ledger_documents (user_id, revision, balance, entries, updated_at)
	VALUES ($1, $2, $3, $4, now())
	ON CONFLICT (user_id) DO NOTHING`

	updateDocument = `UPDATE ledger_documents
	SET revision = $2, balance = $3, entries = $4, updated_at = now()
	WHERE user_id = $1 AND revision = $5`
)

// Store keeps ledger documents in the ledger_documents table, created by
// migrations/postgres (run cmd/migrate -target postgres). Each write is
// a single conditional statement, so it is atomic without an explicit
// transaction.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store on an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with the lib/pq driver and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("Open: parse dsn: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("Open: ping: %w", err)
	}
	return db, nil
}

// Load implements ledger.DocumentStore.
func (s *Store) Load(ctx context.Context, userID string) (domain.LedgerDocument, error) {
	var (
		revision int64
		balance  decimal.Decimal
		raw      []byte
	)
	err := s.db.QueryRowContext(ctx, selectDocument, userID).Scan(&revision, &balance, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EmptyLedger(userID), nil
	}
	if err != nil {
		return domain.LedgerDocument{}, fmt.Errorf("Load: query %s: %w", userID, err)
	}

	entries, err := decodeEntries(raw)
	if err != nil {
		return domain.LedgerDocument{}, &ledger.StorageError{Op: "decode", UserID: userID, Kind: ledger.ErrCorruptLedger, Err: err}
	}

	return domain.LedgerDocument{
		UserID:   userID,
		Revision: revision,
		Balance:  balance,
		Entries:  entries,
	}, nil
}

// CompareAndSet implements ledger.DocumentStore.
func (s *Store) CompareAndSet(ctx context.Context, doc domain.LedgerDocument, expected int64) error {
	if err := ledger.CheckWritable(doc, expected); err != nil {
		return err
	}

	entries, err := json.Marshal(doc.Entries)
	if err != nil {
		return fmt.Errorf("CompareAndSet: marshal entries: %w", err)
	}

	var res sql.Result
	if expected == 0 {
		res, err = s.db.ExecContext(ctx, insertDocument, doc.UserID, doc.Revision, doc.Balance, entries)
	} else {
		res, err = s.db.ExecContext(ctx, updateDocument, doc.UserID, doc.Revision, doc.Balance, entries, expected)
	}
	if err != nil {
		return fmt.Errorf("CompareAndSet: exec %s: %w", doc.UserID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("CompareAndSet: rows affected: %w", err)
	}
	if n == 0 {
		return ledger.ErrRevisionConflict
	}
	return nil
}

func decodeEntries(raw []byte) ([]domain.LedgerEntry, error) {
	entries := []domain.LedgerEntry{}
	if len(raw) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Compile-time check that Store implements ledger.DocumentStore.
var _ ledger.DocumentStore = (*Store)(nil)
