// Package redis implements the ledger document store and the per-user lock on
// top of Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dvloznov/spend-assistant/internal/domain"
	"github.com/dvloznov/spend-assistant/internal/ledger"
	goredislib "github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces ledger documents.
const DefaultKeyPrefix = "ledger:doc:"

// Store keeps each user's ledger document as one JSON value. Writes use
// WATCH/MULTI/EXEC so a concurrent writer aborts the transaction.
type Store struct {
	rdb    goredislib.UniversalClient
	prefix string
}

// NewStore creates a Store. An empty prefix selects DefaultKeyPrefix.
func NewStore(rdb goredislib.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) key(userID string) string {
	return s.prefix + userID
}

// Load implements ledger.DocumentStore.
func (s *Store) Load(ctx context.Context, userID string) (domain.LedgerDocument, error) {
	raw, err := s.rdb.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, goredislib.Nil) {
		return domain.EmptyLedger(userID), nil
	}
	if err != nil {
		return domain.LedgerDocument{}, fmt.Errorf("Load: get %s: %w", userID, err)
	}
	return decode(userID, raw)
}

// CompareAndSet implements ledger.DocumentStore.
func (s *Store) CompareAndSet(ctx context.Context, doc domain.LedgerDocument, expected int64) error {
	if err := ledger.CheckWritable(doc, expected); err != nil {
		return err
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("CompareAndSet: marshal: %w", err)
	}

	key := s.key(doc.UserID)
	err = s.rdb.Watch(ctx, func(tx *goredislib.Tx) error {
		current := int64(0)
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, goredislib.Nil):
		case err != nil:
			return fmt.Errorf("get: %w", err)
		default:
			stored, err := decode(doc.UserID, raw)
			if err != nil {
				return err
			}
			current = stored.Revision
		}

		if current != expected {
			return ledger.ErrRevisionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredislib.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, goredislib.TxFailedErr) {
		return ledger.ErrRevisionConflict
	}
	if err != nil && !errors.Is(err, ledger.ErrRevisionConflict) {
		return fmt.Errorf("CompareAndSet: %s: %w", doc.UserID, err)
	}
	return err
}

func decode(userID string, raw []byte) (domain.LedgerDocument, error) {
	var doc domain.LedgerDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.LedgerDocument{}, &ledger.StorageError{Op: "decode", UserID: userID, Kind: ledger.ErrCorruptLedger, Err: err}
	}
	if doc.Entries == nil {
		doc.Entries = []domain.LedgerEntry{}
	}
	return doc, nil
}

// Compile-time check that Store implements ledger.DocumentStore.
var _ ledger.DocumentStore = (*Store)(nil)
