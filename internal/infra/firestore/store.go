// Package firestore implements the ledger document store on Cloud Firestore,
// one document per user in the transactions collection.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dvloznov/spend-assistant/internal/domain"
	"github.com/dvloznov/spend-assistant/internal/ledger"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultCollection holds the per-user ledger documents.
const DefaultCollection = "transactions"

type entryRecord struct {
	ID          string    `firestore:"id"`
	Type        string    `firestore:"type"`
	Amount      string    `firestore:"amount"`
	Date        time.Time `firestore:"date"`
	CreatedAt   time.Time `firestore:"createdAt"`
	Source      string    `firestore:"source"`
	Description string    `firestore:"description"`
}

// record is the stored shape. Money is kept as decimal strings so values
// survive the round trip exactly.
type record struct {
	UserID       string        `firestore:"userId"`
	Revision     int64         `firestore:"revision"`
	TotalAmount  string        `firestore:"totalAmount"`
	Transactions []entryRecord `firestore:"transactions"`
}

func toRecord(doc domain.LedgerDocument) record {
	entries := make([]entryRecord, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		entries = append(entries, entryRecord{
			ID:          e.ID,
			Type:        string(e.Kind),
			Amount:      e.Amount.StringFixed(2),
			Date:        e.OccurredAt,
			CreatedAt:   e.RecordedAt,
			Source:      e.Origin,
			Description: e.Note,
		})
	}
	return record{
		UserID:       doc.UserID,
		Revision:     doc.Revision,
		TotalAmount:  doc.Balance.StringFixed(2),
		Transactions: entries,
	}
}

func fromRecord(userID string, rec record) (domain.LedgerDocument, error) {
	balance, err := decimal.NewFromString(rec.TotalAmount)
	if err != nil {
		return domain.LedgerDocument{}, fmt.Errorf("totalAmount: %w", err)
	}

	entries := make([]domain.LedgerEntry, 0, len(rec.Transactions))
	for i, r := range rec.Transactions {
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return domain.LedgerDocument{}, fmt.Errorf("transactions[%d].amount: %w", i, err)
		}
		entries = append(entries, domain.LedgerEntry{
			ID:         r.ID,
			Kind:       domain.Kind(r.Type),
			Amount:     amount,
			OccurredAt: r.Date.UTC(),
			RecordedAt: r.CreatedAt.UTC(),
			Origin:     r.Source,
			Note:       r.Description,
		})
	}

	return domain.LedgerDocument{
		UserID:   userID,
		Revision: rec.Revision,
		Balance:  balance,
		Entries:  entries,
	}, nil
}

// Store keeps ledger documents in Firestore. Writes run in a single-attempt
// transaction so conflicts surface to the ledger service, which owns retries.
type Store struct {
	client     *firestore.Client
	collection string
}

// NewStore creates a Store. An empty collection selects DefaultCollection.
func NewStore(client *firestore.Client, collection string) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{client: client, collection: collection}
}

func (s *Store) ref(userID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(userID)
}

func decodeSnapshot(userID string, snap *firestore.DocumentSnapshot) (domain.LedgerDocument, error) {
	var rec record
	if err := snap.DataTo(&rec); err != nil {
		return domain.LedgerDocument{}, &ledger.StorageError{Op: "decode", UserID: userID, Kind: ledger.ErrCorruptLedger, Err: err}
	}
	doc, err := fromRecord(userID, rec)
	if err != nil {
		return domain.LedgerDocument{}, &ledger.StorageError{Op: "decode", UserID: userID, Kind: ledger.ErrCorruptLedger, Err: err}
	}
	return doc, nil
}

// Load implements ledger.DocumentStore.
func (s *Store) Load(ctx context.Context, userID string) (domain.LedgerDocument, error) {
	snap, err := s.ref(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return domain.EmptyLedger(userID), nil
	}
	if err != nil {
		return domain.LedgerDocument{}, fmt.Errorf("Load: get %s: %w", userID, err)
	}
	return decodeSnapshot(userID, snap)
}

// CompareAndSet implements ledger.DocumentStore.
func (s *Store) CompareAndSet(ctx context.Context, doc domain.LedgerDocument, expected int64) error {
	if err := ledger.CheckWritable(doc, expected); err != nil {
		return err
	}

	ref := s.ref(doc.UserID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current := int64(0)
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			stored, err := decodeSnapshot(doc.UserID, snap)
			if err != nil {
				return err
			}
			current = stored.Revision
		}

		if current != expected {
			return ledger.ErrRevisionConflict
		}
		return tx.Set(ref, toRecord(doc))
	}, firestore.MaxAttempts(1))

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ledger.ErrRevisionConflict):
		return ledger.ErrRevisionConflict
	case status.Code(err) == codes.Aborted:
		// Another transaction touched the document before commit.
		return ledger.ErrRevisionConflict
	default:
		return fmt.Errorf("CompareAndSet: %s: %w", doc.UserID, err)
	}
}

// Compile-time check that Store implements ledger.DocumentStore.
var _ ledger.DocumentStore = (*Store)(nil)
