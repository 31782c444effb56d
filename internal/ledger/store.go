package ledger

import (
	"context"

	"github.com/dvloznov/spend-assistant/internal/domain"
)

// DocumentStore persists one LedgerDocument per user.
//
// Implementations must make CompareAndSet a single atomic conditional write:
// either the whole document is stored or nothing changes.
type DocumentStore interface {
	// Load returns the stored document, or domain.EmptyLedger(userID) with
	// revision 0 when the user has no document yet.
	Load(ctx context.Context, userID string) (domain.LedgerDocument, error)

	// CompareAndSet stores doc if the currently stored revision equals
	// expected. An expected revision of 0 means the document must not exist.
	// It returns ErrRevisionConflict when another writer got there first.
	CompareAndSet(ctx context.Context, doc domain.LedgerDocument, expected int64) error
}

// Locker provides per-key mutual exclusion. The returned unlock function
// must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// CheckWritable verifies the document a store is about to persist. Stores
// call it before every write so a document that breaks the balance invariant
// is never committed.
func CheckWritable(doc domain.LedgerDocument, expected int64) error {
	if doc.UserID == "" {
		return ErrIdentityRequired
	}
	if doc.Revision != expected+1 {
		return ErrRevisionConflict
	}
	if err := doc.Verify(); err != nil {
		return &StorageError{Op: "write", UserID: doc.UserID, Kind: ErrCorruptLedger, Err: err}
	}
	return nil
}
