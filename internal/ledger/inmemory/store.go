package inmemory

import (
	"context"
	"sync"

	"github.com/dvloznov/spend-assistant/internal/domain"
	"github.com/dvloznov/spend-assistant/internal/ledger"
)

// Store is an in-memory ledger.DocumentStore.
// It is safe for concurrent use and suitable for tests and single-instance runs.
type Store struct {
	mu   sync.RWMutex
	docs map[string]domain.LedgerDocument
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		docs: make(map[string]domain.LedgerDocument),
	}
}

// Load implements ledger.DocumentStore.
func (s *Store) Load(ctx context.Context, userID string) (domain.LedgerDocument, error) {
	if err := ctx.Err(); err != nil {
		return domain.LedgerDocument{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[userID]
	if !ok {
		return domain.EmptyLedger(userID), nil
	}
	return clone(doc), nil
}

// CompareAndSet implements ledger.DocumentStore.
func (s *Store) CompareAndSet(ctx context.Context, doc domain.LedgerDocument, expected int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ledger.CheckWritable(doc, expected); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.docs[doc.UserID]
	switch {
	case !ok && expected != 0:
		return ledger.ErrRevisionConflict
	case ok && current.Revision != expected:
		return ledger.ErrRevisionConflict
	}

	s.docs[doc.UserID] = clone(doc)
	return nil
}

// Users returns the IDs of all users with a stored document.
func (s *Store) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.docs))
	for id := range s.docs {
		users = append(users, id)
	}
	return users
}

func clone(doc domain.LedgerDocument) domain.LedgerDocument {
	entries := make([]domain.LedgerEntry, len(doc.Entries))
	copy(entries, doc.Entries)
	doc.Entries = entries
	return doc
}

// Compile-time check that Store implements ledger.DocumentStore.
var _ ledger.DocumentStore = (*Store)(nil)
