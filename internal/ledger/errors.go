package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrIdentityRequired is returned when no user identifier was supplied.
	// Storage is never touched in that case.
	ErrIdentityRequired = errors.New("user identity required")

	// ErrInvalidIntent is returned for intents that cannot be applied, such
	// as a non-positive amount.
	ErrInvalidIntent = errors.New("invalid transaction intent")

	// ErrRevisionConflict is returned by DocumentStore.CompareAndSet when the
	// stored revision no longer matches the expected one.
	ErrRevisionConflict = errors.New("ledger revision conflict")

	// ErrStorageUnavailable classifies failures of the backing store.
	ErrStorageUnavailable = errors.New("ledger storage unavailable")

	// ErrConflictExhausted classifies applies that kept losing the revision
	// race until the retry budget ran out.
	ErrConflictExhausted = errors.New("ledger conflict retries exhausted")

	// ErrCorruptLedger is returned when a stored document fails verification.
	ErrCorruptLedger = errors.New("ledger document is corrupt")
)

// StorageError is returned when an operation against the store fails.
// Kind is one of ErrStorageUnavailable, ErrConflictExhausted or
// ErrCorruptLedger; Err is the last underlying cause.
type StorageError struct {
	Op     string
	UserID string
	Kind   error
	Err    error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ledger %s for %s: %v", e.Op, e.UserID, e.Kind)
	}
	return fmt.Sprintf("ledger %s for %s: %v: %v", e.Op, e.UserID, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *StorageError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}
