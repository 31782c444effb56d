// Package ledger applies transaction intents to per-user ledger documents.
//
// Every apply is a read-modify-write of the user's whole document guarded by
// its revision. Conflicting writers are retried with jittered exponential
// backoff; an optional Locker serializes writers for the same user up front.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/spend-assistant/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// DefaultMaxAttempts bounds the read-modify-write attempts per apply.
	DefaultMaxAttempts = 5
	// DefaultRetryBase is the backoff unit between attempts.
	DefaultRetryBase = 20 * time.Millisecond
)

// Result is the outcome of a successful apply.
type Result struct {
	Balance  decimal.Decimal    `json:"balance"`
	Entry    domain.LedgerEntry `json:"entry"`
	Revision int64              `json:"revision"`
}

// Service is the ledger store used by the rest of the application.
type Service struct {
	store       DocumentStore
	locker      Locker
	log         zerolog.Logger
	maxAttempts int
	retryBase   time.Duration
	now         func() time.Time
	newID       func() string
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a Service.
type Option func(*Service)

// WithLocker serializes applies for the same user through l.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithLogger sets the service logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithMaxAttempts sets the attempt budget. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n >= 1 {
			s.maxAttempts = n
		}
	}
}

// WithRetryBase sets the backoff unit.
func WithRetryBase(d time.Duration) Option {
	return func(s *Service) { s.retryBase = d }
}

// WithClock overrides the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides entry ID generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// WithSleep overrides how the service waits between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = sleep }
}

// NewService creates a Service on top of store.
func NewService(store DocumentStore, opts ...Option) *Service {
	s := &Service{
		store:       store,
		log:         zerolog.Nop(),
		maxAttempts: DefaultMaxAttempts,
		retryBase:   DefaultRetryBase,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ApplyTransaction appends one entry for intent to the user's ledger and
// returns the new balance. Each call appends at most one entry, however many
// attempts it takes. On failure the stored document is left as it was.
func (s *Service) ApplyTransaction(ctx context.Context, userID string, intent domain.TransactionIntent) (Result, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Result{}, ErrIdentityRequired
	}
	if err := intent.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	intent.Amount = intent.Amount.Round(2)
	if !intent.Amount.IsPositive() {
		return Result{}, fmt.Errorf("%w: amount rounds to zero", ErrInvalidIntent)
	}
	if intent.Note == "" {
		intent.Note = domain.NoteFor(intent.Kind)
	}

	log := s.log.With().Str("user_id", userID).Logger()

	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, userID)
		if err != nil {
			return Result{}, &StorageError{Op: "lock", UserID: userID, Kind: ErrStorageUnavailable, Err: err}
		}
		defer unlock()
	}

	// Built once so every attempt writes the same entry ID.
	entry := domain.NewLedgerEntry(s.newID(), intent, s.now())

	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := jittered(s.retryBase, attempt-1)
			log.Debug().
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Err(lastErr).
				Msg("Retrying ledger apply")
			if err := s.sleep(ctx, delay); err != nil {
				return Result{}, &StorageError{Op: "apply", UserID: userID, Kind: ErrStorageUnavailable, Err: err}
			}
		}

		res, err := s.attempt(ctx, userID, entry)
		if err == nil {
			log.Info().
				Str("entry_id", res.Entry.ID).
				Str("kind", string(res.Entry.Kind)).
				Str("amount", res.Entry.Amount.StringFixed(2)).
				Str("balance", res.Balance.StringFixed(2)).
				Int64("revision", res.Revision).
				Int("attempts", attempt+1).
				Msg("Transaction applied")
			return res, nil
		}

		var se *StorageError
		if errors.As(err, &se) {
			return Result{}, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, &StorageError{Op: "apply", UserID: userID, Kind: ErrStorageUnavailable, Err: err}
		}
		lastErr = err
	}

	kind := ErrStorageUnavailable
	if errors.Is(lastErr, ErrRevisionConflict) {
		kind = ErrConflictExhausted
	}
	log.Warn().Err(lastErr).Int("attempts", s.maxAttempts).Msg("Ledger apply gave up")
	return Result{}, &StorageError{Op: "apply", UserID: userID, Kind: kind, Err: lastErr}
}

// attempt runs one read-modify-write cycle. A returned *StorageError is
// final; any other error may be retried.
func (s *Service) attempt(ctx context.Context, userID string, entry domain.LedgerEntry) (Result, error) {
	doc, err := s.store.Load(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("load: %w", err)
	}

	// A previous attempt may have committed even though it reported an error.
	if existing, ok := doc.Entry(entry.ID); ok {
		return Result{Balance: doc.Balance, Entry: existing, Revision: doc.Revision}, nil
	}

	if err := doc.Verify(); err != nil {
		return Result{}, &StorageError{Op: "apply", UserID: userID, Kind: ErrCorruptLedger, Err: err}
	}

	next := doc.Append(entry)
	if err := s.store.CompareAndSet(ctx, next, doc.Revision); err != nil {
		return Result{}, fmt.Errorf("compare and set: %w", err)
	}

	return Result{Balance: next.Balance, Entry: entry, Revision: next.Revision}, nil
}

// Ledger returns the user's current document, or an empty one when the user
// has no history yet.
func (s *Service) Ledger(ctx context.Context, userID string) (domain.LedgerDocument, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.LedgerDocument{}, ErrIdentityRequired
	}

	doc, err := s.store.Load(ctx, userID)
	if err != nil {
		return domain.LedgerDocument{}, &StorageError{Op: "load", UserID: userID, Kind: ErrStorageUnavailable, Err: err}
	}
	return doc, nil
}

// Verify loads the user's document and checks the balance invariant.
func (s *Service) Verify(ctx context.Context, userID string) (domain.LedgerDocument, error) {
	doc, err := s.Ledger(ctx, userID)
	if err != nil {
		return doc, err
	}
	if err := doc.Verify(); err != nil {
		return doc, &StorageError{Op: "verify", UserID: doc.UserID, Kind: ErrCorruptLedger, Err: err}
	}
	return doc, nil
}
