package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/spend-assistant/internal/domain"
	"github.com/dvloznov/spend-assistant/internal/ledger"
	"github.com/dvloznov/spend-assistant/internal/ledger/inmemory"
	"github.com/dvloznov/spend-assistant/internal/lock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var _ ledger.Locker = (*lock.KeyedMutex)(nil)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func income(amount string) domain.TransactionIntent {
	return domain.TransactionIntent{Kind: domain.KindIncome, Amount: decimal.RequireFromString(amount), Note: domain.IncomeNote}
}

func expense(amount string) domain.TransactionIntent {
	return domain.TransactionIntent{Kind: domain.KindExpense, Amount: decimal.RequireFromString(amount), Note: domain.ExpenseNote}
}

// flakyStore wraps a DocumentStore and lets tests inject failures.
type flakyStore struct {
	inner         ledger.DocumentStore
	loadFunc      func(ctx context.Context, userID string) error
	casFunc       func(ctx context.Context, doc domain.LedgerDocument, expected int64) error
	loadCalls     atomic.Int32
	casCalls      atomic.Int32
	commitThenErr atomic.Bool
}

func (f *flakyStore) Load(ctx context.Context, userID string) (domain.LedgerDocument, error) {
	f.loadCalls.Add(1)
	if f.loadFunc != nil {
		if err := f.loadFunc(ctx, userID); err != nil {
			return domain.LedgerDocument{}, err
		}
	}
	return f.inner.Load(ctx, userID)
}

func (f *flakyStore) CompareAndSet(ctx context.Context, doc domain.LedgerDocument, expected int64) error {
	n := f.casCalls.Add(1)
	if f.casFunc != nil {
		if err := f.casFunc(ctx, doc, expected); err != nil {
			return err
		}
	}
	if err := f.inner.CompareAndSet(ctx, doc, expected); err != nil {
		return err
	}
	// Simulate a lost acknowledgement on the first committed write.
	if n == 1 && f.commitThenErr.Load() {
		return errors.New("connection reset after commit")
	}
	return nil
}

func TestService_ApplyTransaction(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ids := 0
	svc := ledger.NewService(inmemory.NewStore(),
		ledger.WithClock(func() time.Time { return at }),
		ledger.WithIDGenerator(func() string { ids++; return fmt.Sprintf("entry-%d", ids) }),
	)

	res, err := svc.ApplyTransaction(ctx, "alice@example.com", income("5000"))
	require.NoError(t, err)
	assert.True(t, res.Balance.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, "entry-1", res.Entry.ID)
	assert.Equal(t, domain.OriginChat, res.Entry.Origin)
	assert.Equal(t, at, res.Entry.OccurredAt)
	assert.Equal(t, at, res.Entry.RecordedAt)
	assert.Equal(t, int64(1), res.Revision)

	res, err = svc.ApplyTransaction(ctx, "alice@example.com", expense("150"))
	require.NoError(t, err)
	assert.True(t, res.Balance.Equal(decimal.NewFromInt(4850)))

	doc, err := svc.Ledger(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Len(t, doc.Entries, 2)
	assert.Equal(t, domain.KindIncome, doc.Entries[0].Kind)
	assert.Equal(t, domain.KindExpense, doc.Entries[1].Kind)
	assert.NoError(t, doc.Verify())
}

func TestService_ApplyTransaction_Validation(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{inner: inmemory.NewStore()}
	svc := ledger.NewService(store)

	tests := []struct {
		name    string
		userID  string
		intent  domain.TransactionIntent
		wantErr error
	}{
		{name: "empty user", userID: "", intent: income("10"), wantErr: ledger.ErrIdentityRequired},
		{name: "blank user", userID: "   ", intent: income("10"), wantErr: ledger.ErrIdentityRequired},
		{name: "zero amount", userID: "u", intent: income("0"), wantErr: ledger.ErrInvalidIntent},
		{name: "negative amount", userID: "u", intent: expense("-1"), wantErr: ledger.ErrInvalidIntent},
		{name: "rounds to zero", userID: "u", intent: expense("0.001"), wantErr: ledger.ErrInvalidIntent},
		{name: "unknown kind", userID: "u", intent: domain.TransactionIntent{Kind: "Gift", Amount: decimal.NewFromInt(1)}, wantErr: ledger.ErrInvalidIntent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ApplyTransaction(ctx, tt.userID, tt.intent)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Zero(t, store.loadCalls.Load(), "rejected applies must not touch storage")
	assert.Zero(t, store.casCalls.Load())
}

func TestService_ConcurrentAppliesSameUser(t *testing.T) {
	const writers = 50
	ctx := context.Background()
	svc := ledger.NewService(inmemory.NewStore(),
		ledger.WithMaxAttempts(writers+1),
		ledger.WithSleep(noSleep),
	)

	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			_, err := svc.ApplyTransaction(ctx, "alice", income("10"))
			return err
		})
	}
	require.NoError(t, g.Wait())

	doc, err := svc.Ledger(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, doc.Entries, writers)
	assert.Equal(t, int64(writers), doc.Revision)
	assert.True(t, doc.Balance.Equal(decimal.NewFromInt(10*writers)), "balance = %s", doc.Balance)
	assert.NoError(t, doc.Verify())
}

func TestService_ConcurrentAppliesWithLocker(t *testing.T) {
	const writers = 30
	ctx := context.Background()
	store := &flakyStore{inner: inmemory.NewStore()}
	svc := ledger.NewService(store, ledger.WithLocker(lock.NewKeyedMutex()), ledger.WithMaxAttempts(1))

	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			_, err := svc.ApplyTransaction(ctx, "alice", expense("1.25"))
			return err
		})
	}
	require.NoError(t, g.Wait(), "with a per-user lock no attempt should conflict")

	doc, err := svc.Ledger(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, doc.Entries, writers)
	assert.True(t, doc.Balance.Equal(decimal.RequireFromString("-37.5")))
	assert.Equal(t, int32(writers), store.casCalls.Load())
}

func TestService_UsersDoNotInterfere(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(inmemory.NewStore(), ledger.WithMaxAttempts(11), ledger.WithSleep(noSleep))

	var g errgroup.Group
	for _, user := range []string{"alice", "bob", "carol"} {
		for i := 0; i < 10; i++ {
			g.Go(func() error {
				_, err := svc.ApplyTransaction(ctx, user, income("1"))
				return err
			})
		}
	}
	require.NoError(t, g.Wait())

	for _, user := range []string{"alice", "bob", "carol"} {
		doc, err := svc.Ledger(ctx, user)
		require.NoError(t, err)
		assert.Len(t, doc.Entries, 10, user)
	}
}

func TestService_RetriesConflictThenSucceeds(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{inner: inmemory.NewStore()}
	store.casFunc = func(ctx context.Context, doc domain.LedgerDocument, expected int64) error {
		if store.casCalls.Load() <= 2 {
			return ledger.ErrRevisionConflict
		}
		return nil
	}
	svc := ledger.NewService(store, ledger.WithSleep(noSleep))

	res, err := svc.ApplyTransaction(ctx, "alice", income("42"))
	require.NoError(t, err)
	assert.True(t, res.Balance.Equal(decimal.NewFromInt(42)))
	assert.Equal(t, int32(3), store.casCalls.Load())
}

func TestService_ConflictExhausted(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{inner: inmemory.NewStore()}
	store.casFunc = func(context.Context, domain.LedgerDocument, int64) error {
		return ledger.ErrRevisionConflict
	}
	svc := ledger.NewService(store, ledger.WithMaxAttempts(3), ledger.WithSleep(noSleep))

	_, err := svc.ApplyTransaction(ctx, "alice", income("42"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrConflictExhausted)
	assert.ErrorIs(t, err, ledger.ErrRevisionConflict)

	var se *ledger.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "alice", se.UserID)
	assert.Equal(t, int32(3), store.casCalls.Load())

	doc, err := store.inner.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), doc.Revision, "failed apply must leave the document untouched")
}

func TestService_StorageUnavailableLeavesDocumentIntact(t *testing.T) {
	ctx := context.Background()
	inner := inmemory.NewStore()
	svc := ledger.NewService(inner)
	_, err := svc.ApplyTransaction(ctx, "alice", income("100"))
	require.NoError(t, err)

	down := errors.New("connection refused")
	store := &flakyStore{inner: inner}
	store.casFunc = func(context.Context, domain.LedgerDocument, int64) error { return down }
	failing := ledger.NewService(store, ledger.WithMaxAttempts(2), ledger.WithSleep(noSleep))

	_, err = failing.ApplyTransaction(ctx, "alice", expense("30"))
	assert.ErrorIs(t, err, ledger.ErrStorageUnavailable)
	assert.ErrorIs(t, err, down)

	doc, err := svc.Ledger(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, doc.Entries, 1)
	assert.True(t, doc.Balance.Equal(decimal.NewFromInt(100)))
}

func TestService_AmbiguousWriteIsNotDuplicated(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{inner: inmemory.NewStore()}
	store.commitThenErr.Store(true)
	svc := ledger.NewService(store, ledger.WithSleep(noSleep))

	res, err := svc.ApplyTransaction(ctx, "alice", income("70"))
	require.NoError(t, err)
	assert.True(t, res.Balance.Equal(decimal.NewFromInt(70)))

	doc, err := svc.Ledger(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, doc.Entries, 1, "retry must recognise its own committed entry")
	assert.Equal(t, res.Entry.ID, doc.Entries[0].ID)
	assert.Equal(t, int32(1), store.casCalls.Load())
}

func TestService_LoadFailure(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{inner: inmemory.NewStore()}
	store.loadFunc = func(context.Context, string) error { return errors.New("timeout") }
	svc := ledger.NewService(store, ledger.WithMaxAttempts(2), ledger.WithSleep(noSleep))

	_, err := svc.ApplyTransaction(ctx, "alice", income("1"))
	assert.ErrorIs(t, err, ledger.ErrStorageUnavailable)
	assert.Zero(t, store.casCalls.Load())

	_, err = svc.Ledger(ctx, "alice")
	assert.ErrorIs(t, err, ledger.ErrStorageUnavailable)
}

func TestService_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := ledger.NewService(inmemory.NewStore())
	_, err := svc.ApplyTransaction(ctx, "alice", income("1"))
	assert.ErrorIs(t, err, ledger.ErrStorageUnavailable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestService_LedgerForUnknownUser(t *testing.T) {
	svc := ledger.NewService(inmemory.NewStore())

	doc, err := svc.Ledger(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", doc.UserID)
	assert.Empty(t, doc.Entries)
	assert.True(t, doc.Balance.IsZero())

	_, err = svc.Ledger(context.Background(), "")
	assert.ErrorIs(t, err, ledger.ErrIdentityRequired)
}
