package firestore

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dvloznov/spend-assistant/internal/domain"
	"github.com/dvloznov/spend-assistant/internal/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument() domain.LedgerDocument {
	at := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	in := domain.TransactionIntent{Kind: domain.KindIncome, Amount: decimal.RequireFromString("5000"), Note: domain.IncomeNote}
	out := domain.TransactionIntent{Kind: domain.KindExpense, Amount: decimal.RequireFromString("150.5"), Note: domain.ExpenseNote}
	return domain.EmptyLedger("alice@example.com").
		Append(domain.NewLedgerEntry("e1", in, at)).
		Append(domain.NewLedgerEntry("e2", out, at))
}

func TestRecordRoundTrip(t *testing.T) {
	doc := sampleDocument()

	rec := toRecord(doc)
	assert.Equal(t, "4849.50", rec.TotalAmount)
	require.Len(t, rec.Transactions, 2)
	assert.Equal(t, "Expense", rec.Transactions[1].Type)
	assert.Equal(t, "150.50", rec.Transactions[1].Amount)
	assert.Equal(t, domain.OriginChat, rec.Transactions[0].Source)

	back, err := fromRecord(doc.UserID, rec)
	require.NoError(t, err)
	assert.Equal(t, doc.Revision, back.Revision)
	assert.True(t, doc.Balance.Equal(back.Balance))
	require.Len(t, back.Entries, 2)
	assert.Equal(t, doc.Entries[1].ID, back.Entries[1].ID)
	assert.True(t, doc.Entries[1].Amount.Equal(back.Entries[1].Amount))
	assert.NoError(t, back.Verify())
}

func TestFromRecord_BadAmount(t *testing.T) {
	rec := toRecord(sampleDocument())
	rec.Transactions[0].Amount = "five"

	_, err := fromRecord("alice@example.com", rec)
	assert.Error(t, err)
}

// TestStore_Emulator runs against the Firestore emulator when
// FIRESTORE_EMULATOR_HOST is set.
func TestStore_Emulator(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, "spend-assistant-test")
	require.NoError(t, err)
	defer client.Close()

	s := NewStore(client, "transactions-"+uuid.NewString())
	svc := ledger.NewService(s, ledger.WithRetryBase(time.Millisecond))

	res, err := svc.ApplyTransaction(ctx, "alice@example.com", domain.TransactionIntent{
		Kind: domain.KindIncome, Amount: decimal.NewFromInt(300), Note: domain.IncomeNote,
	})
	require.NoError(t, err)
	assert.True(t, res.Balance.Equal(decimal.NewFromInt(300)))

	stale := domain.EmptyLedger("alice@example.com").Append(res.Entry)
	assert.ErrorIs(t, s.CompareAndSet(ctx, stale, 0), ledger.ErrRevisionConflict)

	doc, err := svc.Verify(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Len(t, doc.Entries, 1)
}
