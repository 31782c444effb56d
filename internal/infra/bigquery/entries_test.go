package bigquery

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-assistant/internal/domain"
	"github.com/dvloznov/spend-assistant/internal/events"
	"github.com/shopspring/decimal"
)

type fakeInserter struct {
	puts []interface{}
	err  error
}

func (f *fakeInserter) Put(_ context.Context, src interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.puts = append(f.puts, src)
	return nil
}

func expenseEvent() events.TransactionRecorded {
	intent := domain.TransactionIntent{Kind: domain.KindExpense, Amount: decimal.RequireFromString("150.25"), Note: domain.ExpenseNote}
	entry := domain.NewLedgerEntry("entry-1", intent, time.Date(2025, 3, 31, 23, 30, 0, 0, time.UTC))
	return events.NewTransactionRecorded("alice@example.com", entry, decimal.RequireFromString("849.75"), 4)
}

func TestRowFromEvent(t *testing.T) {
	ev := expenseEvent()
	exported := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	row := RowFromEvent(ev, exported)

	if row.EntryID != "entry-1" || row.UserID != "alice@example.com" || row.EventID != ev.EventID {
		t.Errorf("identifiers not copied: %+v", row)
	}
	if row.Kind != "Expense" {
		t.Errorf("Kind = %s, want Expense", row.Kind)
	}
	if row.Amount.Cmp(big.NewRat(60100, 400)) != 0 {
		t.Errorf("Amount = %s, want 150.25", row.Amount.FloatString(2))
	}
	if row.SignedAmount.Sign() >= 0 {
		t.Errorf("SignedAmount = %s, want negative", row.SignedAmount.FloatString(2))
	}
	if row.BalanceAfter.FloatString(2) != "849.75" {
		t.Errorf("BalanceAfter = %s", row.BalanceAfter.FloatString(2))
	}
	if row.EntryDate != (civil.Date{Year: 2025, Month: time.March, Day: 31}) {
		t.Errorf("EntryDate = %s", row.EntryDate)
	}
	if row.Currency != DefaultCurrency {
		t.Errorf("Currency = %s", row.Currency)
	}
	if !row.Note.Valid || row.Note.StringVal != domain.ExpenseNote {
		t.Errorf("Note = %+v", row.Note)
	}
	if row.Revision != 4 || !row.ExportedTS.Equal(exported) {
		t.Errorf("Revision/ExportedTS = %d/%s", row.Revision, row.ExportedTS)
	}
}

func TestEntryExporter_Publish(t *testing.T) {
	ins := &fakeInserter{}
	x := &EntryExporter{inserter: ins, now: time.Now}

	if err := x.Publish(context.Background(), expenseEvent()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(ins.puts) != 1 {
		t.Fatalf("puts = %d, want 1", len(ins.puts))
	}
	saver, ok := ins.puts[0].(*bigquery.StructSaver)
	if !ok {
		t.Fatalf("put %T, want *bigquery.StructSaver", ins.puts[0])
	}
	if saver.InsertID != "entry-1" {
		t.Errorf("InsertID = %s, want entry-1", saver.InsertID)
	}
}

func TestEntryExporter_PublishError(t *testing.T) {
	quota := errors.New("quota exceeded")
	x := &EntryExporter{inserter: &fakeInserter{err: quota}, now: time.Now}

	if err := x.Publish(context.Background(), expenseEvent()); !errors.Is(err, quota) {
		t.Errorf("Publish() error = %v, want wrapped quota error", err)
	}
}

func TestUserSummary_Net(t *testing.T) {
	s := &UserSummary{Income: big.NewRat(5000, 1), Expense: big.NewRat(301, 2)}
	if got := s.Net().FloatString(2); got != "4849.50" {
		t.Errorf("Net() = %s, want 4849.50", got)
	}

	empty := &UserSummary{}
	if empty.Net().Sign() != 0 {
		t.Errorf("Net() of empty summary = %s", empty.Net().FloatString(2))
	}
}

func TestRatToDecimal(t *testing.T) {
	tests := []struct {
		in   *big.Rat
		want string
	}{
		{nil, "0.00"},
		{big.NewRat(301, 2), "150.50"},
		{big.NewRat(-1, 3), "-0.33"},
	}
	for _, tt := range tests {
		if got := RatToDecimal(tt.in).StringFixed(2); got != tt.want {
			t.Errorf("RatToDecimal(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
