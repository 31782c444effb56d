package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/spend-assistant/internal/events"
	"github.com/shopspring/decimal"
)

// LedgerEntryRow is one row of finance.ledger_entries.
type LedgerEntryRow struct {
	EntryID string `bigquery:"entry_id"` // REQUIRED
	EventID string `bigquery:"event_id"` // REQUIRED
	UserID  string `bigquery:"user_id"`  // REQUIRED

	Kind         string   `bigquery:"kind"`          // REQUIRED, Income | Expense
	Amount       *big.Rat `bigquery:"amount"`        // REQUIRED NUMERIC, always > 0
	SignedAmount *big.Rat `bigquery:"signed_amount"` // REQUIRED NUMERIC
	BalanceAfter *big.Rat `bigquery:"balance_after"` // REQUIRED NUMERIC
	Currency     string   `bigquery:"currency"`      // REQUIRED STRING

	EntryDate  civil.Date `bigquery:"entry_date"`  // REQUIRED, partition column
	OccurredAt time.Time  `bigquery:"occurred_at"` // REQUIRED
	RecordedAt time.Time  `bigquery:"recorded_at"` // REQUIRED

	Origin   string              `bigquery:"origin"`   // REQUIRED
	Note     bigquery.NullString `bigquery:"note"`     // NULLABLE
	Revision int64               `bigquery:"revision"` // REQUIRED

	ExportedTS time.Time `bigquery:"exported_ts"` // REQUIRED
}

// DefaultCurrency is the only currency the ledger records.
const DefaultCurrency = "INR"

// RowFromEvent converts a recorded transaction into its warehouse row.
func RowFromEvent(ev events.TransactionRecorded, exportedAt time.Time) *LedgerEntryRow {
	e := ev.Entry
	return &LedgerEntryRow{
		EntryID:      e.ID,
		EventID:      ev.EventID,
		UserID:       ev.UserID,
		Kind:         string(e.Kind),
		Amount:       e.Amount.Rat(),
		SignedAmount: e.Signed().Rat(),
		BalanceAfter: ev.BalanceAfter.Rat(),
		Currency:     DefaultCurrency,
		EntryDate:    civil.DateOf(e.OccurredAt.UTC()),
		OccurredAt:   e.OccurredAt,
		RecordedAt:   e.RecordedAt,
		Origin:       e.Origin,
		Note:         bigquery.NullString{StringVal: e.Note, Valid: e.Note != ""},
		Revision:     ev.Revision,
		ExportedTS:   exportedAt.UTC(),
	}
}

// UserSummary aggregates a user's exported entries.
type UserSummary struct {
	UserID     string                 `bigquery:"user_id"`
	Income     *big.Rat               `bigquery:"income"`
	Expense    *big.Rat               `bigquery:"expense"`
	EntryCount int64                  `bigquery:"entry_count"`
	FirstEntry bigquery.NullTimestamp `bigquery:"first_entry"`
	LastEntry  bigquery.NullTimestamp `bigquery:"last_entry"`
}

// Net is income minus expense.
func (s *UserSummary) Net() *big.Rat {
	return new(big.Rat).Sub(ratOrZero(s.Income), ratOrZero(s.Expense))
}

// MonthlyTotal is the income and expense for one calendar month.
type MonthlyTotal struct {
	Month   string   `bigquery:"month"` // YYYY-MM
	Income  *big.Rat `bigquery:"income"`
	Expense *big.Rat `bigquery:"expense"`
	Entries int64    `bigquery:"entries"`
}

// RatToDecimal converts a NUMERIC value read from BigQuery to a two-place
// decimal. A nil value is zero.
func RatToDecimal(r *big.Rat) decimal.Decimal {
	return decimal.RequireFromString(ratOrZero(r).FloatString(2))
}

func ratOrZero(r *big.Rat) *big.Rat {
	if r == nil {
		return new(big.Rat)
	}
	return r
}
