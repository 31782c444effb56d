package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrBalanceMismatch is returned by Verify when the stored balance does not
// equal the signed sum of the entries.
var ErrBalanceMismatch = errors.New("balance does not match entries")

// LedgerEntry is one immutable line in a user's history.
type LedgerEntry struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	OccurredAt time.Time       `json:"occurred_at"`
	RecordedAt time.Time       `json:"recorded_at"`
	Origin     string          `json:"origin"`
	Note       string          `json:"note"`
}

// NewLedgerEntry builds the entry recorded for an intent at the given instant.
// OccurredAt and RecordedAt are equal until backdating exists.
func NewLedgerEntry(id string, intent TransactionIntent, at time.Time) LedgerEntry {
	at = at.UTC()
	return LedgerEntry{
		ID:         id,
		Kind:       intent.Kind,
		Amount:     intent.Amount,
		OccurredAt: at,
		RecordedAt: at,
		Origin:     OriginChat,
		Note:       intent.Note,
	}
}

// Signed returns the entry amount with the sign of its kind.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Kind == KindIncome {
		return e.Amount
	}
	return e.Amount.Neg()
}

// LedgerDocument is the per-user unit of storage and concurrency control.
//
// Revision counts committed writes. A document that has never been stored has
// revision 0; every successful write stores revision+1.
type LedgerDocument struct {
	UserID   string          `json:"user_id"`
	Revision int64           `json:"revision"`
	Balance  decimal.Decimal `json:"balance"`
	Entries  []LedgerEntry   `json:"entries"`
}

// EmptyLedger returns the zero-value document for a user with no history.
func EmptyLedger(userID string) LedgerDocument {
	return LedgerDocument{
		UserID:  userID,
		Balance: decimal.Zero,
		Entries: []LedgerEntry{},
	}
}

// Append returns a copy of d with the entry added, the balance moved by the
// entry's signed amount and the revision bumped. d itself is not modified.
func (d LedgerDocument) Append(e LedgerEntry) LedgerDocument {
	entries := make([]LedgerEntry, len(d.Entries), len(d.Entries)+1)
	copy(entries, d.Entries)

	return LedgerDocument{
		UserID:   d.UserID,
		Revision: d.Revision + 1,
		Balance:  d.Balance.Add(e.Signed()),
		Entries:  append(entries, e),
	}
}

// Contains reports whether an entry with the given ID is already recorded.
func (d LedgerDocument) Contains(entryID string) bool {
	for _, e := range d.Entries {
		if e.ID == entryID {
			return true
		}
	}
	return false
}

// Entry returns the recorded entry with the given ID.
func (d LedgerDocument) Entry(entryID string) (LedgerEntry, bool) {
	for _, e := range d.Entries {
		if e.ID == entryID {
			return e, true
		}
	}
	return LedgerEntry{}, false
}

// SignedSum is the balance implied by the entries alone.
func (d LedgerDocument) SignedSum() decimal.Decimal {
	sum := decimal.Zero
	for _, e := range d.Entries {
		sum = sum.Add(e.Signed())
	}
	return sum
}

// Verify checks the balance invariant and the entries themselves.
func (d LedgerDocument) Verify() error {
	for i, e := range d.Entries {
		if !e.Kind.Valid() {
			return fmt.Errorf("entry %d (%s): unknown kind %q", i, e.ID, e.Kind)
		}
		if !e.Amount.IsPositive() {
			return fmt.Errorf("entry %d (%s): non-positive amount %s", i, e.ID, e.Amount.String())
		}
	}
	if sum := d.SignedSum(); !sum.Equal(d.Balance) {
		return fmt.Errorf("%w: balance %s, entries sum to %s", ErrBalanceMismatch, d.Balance.String(), sum.String())
	}
	return nil
}

// Totals returns the gross income and expense recorded in the document.
func (d LedgerDocument) Totals() (income, expense decimal.Decimal) {
	income, expense = decimal.Zero, decimal.Zero
	for _, e := range d.Entries {
		if e.Kind == KindIncome {
			income = income.Add(e.Amount)
		} else {
			expense = expense.Add(e.Amount)
		}
	}
	return income, expense
}
