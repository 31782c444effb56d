package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind is the direction of a ledger movement.
type Kind string

const (
	// KindIncome adds money to the balance.
	KindIncome Kind = "Income"
	// KindExpense removes money from the balance.
	KindExpense Kind = "Expense"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return k == KindIncome || k == KindExpense
}

// OriginChat tags entries created from a chat message.
const OriginChat = "Chatbot"

// Notes attached to entries captured from chat, one per kind.
const (
	IncomeNote  = "Income captured from chat"
	ExpenseNote = "Expense captured from chat"
)

// NoteFor returns the fixed note used for intents of the given kind.
func NoteFor(k Kind) string {
	if k == KindIncome {
		return IncomeNote
	}
	return ExpenseNote
}

// TransactionIntent is what the classifier extracts from a message.
// It is consumed immediately by the ledger and never stored as-is.
type TransactionIntent struct {
	Kind   Kind            `json:"kind"`
	Amount decimal.Decimal `json:"amount"` // always > 0, two fraction digits
	Note   string          `json:"note"`
}

// Validate checks the intent can be applied to a ledger.
func (i TransactionIntent) Validate() error {
	if !i.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", i.Kind)
	}
	if !i.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", i.Amount.String())
	}
	return nil
}

// Delta returns the signed effect of the intent on a balance.
func (i TransactionIntent) Delta() decimal.Decimal {
	if i.Kind == KindIncome {
		return i.Amount
	}
	return i.Amount.Neg()
}
