// Package intent turns free-form chat messages into transaction intents using
// an ordered list of lexical rules.
package intent

import (
	"regexp"
	"strings"

	"github.com/dvloznov/spend-assistant/internal/domain"
	"github.com/shopspring/decimal"
)

// Stage groups rules. Stages are evaluated in ascending order and a rule from
// a later stage is only tried when no rule of an earlier stage matched.
type Stage int

const (
	// StageIncome holds rules with explicit income wording.
	StageIncome Stage = iota
	// StageExpense holds rules with explicit expense wording.
	StageExpense
	// StageGeneric holds the permissive catch-all rules gated by cue words.
	StageGeneric
)

func (s Stage) String() string {
	switch s {
	case StageIncome:
		return "income"
	case StageExpense:
		return "expense"
	case StageGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// Rule is one entry of the ordered rule list. Pattern runs against the
// normalized message and must capture the amount in its first group.
type Rule struct {
	Name    string
	Stage   Stage
	Kind    domain.Kind
	Pattern *regexp.Regexp
	// Gate, when set, must also accept the normalized message.
	Gate func(normalized string) bool
}

// Extract returns the amount captured by the rule, if the rule applies.
// Captures that do not parse to a positive amount, or that carry more than two
// fraction digits, count as no match.
func (r Rule) Extract(normalized string) (decimal.Decimal, bool) {
	if r.Gate != nil && !r.Gate(normalized) {
		return decimal.Zero, false
	}

	m := r.Pattern.FindStringSubmatch(normalized)
	if len(m) < 2 || m[1] == "" {
		return decimal.Zero, false
	}

	return parseAmount(m[1])
}

func parseAmount(raw string) (decimal.Decimal, bool) {
	if i := strings.IndexByte(raw, '.'); i >= 0 && len(raw)-i-1 > 2 {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return decimal.Zero, false
	}
	if !amount.IsPositive() {
		return decimal.Zero, false
	}
	return amount, true
}

// Building blocks of the rule grammar. Input is already lower-cased.
const (
	currency = `(?:₹|\$|\brs\.?|\binr\b)`
	number   = `(\d+(?:,\d+)*(?:\.\d+)?)`
	suffix   = `(?:\s*(?:rupees|rs\.?|inr|₹))?`
	amount   = currency + `?\s*` + number + suffix
	filler   = `(?:\s+(?:of|is|was|for|by|to|me|my|about|around|amount|worth|credited|deposited|received|added))*\s*:?\s*`
	article  = `(?:an?\s+|my\s+|the\s+)?`
)

// CueWords gate the generic rules: one of them must appear in the message.
var CueWords = []string{"add", "spent", "expense"}

func hasCueWord(normalized string) bool {
	for _, w := range CueWords {
		if strings.Contains(normalized, w) {
			return true
		}
	}
	return false
}

// DefaultRules returns the built-in rule list in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "add-income",
			Stage:   StageIncome,
			Kind:    domain.KindIncome,
			Pattern: regexp.MustCompile(`\badd(?:ed)?\s+` + article + `income\b` + filler + amount),
		},
		{
			Name:    "add-amount-to-income",
			Stage:   StageIncome,
			Kind:    domain.KindIncome,
			Pattern: regexp.MustCompile(`\badd\s+` + amount + `.*\bincome\b`),
		},
		{
			Name:    "income-cue",
			Stage:   StageIncome,
			Kind:    domain.KindIncome,
			Pattern: regexp.MustCompile(`\b(?:salary|credit(?:ed)?|deposit(?:ed)?|earned|earnings?|income|received)\b` + filler + amount),
		},
		{
			Name:    "amount-credited",
			Stage:   StageIncome,
			Kind:    domain.KindIncome,
			Pattern: regexp.MustCompile(amount + `\s*(?:(?:is|was|has been|got)\s+)?(?:credited|deposited|earned|received)\b`),
		},
		{
			Name:    "add-expense",
			Stage:   StageExpense,
			Kind:    domain.KindExpense,
			Pattern: regexp.MustCompile(`\badd(?:ed)?\s+` + article + `expenses?\b` + filler + amount),
		},
		{
			Name:    "add-amount-to-expense",
			Stage:   StageExpense,
			Kind:    domain.KindExpense,
			Pattern: regexp.MustCompile(`\badd\s+` + amount + `.*\bexpenses?\b`),
		},
		{
			Name:    "expense-cue",
			Stage:   StageExpense,
			Kind:    domain.KindExpense,
			Pattern: regexp.MustCompile(`\b(?:spent|paid|cost|costs|bill|debit(?:ed)?|withdr(?:ew|awn|awal|aw)|bought|expense)\b` + filler + amount),
		},
		{
			Name:    "amount-debited",
			Stage:   StageExpense,
			Kind:    domain.KindExpense,
			Pattern: regexp.MustCompile(amount + `\s*(?:(?:is|was|has been|got)\s+)?(?:spent|paid|debited|withdrawn|deducted)\b`),
		},
		{
			Name:    "add-number",
			Stage:   StageGeneric,
			Kind:    domain.KindExpense,
			Pattern: regexp.MustCompile(`\badd\s+` + amount),
			Gate:    hasCueWord,
		},
		{
			Name:    "currency-number",
			Stage:   StageGeneric,
			Kind:    domain.KindExpense,
			Pattern: regexp.MustCompile(currency + `\s*` + number),
			Gate:    hasCueWord,
		},
	}
}
