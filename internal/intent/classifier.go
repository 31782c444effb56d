package intent

import (
	"sort"
	"strings"

	"github.com/dvloznov/spend-assistant/internal/domain"
)

// Match describes a successful classification.
type Match struct {
	Intent domain.TransactionIntent
	Rule   string
	Stage  Stage
}

// Classifier evaluates rules in stage order; within a stage the first rule
// that yields a usable amount wins. It holds no mutable state and is safe for
// concurrent use.
type Classifier struct {
	rules []Rule
}

// New builds a classifier from rules. Rules are stably ordered by stage, so
// the relative order of rules within a stage is preserved.
func New(rules []Rule) *Classifier {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Stage < ordered[j].Stage
	})
	return &Classifier{rules: ordered}
}

// NewDefault returns a classifier over DefaultRules.
func NewDefault() *Classifier {
	return New(DefaultRules())
}

// Rules returns a copy of the evaluation order.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Classify extracts a transaction intent from text. It reports false when
// the text is blank or no rule produces a positive amount; it never fails.
func (c *Classifier) Classify(text string) (Match, bool) {
	normalized := Normalize(text)
	if normalized == "" {
		return Match{}, false
	}

	for _, r := range c.rules {
		amount, ok := r.Extract(normalized)
		if !ok {
			continue
		}
		return Match{
			Intent: domain.TransactionIntent{
				Kind:   r.Kind,
				Amount: amount,
				Note:   domain.NoteFor(r.Kind),
			},
			Rule:  r.Name,
			Stage: r.Stage,
		}, true
	}

	return Match{}, false
}

// Normalize lower-cases text and trims surrounding whitespace.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

var defaultClassifier = NewDefault()

// Classify runs the default rule list against text.
func Classify(text string) (domain.TransactionIntent, bool) {
	m, ok := defaultClassifier.Classify(text)
	return m.Intent, ok
}
