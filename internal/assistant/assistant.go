// Package assistant turns one chat message into either a ledger entry or a
// model reply.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dvloznov/spend-assistant/internal/domain"
	"github.com/dvloznov/spend-assistant/internal/events"
	"github.com/dvloznov/spend-assistant/internal/intent"
	"github.com/dvloznov/spend-assistant/internal/jobs"
	"github.com/dvloznov/spend-assistant/internal/ledger"
	"github.com/dvloznov/spend-assistant/internal/llm"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrEmptyMessage is returned for blank messages.
var ErrEmptyMessage = errors.New("message is required")

// Outcome says which path handled a message.
type Outcome string

const (
	// OutcomeRecorded means a transaction was applied to the ledger.
	OutcomeRecorded Outcome = "recorded"
	// OutcomeIdentityRequired means a transaction was detected for an anonymous user.
	OutcomeIdentityRequired Outcome = "identity_required"
	// OutcomeChat means the message was answered by the chat model.
	OutcomeChat Outcome = "chat"
)

// SignInReply is sent when a transaction is detected without a user.
const SignInReply = "Please sign in so I can record this transaction to your ledger."

// Message is one inbound chat message.
type Message struct {
	Text    string
	UserID  string
	History []llm.Turn
}

// Reply is what the assistant answers.
type Reply struct {
	Outcome Outcome
	Text    string
	// Entry and Balance are set when Outcome is OutcomeRecorded.
	Entry    *domain.LedgerEntry
	Balance  *decimal.Decimal
	Revision int64
}

// Classifier extracts a transaction intent from text.
type Classifier interface {
	Classify(text string) (intent.Match, bool)
}

// Ledger applies intents to a user's ledger.
type Ledger interface {
	ApplyTransaction(ctx context.Context, userID string, in domain.TransactionIntent) (ledger.Result, error)
}

// Assistant dispatches messages.
type Assistant struct {
	classifier Classifier
	ledger     Ledger
	chat       llm.ChatModel
	exports    jobs.Publisher
	log        zerolog.Logger
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithExports enqueues an export job for every recorded entry.
func WithExports(p jobs.Publisher) Option {
	return func(a *Assistant) { a.exports = p }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(a *Assistant) { a.log = log }
}

// New creates an Assistant. A nil chat model answers every chat message with
// llm.ErrUnavailable.
func New(classifier Classifier, l Ledger, chat llm.ChatModel, opts ...Option) *Assistant {
	if chat == nil {
		chat = llm.Unconfigured{}
	}
	a := &Assistant{
		classifier: classifier,
		ledger:     l,
		chat:       chat,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HandleMessage classifies msg and either records the transaction or asks
// the chat model. Ledger errors are returned as they come from the ledger.
func (a *Assistant) HandleMessage(ctx context.Context, msg Message) (Reply, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}

	match, ok := a.classifier.Classify(text)
	if !ok {
		reply, err := a.chat.Reply(ctx, msg.History, text)
		if err != nil {
			return Reply{}, fmt.Errorf("HandleMessage: chat: %w", err)
		}
		return Reply{Outcome: OutcomeChat, Text: reply}, nil
	}

	userID := strings.TrimSpace(msg.UserID)
	if userID == "" {
		a.log.Debug().Str("rule", match.Rule).Msg("Transaction detected without identity")
		return Reply{Outcome: OutcomeIdentityRequired, Text: SignInReply}, nil
	}

	res, err := a.ledger.ApplyTransaction(ctx, userID, match.Intent)
	if err != nil {
		return Reply{}, fmt.Errorf("HandleMessage: apply: %w", err)
	}

	a.export(ctx, userID, res)

	entry := res.Entry
	balance := res.Balance
	return Reply{
		Outcome:  OutcomeRecorded,
		Text:     RecordedText(entry, balance),
		Entry:    &entry,
		Balance:  &balance,
		Revision: res.Revision,
	}, nil
}

// export is best-effort: the entry is already committed.
func (a *Assistant) export(ctx context.Context, userID string, res ledger.Result) {
	if a.exports == nil {
		return
	}
	ev := events.NewTransactionRecorded(userID, res.Entry, res.Balance, res.Revision)
	if err := a.exports.PublishExportEntry(ctx, jobs.NewExportEntryJob(ev)); err != nil {
		a.log.Warn().Err(err).
			Str("user_id", userID).
			Str("entry_id", res.Entry.ID).
			Msg("Failed to enqueue export")
	}
}

// RecordedText is the confirmation sent after an entry is applied.
func RecordedText(entry domain.LedgerEntry, balance decimal.Decimal) string {
	kind := "expense"
	if entry.Kind == domain.KindIncome {
		kind = "income"
	}
	return fmt.Sprintf("Recorded %s of %s. Your new balance is %s.", kind, Rupees(entry.Amount), Rupees(balance))
}

// Rupees formats an amount as ₹1234.50, with the sign before the symbol.
func Rupees(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-₹" + d.Neg().StringFixed(2)
	}
	return "₹" + d.StringFixed(2)
}
