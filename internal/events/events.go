// Package events describes what happened to a ledger and where that news goes.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/spend-assistant/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TransactionRecorded is emitted once per committed ledger entry.
type TransactionRecorded struct {
	EventID      string             `json:"event_id"`
	UserID       string             `json:"user_id"`
	Entry        domain.LedgerEntry `json:"entry"`
	BalanceAfter decimal.Decimal    `json:"balance_after"`
	Revision     int64              `json:"revision"`
	RecordedAt   time.Time          `json:"recorded_at"`
}

// NewTransactionRecorded builds the event for an applied entry.
func NewTransactionRecorded(userID string, entry domain.LedgerEntry, balance decimal.Decimal, revision int64) TransactionRecorded {
	return TransactionRecorded{
		EventID:      uuid.New().String(),
		UserID:       userID,
		Entry:        entry,
		BalanceAfter: balance,
		Revision:     revision,
		RecordedAt:   entry.RecordedAt,
	}
}

// Sink receives recorded transactions.
type Sink interface {
	Publish(ctx context.Context, ev TransactionRecorded) error
}

// Fanout publishes to every sink and joins their errors.
type Fanout []Sink

// Publish implements Sink.
func (f Fanout) Publish(ctx context.Context, ev TransactionRecorded) error {
	var errs []error
	for i, s := range f {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// LogSink writes each event to a logger.
type LogSink struct {
	Log zerolog.Logger
}

// Publish implements Sink.
func (s LogSink) Publish(_ context.Context, ev TransactionRecorded) error {
	s.Log.Info().
		Str("event_id", ev.EventID).
		Str("user_id", ev.UserID).
		Str("entry_id", ev.Entry.ID).
		Str("kind", string(ev.Entry.Kind)).
		Str("amount", ev.Entry.Amount.StringFixed(2)).
		Str("balance_after", ev.BalanceAfter.StringFixed(2)).
		Msg("Transaction recorded")
	return nil
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev TransactionRecorded) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, ev TransactionRecorded) error {
	return f(ctx, ev)
}
