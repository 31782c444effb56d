// Package kafka publishes ledger events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dvloznov/spend-assistant/internal/events"
	"github.com/segmentio/kafka-go"
)

// DefaultTopic receives TransactionRecorded events.
const DefaultTopic = "transaction_recorded"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes each event as JSON keyed by user ID, so one user's events
// land on one partition in commit order.
type Publisher struct {
	writer messageWriter
}

// NewPublisher creates a Publisher for brokers. An empty topic selects
// DefaultTopic.
func NewPublisher(brokers []string, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish implements events.Sink.
func (p *Publisher) Publish(ctx context.Context, ev events.TransactionRecorded) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("Publish: marshal: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.UserID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.EventID)},
			{Key: "event_type", Value: []byte("transaction_recorded")},
		},
	})
	if err != nil {
		return fmt.Errorf("Publish: write %s: %w", ev.EventID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Compile-time check that Publisher implements events.Sink.
var _ events.Sink = (*Publisher)(nil)
