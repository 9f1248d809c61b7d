package domain

import (
	"encoding/json"
	"fmt"
	"time"

	messages "github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
)

// OutboxEvent is a bus message written in the same transaction as the state
// change it announces. Payload holds the JSON-encoded envelope.
type OutboxEvent struct {
	Id            int64           `db:"id"`
	MessageID     string          `db:"message_id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	Headers       json.RawMessage `db:"headers"`
	CreatedAt     time.Time       `db:"created_at"`
	PublishedAt   *time.Time      `db:"published_at"`
	Attempts      int64           `db:"attempts"`
	LastError     *string         `db:"last_error"`
	Topic         string          `db:"topic"`
}

// FromEnvelope wraps a bus envelope as an outbox row for the given aggregate.
func FromEnvelope(aggregateType, aggregateID string, env messages.Envelope) (*OutboxEvent, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope %s: %w", env.ID, err)
	}

	return &OutboxEvent{
		MessageID:     env.ID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     env.Event,
		Payload:       payload,
		Topic:         env.Topic(),
	}, nil
}
