package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hanlinkhaing/ticketing-microservice/pkg/outbox/domain"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/outbox/worker"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type outboxRepo struct {
	table  string
	tracer trace.Tracer
	logger *zap.Logger
}

// NewOutboxRepository returns a repository over the given outbox table. Each
// store owns its own table so several stores may share one database.
func NewOutboxRepository(table string, logger *zap.Logger) worker.OutboxRepository {
	return &outboxRepo{
		table:  pgx.Identifier{table}.Sanitize(),
		tracer: otel.Tracer("outbox_repository"),
		logger: logger,
	}
}

func (r *outboxRepo) MarkEventFailed(ctx context.Context, tx pgx.Tx, eventID int64, errMsg string) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkEventFailed")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("outbox.id", eventID),
		attribute.String("outbox.error_message", errMsg),
	)

	query := fmt.Sprintf(`
		UPDATE %s
		SET published_at = NULL,
			last_error = $1,
			attempts = attempts + 1
		WHERE id = $2;
	`, r.table)

	_, err := tx.Exec(ctx, query, errMsg, eventID)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (r *outboxRepo) MarkEventPublished(ctx context.Context, tx pgx.Tx, eventID int64) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkEventPublished")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("outbox.id", eventID),
	)

	query := fmt.Sprintf(`
		UPDATE %s
		SET published_at = NOW(), last_error = NULL, attempts = attempts + 1
		WHERE id = $1;
	`, r.table)

	_, err := tx.Exec(ctx, query, eventID)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (r *outboxRepo) SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.SaveOutboxEvent")
	defer span.End()

	span.SetAttributes(
		attribute.String("aggregate_id", event.AggregateID),
		attribute.String("aggregate_type", event.AggregateType),
		attribute.String("message_id", event.MessageID),
	)

	if event.Headers == nil {
		carrier := propagation.MapCarrier{}
		otel.GetTextMapPropagator().Inject(ctx, carrier)

		headers, err := json.Marshal(carrier)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to marshal outbox headers: %w", err)
		}
		event.Headers = headers
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (message_id, aggregate_type, aggregate_id, event_type, payload, headers, topic)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.table)

	_, err := tx.Exec(
		ctx,
		query,
		event.MessageID,
		event.AggregateType,
		event.AggregateID,
		event.EventType,
		event.Payload,
		event.Headers,
		event.Topic,
	)
	if err != nil {
		span.RecordError(err)
	}

	return err
}

func (r *outboxRepo) GetUnpublishedEvents(ctx context.Context, tx pgx.Tx, batchSize int) ([]*domain.OutboxEvent, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.GetUnpublishedEvents")
	defer span.End()

	span.SetAttributes(
		attribute.Int("batch_size", batchSize),
	)

	query := fmt.Sprintf(`
		SELECT id, message_id, aggregate_type, aggregate_id, event_type, payload, headers, created_at, attempts, topic
		FROM %s
		WHERE published_at IS NULL AND attempts < $2
		ORDER BY id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, r.table)

	rows, err := tx.Query(ctx, query, batchSize, worker.MaxAttempts)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("failed to query unpublished events: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		if err := rows.Scan(
			&e.Id,
			&e.MessageID,
			&e.AggregateType,
			&e.AggregateID,
			&e.EventType,
			&e.Payload,
			&e.Headers,
			&e.CreatedAt,
			&e.Attempts,
			&e.Topic,
		); err != nil {
			span.RecordError(err)

			return nil, fmt.Errorf("error scanning event: %w", err)
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to iterate unpublished events: %w", err)
	}

	span.SetAttributes(
		attribute.Int("result_count", len(events)),
	)

	return events, nil
}
