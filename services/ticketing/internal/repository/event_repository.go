package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hanlinkhaing/ticketing-microservice/pkg/mylogger"
	outboxRepository "github.com/hanlinkhaing/ticketing-microservice/pkg/outbox/repository"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/outbox/worker"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const eventColumns = `id, name, description, venue, starts_at, capacity, sold, price,
	created_by, status, version, created_at, updated_at`

type eventRepo struct {
	pool   *pgxpool.Pool
	outbox worker.OutboxRepository
	tracer trace.Tracer
	logger *zap.Logger
}

func NewEventRepository(pool *pgxpool.Pool, logger *zap.Logger) EventRepository {
	return &eventRepo{
		pool:   pool,
		outbox: outboxRepository.NewOutboxRepository(EventOutboxTable, logger),
		tracer: otel.Tracer("ticketing/event_repo"),
		logger: logger,
	}
}

func (r *eventRepo) Create(ctx context.Context, event *domain.Event) error {
	ctx, span := r.tracer.Start(ctx, "EventRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("event.id", event.ID),
		attribute.Int("event.capacity", event.Capacity),
	)

	notice, err := domain.EventCreatedNotice(event)
	if err != nil {
		return err
	}

	return withTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		query := `
			INSERT INTO events (id, name, description, venue, starts_at, capacity, sold, price,
				created_by, status, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`

		_, err := tx.Exec(
			ctx,
			query,
			event.ID,
			event.Name,
			event.Description,
			event.Venue,
			event.StartsAt,
			event.Capacity,
			event.Sold,
			event.Price,
			event.CreatedBy,
			event.Status,
			event.Version,
			event.CreatedAt,
			event.UpdatedAt,
		)
		if err != nil {
			span.RecordError(err)

			mylogger.Error(
				ctx,
				r.logger,
				"Error creating event",
				zap.String("event_id", event.ID),
				zap.Error(err),
			)

			return fmt.Errorf("error creating event: %w", err)
		}

		return emit(ctx, tx, r.outbox, "event", event.ID, notice)
	})
}

func (r *eventRepo) Get(ctx context.Context, id string) (*domain.Event, error) {
	ctx, span := r.tracer.Start(ctx, "EventRepository.Get")
	defer span.End()

	span.SetAttributes(
		attribute.String("event.id", id),
	)

	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`

	event, err := scanEvent(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if !errors.Is(err, domain.ErrEventNotFound) {
			span.RecordError(err)
		}
		return nil, err
	}

	return event, nil
}

func (r *eventRepo) ListActive(ctx context.Context, from time.Time) ([]domain.Event, error) {
	ctx, span := r.tracer.Start(ctx, "EventRepository.ListActive")
	defer span.End()

	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE status = $1 AND starts_at >= $2
		ORDER BY starts_at ASC, id ASC
	`

	return r.list(ctx, span, query, domain.EventStatusActive, from)
}

func (r *eventRepo) ListByCreator(ctx context.Context, userID string) ([]domain.Event, error) {
	ctx, span := r.tracer.Start(ctx, "EventRepository.ListByCreator")
	defer span.End()

	span.SetAttributes(
		attribute.String("user.id", userID),
	)

	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE created_by = $1
		ORDER BY created_at DESC, id ASC
	`

	return r.list(ctx, span, query, userID)
}

func (r *eventRepo) list(ctx context.Context, span trace.Span, query string, args ...any) ([]domain.Event, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error listing events",
			zap.Error(err),
		)

		return nil, fmt.Errorf("error selecting events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return events, nil
}

func (r *eventRepo) ChangeStatus(ctx context.Context, id string, next domain.EventStatus, at time.Time) (*domain.Event, bool, error) {
	ctx, span := r.tracer.Start(ctx, "EventRepository.ChangeStatus")
	defer span.End()

	span.SetAttributes(
		attribute.String("event.id", id),
		attribute.String("event.status", string(next)),
	)

	var (
		event   *domain.Event
		changed bool
	)

	err := withTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		var err error

		event, err = r.lock(ctx, tx, id)
		if err != nil {
			return err
		}

		changed, err = event.ChangeStatus(next, at)
		if err != nil || !changed {
			return err
		}

		query := `UPDATE events SET status = $1, version = $2, updated_at = $3 WHERE id = $4`
		if _, err := tx.Exec(ctx, query, event.Status, event.Version, event.UpdatedAt, event.ID); err != nil {
			return fmt.Errorf("error updating event status: %w", err)
		}

		notice, err := domain.EventStatusNotice(event)
		if err != nil {
			return err
		}

		return emit(ctx, tx, r.outbox, "event", event.ID, notice)
	})
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}

	return event, changed, nil
}

func (r *eventRepo) ApplyTicketNotice(ctx context.Context, notice domain.TicketNotice, at time.Time) (*domain.Event, bool, error) {
	ctx, span := r.tracer.Start(ctx, "EventRepository.ApplyTicketNotice")
	defer span.End()

	span.SetAttributes(
		attribute.String("event.id", notice.EventID),
		attribute.String("order.id", notice.OrderID),
		attribute.String("notice.kind", notice.Kind),
	)

	var (
		event   *domain.Event
		applied bool
	)

	err := withTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		var err error

		event, err = r.lock(ctx, tx, notice.EventID)
		if err != nil {
			return err
		}

		var current domain.SoldAdjustment
		query := `
			SELECT quantity, reserved, cancelled
			FROM sold_adjustments
			WHERE event_id = $1 AND order_id = $2
			FOR UPDATE
		`
		err = tx.QueryRow(ctx, query, notice.EventID, notice.OrderID).
			Scan(&current.Quantity, &current.Reserved, &current.Cancelled)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("error selecting sold adjustment: %w", err)
		}

		next, delta, ok := current.Apply(notice.Kind, notice.Quantity)
		if !ok {
			return nil
		}

		if delta != 0 {
			if err := event.ApplySold(delta, at); err != nil {
				return err
			}

			query := `UPDATE events SET sold = $1, updated_at = $2 WHERE id = $3`
			if _, err := tx.Exec(ctx, query, event.Sold, event.UpdatedAt, event.ID); err != nil {
				return fmt.Errorf("error updating sold count: %w", err)
			}
		}

		upsert := `
			INSERT INTO sold_adjustments (event_id, order_id, quantity, reserved, cancelled, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (event_id, order_id) DO UPDATE
			SET quantity = EXCLUDED.quantity,
				reserved = EXCLUDED.reserved,
				cancelled = EXCLUDED.cancelled,
				updated_at = EXCLUDED.updated_at
		`
		if _, err := tx.Exec(ctx, upsert, notice.EventID, notice.OrderID, next.Quantity, next.Reserved, next.Cancelled, at); err != nil {
			return fmt.Errorf("error saving sold adjustment: %w", err)
		}

		applied = true
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrEventNotFound) {
			span.RecordError(err)
		}
		return nil, false, err
	}

	return event, applied, nil
}

func (r *eventRepo) lock(ctx context.Context, tx pgx.Tx, id string) (*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1 FOR UPDATE`
	return scanEvent(tx.QueryRow(ctx, query, id))
}

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	err := row.Scan(
		&e.ID,
		&e.Name,
		&e.Description,
		&e.Venue,
		&e.StartsAt,
		&e.Capacity,
		&e.Sold,
		&e.Price,
		&e.CreatedBy,
		&e.Status,
		&e.Version,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEventNotFound
		}
		return nil, fmt.Errorf("error scanning event: %w", err)
	}

	return &e, nil
}
