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

const orderColumns = `id, user_id, event_id, quantity, total, status, stage, last_seq,
	slot_ids, reserved_at, reason, created_at, updated_at`

type orderRepo struct {
	pool   *pgxpool.Pool
	outbox worker.OutboxRepository
	tracer trace.Tracer
	logger *zap.Logger
}

func NewOrderRepository(pool *pgxpool.Pool, logger *zap.Logger) OrderRepository {
	return &orderRepo{
		pool:   pool,
		outbox: outboxRepository.NewOutboxRepository(OrderOutboxTable, logger),
		tracer: otel.Tracer("ticketing/order_repo"),
		logger: logger,
	}
}

func (r *orderRepo) Create(ctx context.Context, order *domain.Order) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("event.id", order.EventID),
		attribute.Int("quantity", order.Quantity),
	)

	var created bool
	err := withTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		query := `
			INSERT INTO orders (` + orderColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (id) DO NOTHING
		`
		tag, err := tx.Exec(ctx, query, orderArgs(order)...)
		if err != nil {
			return fmt.Errorf("error creating order: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		created = true
		return r.announce(ctx, tx, order)
	})
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to create order",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)

		return false, err
	}

	return created, nil
}

func (r *orderRepo) Get(ctx context.Context, id string) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.Get")
	defer span.End()

	span.SetAttributes(
		attribute.String("order.id", id),
	)

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(conn(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) {
			span.RecordError(err)
		}
		return nil, err
	}

	return order, nil
}

func (r *orderRepo) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListByUser")
	defer span.End()

	span.SetAttributes(
		attribute.String("user.id", userID),
	)

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id ASC
	`

	return r.list(ctx, span, query, userID)
}

func (r *orderRepo) ListStale(ctx context.Context, before time.Time) ([]domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListStale")
	defer span.End()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE stage IN ($1, $2) AND COALESCE(reserved_at, created_at) < $3
		ORDER BY created_at ASC, id ASC
	`

	return r.list(ctx, span, query, domain.StagePending, domain.StageReserved, before)
}

func (r *orderRepo) list(ctx context.Context, span trace.Span, query string, args ...any) ([]domain.Order, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error listing orders",
			zap.Error(err),
		)

		return nil, fmt.Errorf("error selecting orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		orders = append(orders, *order)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return orders, nil
}

func (r *orderRepo) Update(ctx context.Context, id string, fn UpdateFunc) (*domain.Order, bool, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.Update")
	defer span.End()

	span.SetAttributes(
		attribute.String("order.id", id),
	)

	var (
		order   *domain.Order
		changed bool
	)

	err := withTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

		current, err := scanOrder(tx.QueryRow(ctx, query, id))
		if err != nil {
			return err
		}

		order = current.Clone()
		if changed = fn(order); !changed {
			order = current
			return nil
		}

		update := `
			UPDATE orders
			SET status = $1, stage = $2, last_seq = $3, slot_ids = $4,
				reserved_at = $5, reason = $6, updated_at = $7
			WHERE id = $8
		`
		_, err = tx.Exec(
			ctx,
			update,
			order.Status,
			order.Stage,
			order.LastSeq,
			order.SlotIDs,
			nullTime(order.ReservedAt),
			order.Reason,
			order.UpdatedAt,
			order.ID,
		)
		if err != nil {
			return fmt.Errorf("error updating order: %w", err)
		}

		return r.announce(ctx, tx, order)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) {
			span.RecordError(err)
		}
		return nil, false, err
	}

	span.SetAttributes(
		attribute.String("order.stage", string(order.Stage)),
		attribute.Bool("order.changed", changed),
	)

	return order, changed, nil
}

func (r *orderRepo) announce(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	notice, ok, err := order.Notice()
	if err != nil || !ok {
		return err
	}

	return emit(ctx, tx, r.outbox, "order", order.ID, notice)
}

func orderArgs(o *domain.Order) []any {
	return []any{
		o.ID,
		o.UserID,
		o.EventID,
		o.Quantity,
		o.Total,
		o.Status,
		o.Stage,
		o.LastSeq,
		o.SlotIDs,
		nullTime(o.ReservedAt),
		o.Reason,
		o.CreatedAt,
		o.UpdatedAt,
	}
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o          domain.Order
		reservedAt *time.Time
	)
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.EventID,
		&o.Quantity,
		&o.Total,
		&o.Status,
		&o.Stage,
		&o.LastSeq,
		&o.SlotIDs,
		&reservedAt,
		&o.Reason,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("error scanning order: %w", err)
	}
	if reservedAt != nil {
		o.ReservedAt = *reservedAt
	}

	return &o, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	return &t
}
