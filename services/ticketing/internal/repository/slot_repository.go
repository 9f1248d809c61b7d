package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	messages "github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
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

type inventoryRow struct {
	capacity int
	version  int64
	retired  bool
}

type slotRepo struct {
	pool   *pgxpool.Pool
	outbox worker.OutboxRepository
	tracer trace.Tracer
	logger *zap.Logger
}

func NewSlotRepository(pool *pgxpool.Pool, logger *zap.Logger) SlotRepository {
	return &slotRepo{
		pool:   pool,
		outbox: outboxRepository.NewOutboxRepository(TicketOutboxTable, logger),
		tracer: otel.Tracer("ticketing/slot_repo"),
		logger: logger,
	}
}

func (r *slotRepo) Provision(ctx context.Context, eventID string, capacity int, at time.Time) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "SlotRepository.Provision")
	defer span.End()

	span.SetAttributes(
		attribute.String("event.id", eventID),
		attribute.Int("event.capacity", capacity),
	)

	var created bool
	err := withTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		// A row with no capacity marks an event retired before it was
		// provisioned; its seats are created already cancelled.
		query := `
			INSERT INTO inventory_events (event_id, capacity, version, retired, created_at, updated_at)
			VALUES ($1, $2, 1, FALSE, $3, $3)
			ON CONFLICT (event_id) DO UPDATE
			SET capacity = EXCLUDED.capacity,
				version = inventory_events.version + 1,
				updated_at = EXCLUDED.updated_at
			WHERE inventory_events.capacity = 0
			RETURNING retired
		`
		var retired bool
		if err := tx.QueryRow(ctx, query, eventID, capacity, at).Scan(&retired); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("error provisioning event: %w", err)
		}

		state := domain.SlotAvailable
		if retired {
			state = domain.SlotCancelled
		}

		slots := `
			INSERT INTO ticket_slots (id, event_id, seat, state, updated_at)
			SELECT $1 || '-' || seat, $1, seat, $3, $4
			FROM generate_series(1, $2::int) AS seat
		`
		if _, err := tx.Exec(ctx, slots, eventID, capacity, state, at); err != nil {
			return fmt.Errorf("error creating slots: %w", err)
		}

		created = true
		return nil
	})
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to provision slots",
			zap.String("event_id", eventID),
			zap.Error(err),
		)

		return false, err
	}

	return created, nil
}

func (r *slotRepo) Reserve(ctx context.Context, eventID string, quantity int, orderID string, at time.Time) (domain.SlotChange, error) {
	ctx, span := r.tracer.Start(ctx, "SlotRepository.Reserve")
	defer span.End()

	span.SetAttributes(
		attribute.String("event.id", eventID),
		attribute.String("order.id", orderID),
		attribute.Int("quantity", quantity),
	)

	change := domain.SlotChange{OrderID: orderID, EventID: eventID}
	err := withTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		inv, err := r.lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}

		held, err := r.orderSlots(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if len(held) > 0 {
			change.SlotIDs = slotIDs(held)
			return nil
		}

		if inv.retired {
			return domain.ErrEventNotOnSale
		}
		if quantity > inv.capacity {
			return domain.ErrInsufficientInventory
		}

		query := `
			SELECT id
			FROM ticket_slots
			WHERE event_id = $1 AND state = $2
			ORDER BY seat ASC
			LIMIT $3
		`
		rows, err := tx.Query(ctx, query, eventID, domain.SlotAvailable, quantity)
		if err != nil {
			return fmt.Errorf("error selecting available slots: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("error scanning available slots: %w", err)
		}
		if len(ids) < quantity {
			return domain.ErrInsufficientInventory
		}

		update := `
			UPDATE ticket_slots
			SET state = $1, order_id = $2, reserved_at = $3, updated_at = $3
			WHERE id = ANY($4)
		`
		if _, err := tx.Exec(ctx, update, domain.SlotReserved, orderID, at, ids); err != nil {
			return fmt.Errorf("error reserving slots: %w", err)
		}

		change.SlotIDs = ids
		change.Changed = true
		return r.announce(ctx, tx, eventID, at, messages.TicketsReserved, change, "")
	})
	if err != nil {
		r.record(ctx, span, "Reserve", err)
		return domain.SlotChange{}, err
	}

	return change, nil
}

func (r *slotRepo) Confirm(ctx context.Context, orderID string, at time.Time) (domain.SlotChange, error) {
	ctx, span := r.tracer.Start(ctx, "SlotRepository.Confirm")
	defer span.End()

	span.SetAttributes(
		attribute.String("order.id", orderID),
	)

	change := domain.SlotChange{OrderID: orderID}
	err := withTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		held, err := r.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if len(held) == 0 {
			return domain.ErrReservationNotFound
		}

		change.EventID = held[0].EventID
		change.SlotIDs = slotIDs(held)
		if countState(held, domain.SlotReserved) == 0 {
			return nil
		}

		update := `
			UPDATE ticket_slots
			SET state = $1, updated_at = $2
			WHERE order_id = $3 AND state = $4
		`
		if _, err := tx.Exec(ctx, update, domain.SlotSold, at, orderID, domain.SlotReserved); err != nil {
			return fmt.Errorf("error selling slots: %w", err)
		}

		change.Changed = true
		return r.announce(ctx, tx, change.EventID, at, messages.TicketsSold, change, "")
	})
	if err != nil {
		r.record(ctx, span, "Confirm", err)
		return domain.SlotChange{}, err
	}

	return change, nil
}

func (r *slotRepo) Release(ctx context.Context, orderID string, reason string, at time.Time) (domain.SlotChange, error) {
	ctx, span := r.tracer.Start(ctx, "SlotRepository.Release")
	defer span.End()

	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.String("reason", reason),
	)

	change := domain.SlotChange{OrderID: orderID}
	err := withTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		held, err := r.lockOrder(ctx, tx, orderID)
		if err != nil || len(held) == 0 {
			return err
		}
		if countState(held, domain.SlotSold) > 0 {
			return domain.ErrTicketsAlreadySold
		}

		change.EventID = held[0].EventID
		change.SlotIDs = slotIDs(held)

		update := `
			UPDATE ticket_slots
			SET state = $1, order_id = NULL, reserved_at = NULL, updated_at = $2
			WHERE order_id = $3
		`
		if _, err := tx.Exec(ctx, update, domain.SlotAvailable, at, orderID); err != nil {
			return fmt.Errorf("error releasing slots: %w", err)
		}

		change.Changed = true
		return r.announce(ctx, tx, change.EventID, at, messages.TicketsCancelled, change, reason)
	})
	if err != nil {
		r.record(ctx, span, "Release", err)
		return domain.SlotChange{}, err
	}

	return change, nil
}

func (r *slotRepo) Retire(ctx context.Context, eventID string, at time.Time) ([]domain.SlotChange, error) {
	ctx, span := r.tracer.Start(ctx, "SlotRepository.Retire")
	defer span.End()

	span.SetAttributes(
		attribute.String("event.id", eventID),
	)

	var changes []domain.SlotChange
	err := withTx(ctx, r.pool, r.logger, func(tx pgx.Tx) error {
		tombstone := `
			INSERT INTO inventory_events (event_id, capacity, version, retired, created_at, updated_at)
			VALUES ($1, 0, 1, TRUE, $2, $2)
			ON CONFLICT (event_id) DO NOTHING
		`
		tag, err := tx.Exec(ctx, tombstone, eventID, at)
		if err != nil {
			return fmt.Errorf("error recording retired event: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return nil
		}

		inv, err := r.lockEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if inv.retired {
			return nil
		}

		query := `
			SELECT id, event_id, seat, COALESCE(order_id, ''), state, reserved_at, updated_at
			FROM ticket_slots
			WHERE event_id = $1 AND state = $2
			ORDER BY order_id, seat
		`
		rows, err := tx.Query(ctx, query, eventID, domain.SlotReserved)
		if err != nil {
			return fmt.Errorf("error selecting reserved slots: %w", err)
		}
		reserved, err := pgx.CollectRows(rows, scanSlot)
		if err != nil {
			return fmt.Errorf("error scanning reserved slots: %w", err)
		}

		changes = groupByOrder(eventID, reserved)

		update := `
			UPDATE ticket_slots
			SET state = $1, order_id = NULL, reserved_at = NULL, updated_at = $2
			WHERE event_id = $3 AND state IN ($4, $5)
		`
		if _, err := tx.Exec(ctx, update, domain.SlotCancelled, at, eventID, domain.SlotAvailable, domain.SlotReserved); err != nil {
			return fmt.Errorf("error cancelling slots: %w", err)
		}

		retire := `UPDATE inventory_events SET retired = TRUE, version = version + 1, updated_at = $1 WHERE event_id = $2`
		if _, err := tx.Exec(ctx, retire, at, eventID); err != nil {
			return fmt.Errorf("error retiring event: %w", err)
		}

		for _, change := range changes {
			notice, err := domain.TicketsNotice(messages.TicketsCancelled, change, domain.ReasonEventCancelled, at)
			if err != nil {
				return err
			}
			if err := emit(ctx, tx, r.outbox, "order", change.OrderID, notice); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		r.record(ctx, span, "Retire", err)
		return nil, err
	}

	return changes, nil
}

func (r *slotRepo) ReservedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, "SlotRepository.ReservedBefore")
	defer span.End()

	query := `
		SELECT DISTINCT order_id
		FROM ticket_slots
		WHERE state = $1 AND reserved_at < $2
		ORDER BY order_id
	`
	rows, err := conn(ctx, r.pool).Query(ctx, query, domain.SlotReserved, cutoff)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error selecting expired reservations: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error scanning expired reservations: %w", err)
	}

	return ids, nil
}

func (r *slotRepo) ByOrder(ctx context.Context, orderID string) ([]domain.Slot, error) {
	ctx, span := r.tracer.Start(ctx, "SlotRepository.ByOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("order.id", orderID),
	)

	slots, err := r.orderSlots(ctx, conn(ctx, r.pool), orderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return slots, nil
}

func (r *slotRepo) Availability(ctx context.Context, eventID string) (domain.Availability, error) {
	ctx, span := r.tracer.Start(ctx, "SlotRepository.Availability")
	defer span.End()

	span.SetAttributes(
		attribute.String("event.id", eventID),
	)

	res := domain.Availability{EventID: eventID}
	query := `
		SELECT i.capacity, i.version,
			COUNT(*) FILTER (WHERE s.state = $2),
			COUNT(*) FILTER (WHERE s.state = $3),
			COUNT(*) FILTER (WHERE s.state = $4),
			COUNT(*) FILTER (WHERE s.state = $5)
		FROM inventory_events i
		LEFT JOIN ticket_slots s ON s.event_id = i.event_id
		WHERE i.event_id = $1 AND i.capacity > 0
		GROUP BY i.capacity, i.version
	`
	err := conn(ctx, r.pool).QueryRow(
		ctx,
		query,
		eventID,
		domain.SlotAvailable,
		domain.SlotReserved,
		domain.SlotSold,
		domain.SlotCancelled,
	).Scan(&res.Capacity, &res.Version, &res.Available, &res.Reserved, &res.Sold, &res.Cancelled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Availability{}, domain.ErrNotProvisioned
		}

		span.RecordError(err)
		return domain.Availability{}, fmt.Errorf("error reading availability: %w", err)
	}

	return res, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *slotRepo) orderSlots(ctx context.Context, q querier, orderID string) ([]domain.Slot, error) {
	query := `
		SELECT id, event_id, seat, COALESCE(order_id, ''), state, reserved_at, updated_at
		FROM ticket_slots
		WHERE order_id = $1
		ORDER BY seat ASC
	`
	rows, err := q.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("error selecting order slots: %w", err)
	}

	slots, err := pgx.CollectRows(rows, scanSlot)
	if err != nil {
		return nil, fmt.Errorf("error scanning order slots: %w", err)
	}

	return slots, nil
}

// lockOrder takes the lock of the event the order holds slots on and returns
// the order's slots as seen under that lock.
func (r *slotRepo) lockOrder(ctx context.Context, tx pgx.Tx, orderID string) ([]domain.Slot, error) {
	var eventID string
	query := `SELECT event_id FROM ticket_slots WHERE order_id = $1 LIMIT 1`
	if err := tx.QueryRow(ctx, query, orderID).Scan(&eventID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("error locating order slots: %w", err)
	}

	if _, err := r.lockEvent(ctx, tx, eventID); err != nil {
		return nil, err
	}

	return r.orderSlots(ctx, tx, orderID)
}

func (r *slotRepo) lockEvent(ctx context.Context, tx pgx.Tx, eventID string) (inventoryRow, error) {
	var inv inventoryRow
	query := `
		SELECT capacity, version, retired
		FROM inventory_events
		WHERE event_id = $1
		FOR UPDATE
	`
	if err := tx.QueryRow(ctx, query, eventID).Scan(&inv.capacity, &inv.version, &inv.retired); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventoryRow{}, domain.ErrNotProvisioned
		}
		return inventoryRow{}, fmt.Errorf("error locking inventory: %w", err)
	}

	return inv, nil
}

// announce bumps the event's slot version and records the ticket notice.
func (r *slotRepo) announce(ctx context.Context, tx pgx.Tx, eventID string, at time.Time, eventType string, change domain.SlotChange, reason string) error {
	query := `UPDATE inventory_events SET version = version + 1, updated_at = $1 WHERE event_id = $2`
	if _, err := tx.Exec(ctx, query, at, eventID); err != nil {
		return fmt.Errorf("error bumping inventory version: %w", err)
	}

	notice, err := domain.TicketsNotice(eventType, change, reason, at)
	if err != nil {
		return err
	}

	return emit(ctx, tx, r.outbox, "order", change.OrderID, notice)
}

func (r *slotRepo) record(ctx context.Context, span trace.Span, op string, err error) {
	if domain.IsBusiness(err) || errors.Is(err, domain.ErrNotProvisioned) {
		return
	}

	span.RecordError(err)

	mylogger.Error(
		ctx,
		r.logger,
		"Slot operation failed",
		zap.String("op", op),
		zap.Error(err),
	)
}

func scanSlot(row pgx.CollectableRow) (domain.Slot, error) {
	var (
		s          domain.Slot
		reservedAt *time.Time
	)
	err := row.Scan(&s.ID, &s.EventID, &s.Seat, &s.OrderID, &s.State, &reservedAt, &s.UpdatedAt)
	if reservedAt != nil {
		s.ReservedAt = *reservedAt
	}

	return s, err
}

func slotIDs(slots []domain.Slot) []string {
	ids := make([]string, 0, len(slots))
	for _, s := range slots {
		ids = append(ids, s.ID)
	}

	return ids
}

func countState(slots []domain.Slot, state domain.SlotState) int {
	n := 0
	for _, s := range slots {
		if s.State == state {
			n++
		}
	}

	return n
}

// groupByOrder splits slots sorted by order into one change per holder.
func groupByOrder(eventID string, slots []domain.Slot) []domain.SlotChange {
	var changes []domain.SlotChange
	for _, s := range slots {
		if n := len(changes); n > 0 && changes[n-1].OrderID == s.OrderID {
			changes[n-1].SlotIDs = append(changes[n-1].SlotIDs, s.ID)
			continue
		}
		changes = append(changes, domain.SlotChange{
			OrderID: s.OrderID,
			EventID: eventID,
			SlotIDs: []string{s.ID},
			Changed: true,
		})
	}

	return changes
}
