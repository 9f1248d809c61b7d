package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hanlinkhaing/ticketing-microservice/pkg/clock"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/mylogger"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/domain"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/repository"
	"go.uber.org/zap"
)

const DefaultReservationTimeout = 15 * time.Minute

// Inventory is what the saga needs from the ticket inventory.
type Inventory interface {
	Provision(ctx context.Context, eventID string, capacity int) (bool, error)
	Reserve(ctx context.Context, eventID string, quantity int, orderID string) ([]string, error)
	Confirm(ctx context.Context, orderID string) ([]string, error)
	Release(ctx context.Context, orderID string, reason string) ([]string, error)
}

type InventoryManager struct {
	slots   repository.SlotRepository
	clock   clock.Clock
	logger  *zap.Logger
	timeout time.Duration
}

var _ Inventory = (*InventoryManager)(nil)

type InventoryOption func(*InventoryManager)

func WithReservationTimeout(d time.Duration) InventoryOption {
	return func(m *InventoryManager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func NewInventoryManager(slots repository.SlotRepository, clk clock.Clock, logger *zap.Logger, opts ...InventoryOption) *InventoryManager {
	m := &InventoryManager{
		slots:   slots,
		clock:   clk,
		logger:  logger,
		timeout: DefaultReservationTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *InventoryManager) ReservationTimeout() time.Duration {
	return m.timeout
}

func (m *InventoryManager) Provision(ctx context.Context, eventID string, capacity int) (bool, error) {
	if capacity <= 0 {
		return false, fmt.Errorf("%w: capacity must be positive", domain.ErrInvalidEvent)
	}

	created, err := m.slots.Provision(ctx, eventID, capacity, m.clock.Now())
	if err != nil {
		return false, err
	}

	if created {
		mylogger.Info(
			ctx,
			m.logger,
			"Provisioned ticket slots",
			zap.String("event_id", eventID),
			zap.Int("capacity", capacity),
		)
	}

	return created, nil
}

// Reserve grants quantity slots of the event to the order, lowest seats
// first, or nothing at all.
func (m *InventoryManager) Reserve(ctx context.Context, eventID string, quantity int, orderID string) ([]string, error) {
	if quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	change, err := m.slots.Reserve(ctx, eventID, quantity, orderID, m.clock.Now())
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientInventory) {
			mylogger.Info(
				ctx,
				m.logger,
				"Not enough tickets left",
				zap.String("event_id", eventID),
				zap.String("order_id", orderID),
				zap.Int("quantity", quantity),
			)
		}

		return nil, err
	}

	if change.Changed {
		mylogger.Info(
			ctx,
			m.logger,
			"Reserved tickets",
			zap.String("event_id", eventID),
			zap.String("order_id", orderID),
			zap.Strings("slot_ids", change.SlotIDs),
		)
	}

	return change.SlotIDs, nil
}

func (m *InventoryManager) Confirm(ctx context.Context, orderID string) ([]string, error) {
	change, err := m.slots.Confirm(ctx, orderID, m.clock.Now())
	if err != nil {
		return nil, err
	}

	if change.Changed {
		mylogger.Info(
			ctx,
			m.logger,
			"Sold tickets",
			zap.String("order_id", orderID),
			zap.Strings("slot_ids", change.SlotIDs),
		)
	}

	return change.SlotIDs, nil
}

func (m *InventoryManager) Release(ctx context.Context, orderID string, reason string) ([]string, error) {
	change, err := m.slots.Release(ctx, orderID, reason, m.clock.Now())
	if err != nil {
		return nil, err
	}

	if change.Changed {
		mylogger.Info(
			ctx,
			m.logger,
			"Released tickets",
			zap.String("order_id", orderID),
			zap.String("reason", reason),
			zap.Strings("slot_ids", change.SlotIDs),
		)
	}

	return change.SlotIDs, nil
}

// ExpireStale releases every reservation older than the reservation timeout
// and returns the orders it released.
func (m *InventoryManager) ExpireStale(ctx context.Context, now time.Time) ([]string, error) {
	orderIDs, err := m.slots.ReservedBefore(ctx, now.Add(-m.timeout))
	if err != nil {
		return nil, err
	}

	var (
		released []string
		errs     []error
	)
	for _, orderID := range orderIDs {
		change, err := m.slots.Release(ctx, orderID, domain.ReasonExpired, now)
		if err != nil {
			if errors.Is(err, domain.ErrTicketsAlreadySold) {
				continue
			}

			mylogger.Warn(
				ctx,
				m.logger,
				"Failed to expire reservation",
				zap.String("order_id", orderID),
				zap.Error(err),
			)

			errs = append(errs, fmt.Errorf("expire %s: %w", orderID, err))
			continue
		}

		if change.Changed {
			released = append(released, orderID)
		}
	}

	if len(released) > 0 {
		mylogger.Info(
			ctx,
			m.logger,
			"Expired reservations",
			zap.Int("count", len(released)),
		)
	}

	return released, errors.Join(errs...)
}

// Retire cancels the event's unsold slots and releases every reservation on
// it.
func (m *InventoryManager) Retire(ctx context.Context, eventID string) ([]string, error) {
	changes, err := m.slots.Retire(ctx, eventID, m.clock.Now())
	if err != nil {
		return nil, err
	}

	orderIDs := make([]string, 0, len(changes))
	for _, change := range changes {
		orderIDs = append(orderIDs, change.OrderID)
	}

	mylogger.Info(
		ctx,
		m.logger,
		"Retired event inventory",
		zap.String("event_id", eventID),
		zap.Strings("released_orders", orderIDs),
	)

	return orderIDs, nil
}

func (m *InventoryManager) TicketsByOrder(ctx context.Context, orderID string) ([]domain.Slot, error) {
	return m.slots.ByOrder(ctx, orderID)
}

func (m *InventoryManager) Availability(ctx context.Context, eventID string) (domain.Availability, error) {
	return m.slots.Availability(ctx, eventID)
}
