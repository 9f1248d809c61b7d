package service

import (
	"context"
	"time"

	"github.com/hanlinkhaing/ticketing-microservice/pkg/clock"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/mylogger"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/domain"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/repository"
	"go.uber.org/zap"
)

// OrderMachine applies stage transitions to stored orders. Every Mark call is
// a compare-and-set: a transition that does not apply to the stored stage
// reports changed=false and leaves the order as it is.
type OrderMachine struct {
	orders repository.OrderRepository
	clock  clock.Clock
	logger *zap.Logger
}

func NewOrderMachine(orders repository.OrderRepository, clk clock.Clock, logger *zap.Logger) *OrderMachine {
	return &OrderMachine{
		orders: orders,
		clock:  clk,
		logger: logger,
	}
}

// Create stores order in PENDING. If an order with the same id exists it is
// returned instead, with created=false.
func (m *OrderMachine) Create(ctx context.Context, order *domain.Order) (*domain.Order, bool, error) {
	created, err := m.orders.Create(ctx, order)
	if err != nil {
		return nil, false, err
	}

	if !created {
		existing, err := m.orders.Get(ctx, order.ID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	mylogger.Info(
		ctx,
		m.logger,
		"Order created",
		zap.String("order_id", order.ID),
		zap.String("event_id", order.EventID),
		zap.Int("quantity", order.Quantity),
	)

	return order, true, nil
}

func (m *OrderMachine) Get(ctx context.Context, id string) (*domain.Order, error) {
	return m.orders.Get(ctx, id)
}

func (m *OrderMachine) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return m.orders.ListByUser(ctx, userID)
}

func (m *OrderMachine) ListStale(ctx context.Context, before time.Time) ([]domain.Order, error) {
	return m.orders.ListStale(ctx, before)
}

func (m *OrderMachine) MarkReserved(ctx context.Context, id string, slotIDs []string) (*domain.Order, bool, error) {
	now := m.clock.Now()
	return m.update(ctx, id, "reserved", func(o *domain.Order) bool {
		return o.MarkReserved(slotIDs, now)
	})
}

func (m *OrderMachine) MarkConfirmed(ctx context.Context, id string) (*domain.Order, bool, error) {
	now := m.clock.Now()
	return m.update(ctx, id, "confirmed", func(o *domain.Order) bool {
		return o.MarkConfirmed(now)
	})
}

func (m *OrderMachine) MarkCancelled(ctx context.Context, id string, reason string) (*domain.Order, bool, error) {
	now := m.clock.Now()
	return m.update(ctx, id, "cancelled", func(o *domain.Order) bool {
		return o.MarkCancelled(reason, now)
	})
}

func (m *OrderMachine) MarkFailed(ctx context.Context, id string, reason string) (*domain.Order, bool, error) {
	now := m.clock.Now()
	return m.update(ctx, id, "failed", func(o *domain.Order) bool {
		return o.MarkFailed(reason, now)
	})
}

func (m *OrderMachine) update(ctx context.Context, id, transition string, fn repository.UpdateFunc) (*domain.Order, bool, error) {
	order, changed, err := m.orders.Update(ctx, id, fn)
	if err != nil {
		return nil, false, err
	}

	if changed {
		mylogger.Info(
			ctx,
			m.logger,
			"Order transition",
			zap.String("order_id", id),
			zap.String("transition", transition),
			zap.String("stage", string(order.Stage)),
			zap.String("reason", order.Reason),
		)
	} else {
		mylogger.Debug(
			ctx,
			m.logger,
			"Order transition absorbed",
			zap.String("order_id", id),
			zap.String("transition", transition),
			zap.String("stage", string(order.Stage)),
		)
	}

	return order, changed, nil
}
