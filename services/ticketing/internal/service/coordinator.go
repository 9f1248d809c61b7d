package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/alert"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/clock"
	messages "github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/mylogger"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/retry"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/domain"
	"go.uber.org/zap"
)

var errUndecodable = errors.New("undecodable payload")

type EventReader interface {
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
}

type CreateOrderInput struct {
	UserID   string
	EventID  string
	Quantity int
	// IdempotencyKey makes repeated submissions by the same user resolve to
	// the same order.
	IdempotencyKey string
}

// Coordinator drives orders through the purchase saga. Whenever the order
// and its slots disagree, the slots win.
type Coordinator struct {
	events    EventReader
	inventory Inventory
	orders    *OrderMachine
	policy    retry.Policy
	alerts    alert.Sink
	clock     clock.Clock
	logger    *zap.Logger
}

type CoordinatorOption func(*Coordinator)

func WithRetryPolicy(p retry.Policy) CoordinatorOption {
	return func(c *Coordinator) {
		c.policy = p
	}
}

func NewCoordinator(
	events EventReader,
	inventory Inventory,
	orders *OrderMachine,
	alerts alert.Sink,
	clk clock.Clock,
	logger *zap.Logger,
	opts ...CoordinatorOption,
) *Coordinator {
	c := &Coordinator{
		events:    events,
		inventory: inventory,
		orders:    orders,
		policy:    retry.DefaultPolicy(),
		alerts:    alerts,
		clock:     clk,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy.Permanent == nil {
		c.policy.Permanent = domain.IsBusiness
	}

	return c
}

func (c *Coordinator) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return c.orders.Get(ctx, id)
}

func (c *Coordinator) ListOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	return c.orders.ListByUser(ctx, userID)
}

// CreateOrder places an order and reserves its tickets. A failed grant is
// terminal and returned as ErrInsufficientInventory.
func (c *Coordinator) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	if in.Quantity <= 0 {
		return nil, domain.ErrInvalidQuantity
	}

	event, err := attempt(ctx, c, "get_event", "", in.EventID, func(ctx context.Context) (*domain.Event, error) {
		return c.events.GetEvent(ctx, in.EventID)
	})
	if err != nil {
		return nil, err
	}
	if !event.OnSale() {
		return nil, domain.ErrEventNotOnSale
	}
	// No grant can ever cover more than the event holds.
	if in.Quantity > event.Capacity {
		return nil, domain.ErrInsufficientInventory
	}

	order := domain.NewOrder(orderID(in), in.UserID, event.ID, in.Quantity, event.Price, c.clock.Now())

	type created struct {
		order *domain.Order
		isNew bool
	}
	res, err := attempt(ctx, c, "create_order", order.ID, event.ID, func(ctx context.Context) (created, error) {
		o, isNew, err := c.orders.Create(ctx, order)
		return created{order: o, isNew: isNew}, err
	})
	if err != nil {
		return nil, err
	}

	if !res.isNew && res.order.Stage != domain.StagePending {
		return res.order, nil
	}

	return c.reserve(ctx, res.order, event)
}

func (c *Coordinator) reserve(ctx context.Context, order *domain.Order, event *domain.Event) (*domain.Order, error) {
	slotIDs, err := attempt(ctx, c, "reserve", order.ID, event.ID, func(ctx context.Context) ([]string, error) {
		ids, err := c.inventory.Reserve(ctx, event.ID, order.Quantity, order.ID)
		if !errors.Is(err, domain.ErrNotProvisioned) {
			return ids, err
		}

		if _, err := c.inventory.Provision(ctx, event.ID, event.Capacity); err != nil {
			return nil, err
		}
		return c.inventory.Reserve(ctx, event.ID, order.Quantity, order.ID)
	})
	switch {
	case errors.Is(err, domain.ErrInsufficientInventory):
		c.fail(ctx, order.ID, domain.ReasonInsufficient)
		return nil, err
	case errors.Is(err, domain.ErrEventNotOnSale):
		c.fail(ctx, order.ID, domain.ReasonEventCancelled)
		return nil, err
	case err != nil:
		return nil, err
	}

	updated, changed, err := c.markReserved(ctx, order.ID, order.EventID, slotIDs)
	if err != nil {
		return nil, err
	}

	if !changed && compensable(updated) {
		if err := c.compensate(ctx, updated); err != nil {
			return nil, err
		}
	}

	return updated, nil
}

func (c *Coordinator) fail(ctx context.Context, id, reason string) {
	_, _, err := attemptMark(ctx, c, "mark_failed", id, "", func(ctx context.Context) (*domain.Order, bool, error) {
		return c.orders.MarkFailed(ctx, id, reason)
	})
	if err != nil {
		mylogger.Error(ctx, c.logger, "Failed to mark order failed", zap.String("order_id", id), zap.Error(err))
	}
}

func (c *Coordinator) markReserved(ctx context.Context, id, eventID string, slotIDs []string) (*domain.Order, bool, error) {
	return attemptMark(ctx, c, "mark_reserved", id, eventID, func(ctx context.Context) (*domain.Order, bool, error) {
		return c.orders.MarkReserved(ctx, id, slotIDs)
	})
}

// compensable reports an order that ended before its reservation landed and
// so must not keep any slots.
func compensable(o *domain.Order) bool {
	return o.Stage == domain.StageCancelled || o.Stage == domain.StageFailed
}

func (c *Coordinator) compensate(ctx context.Context, order *domain.Order) error {
	_, err := attempt(ctx, c, "compensate", order.ID, order.EventID, func(ctx context.Context) ([]string, error) {
		return c.inventory.Release(ctx, order.ID, domain.ReasonReleased)
	})
	if errors.Is(err, domain.ErrTicketsAlreadySold) {
		c.raise(ctx, "compensate", order.ID, order.EventID, err)
		return nil
	}
	if err != nil {
		return err
	}

	mylogger.Info(
		ctx,
		c.logger,
		"Released slots of finished order",
		zap.String("order_id", order.ID),
		zap.String("stage", string(order.Stage)),
	)

	return nil
}

// ConfirmOrder sells the order's reserved slots. If the reservation is gone
// the order is cancelled and ErrReservationExpired returned.
func (c *Coordinator) ConfirmOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := c.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch order.Stage {
	case domain.StageConfirmed:
		return order, nil
	case domain.StageCancelled, domain.StageFailed:
		return nil, domain.ErrInvalidTransition
	}

	_, err = attempt(ctx, c, "confirm", order.ID, order.EventID, func(ctx context.Context) ([]string, error) {
		return c.inventory.Confirm(ctx, order.ID)
	})
	if errors.Is(err, domain.ErrReservationNotFound) {
		if order.Stage == domain.StagePending {
			return nil, domain.ErrInvalidTransition
		}

		if _, _, err := c.markCancelled(ctx, order.ID, order.EventID, domain.ReasonExpired); err != nil {
			return nil, err
		}
		return nil, domain.ErrReservationExpired
	}
	if err != nil {
		return nil, err
	}

	updated, _, err := c.markConfirmed(ctx, order.ID, order.EventID)
	if err != nil {
		return nil, err
	}

	if updated.Stage != domain.StageConfirmed {
		c.raise(ctx, "confirm", order.ID, order.EventID, domain.ErrInvalidTransition)
		return nil, domain.ErrInvalidTransition
	}

	return updated, nil
}

// CancelOrder releases the order's slots and cancels it. Orders whose slots
// are already sold are confirmed instead and ErrInvalidTransition returned.
func (c *Coordinator) CancelOrder(ctx context.Context, id string, reason string) (*domain.Order, error) {
	if reason == "" {
		reason = domain.ReasonCancelled
	}

	order, err := c.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch order.Stage {
	case domain.StageCancelled:
		return order, nil
	case domain.StageConfirmed, domain.StageFailed:
		return nil, domain.ErrInvalidTransition
	}

	_, err = attempt(ctx, c, "release", order.ID, order.EventID, func(ctx context.Context) ([]string, error) {
		return c.inventory.Release(ctx, order.ID, reason)
	})
	if errors.Is(err, domain.ErrTicketsAlreadySold) {
		if _, _, err := c.markConfirmed(ctx, order.ID, order.EventID); err != nil {
			return nil, err
		}
		return nil, domain.ErrInvalidTransition
	}
	if err != nil {
		return nil, err
	}

	updated, _, err := c.markCancelled(ctx, order.ID, order.EventID, reason)
	if err != nil {
		return nil, err
	}

	if updated.Stage != domain.StageCancelled {
		return nil, domain.ErrInvalidTransition
	}

	return updated, nil
}

func (c *Coordinator) markConfirmed(ctx context.Context, id, eventID string) (*domain.Order, bool, error) {
	return attemptMark(ctx, c, "mark_confirmed", id, eventID, func(ctx context.Context) (*domain.Order, bool, error) {
		return c.orders.MarkConfirmed(ctx, id)
	})
}

func (c *Coordinator) markCancelled(ctx context.Context, id, eventID, reason string) (*domain.Order, bool, error) {
	return attemptMark(ctx, c, "mark_cancelled", id, eventID, func(ctx context.Context) (*domain.Order, bool, error) {
		return c.orders.MarkCancelled(ctx, id, reason)
	})
}

// Handle converges orders on ticket notices and runs order commands. It is
// safe under duplicate and out-of-order delivery.
func (c *Coordinator) Handle(ctx context.Context, env messages.Envelope) error {
	switch env.Event {
	case messages.TicketsReserved, messages.TicketsSold, messages.TicketsCancelled:
		return c.handleTickets(ctx, env)
	case messages.ConfirmOrder:
		_, err := c.ConfirmOrder(ctx, env.OrderID)
		return c.absorb(ctx, env, err)
	case messages.CancelOrder:
		var payload messages.OrderCommandPayload
		if len(env.Payload) > 0 {
			if err := env.Decode(&payload); err != nil {
				return c.absorb(ctx, env, fmt.Errorf("%w: %v", errUndecodable, err))
			}
		}

		_, err := c.CancelOrder(ctx, env.OrderID, payload.Reason)
		return c.absorb(ctx, env, err)
	default:
		return nil
	}
}

func (c *Coordinator) handleTickets(ctx context.Context, env messages.Envelope) error {
	var payload messages.TicketsPayload
	if err := env.Decode(&payload); err != nil {
		return c.absorb(ctx, env, fmt.Errorf("%w: %v", errUndecodable, err))
	}

	order, err := c.orders.Get(ctx, env.OrderID)
	if err != nil {
		return c.absorb(ctx, env, err)
	}

	if env.Event == messages.TicketsReserved && compensable(order) {
		return c.compensate(ctx, order)
	}

	if order.Stage.Terminal() || order.Stale(env.Seq) {
		mylogger.Debug(
			ctx,
			c.logger,
			"Stale ticket notice",
			zap.String("message_id", env.ID),
			zap.String("order_id", order.ID),
			zap.String("stage", string(order.Stage)),
		)

		return nil
	}

	switch env.Event {
	case messages.TicketsReserved:
		_, _, err = c.markReserved(ctx, order.ID, order.EventID, payload.SlotIDs)
	case messages.TicketsSold:
		_, _, err = c.markConfirmed(ctx, order.ID, order.EventID)
	case messages.TicketsCancelled:
		reason := payload.Reason
		if reason == "" {
			reason = domain.ReasonReleased
		}
		_, _, err = c.markCancelled(ctx, order.ID, order.EventID, reason)
	}

	return err
}

// absorb acknowledges messages whose outcome retrying cannot change.
func (c *Coordinator) absorb(ctx context.Context, env messages.Envelope, err error) error {
	if err == nil {
		return nil
	}

	if domain.IsBusiness(err) || errors.Is(err, errUndecodable) {
		mylogger.Info(
			ctx,
			c.logger,
			"Message absorbed",
			zap.String("message_id", env.ID),
			zap.String("event", env.Event),
			zap.String("order_id", env.OrderID),
			zap.Error(err),
		)

		return nil
	}

	return err
}

func (c *Coordinator) raise(ctx context.Context, op, orderID, eventID string, err error) {
	c.alerts.Raise(ctx, alert.Alert{
		Component: "saga",
		Op:        op,
		OrderID:   orderID,
		EventID:   eventID,
		Err:       err,
		At:        c.clock.Now(),
	})
}

// attempt runs fn under the coordinator's retry policy and raises an alert
// when the attempts run out.
func attempt[T any](ctx context.Context, c *Coordinator, op, orderID, eventID string, fn func(ctx context.Context) (T, error)) (T, error) {
	var res T
	err := retry.Do(ctx, c.policy, c.logger, op, func(ctx context.Context) error {
		var err error
		res, err = fn(ctx)
		return err
	})
	if retry.IsExhausted(err) {
		c.raise(ctx, op, orderID, eventID, err)
	}

	return res, err
}

func attemptMark(ctx context.Context, c *Coordinator, op, orderID, eventID string, fn func(ctx context.Context) (*domain.Order, bool, error)) (*domain.Order, bool, error) {
	var changed bool
	order, err := attempt(ctx, c, op, orderID, eventID, func(ctx context.Context) (*domain.Order, error) {
		o, ch, err := fn(ctx)
		changed = ch
		return o, err
	})

	return order, changed, err
}

func orderID(in CreateOrderInput) string {
	if in.IdempotencyKey == "" {
		return uuid.NewString()
	}

	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(in.UserID+":"+in.IdempotencyKey)).String()
}
