// Package messaging binds the ticketing components to the bus.
package messaging

import (
	"context"

	"github.com/hanlinkhaing/ticketing-microservice/pkg/bus"
	messages "github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/mylogger"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/domain"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/service"
	"go.uber.org/zap"
)

const (
	GroupInventory  = "inventory"
	GroupEventStore = "event-store"
	GroupSaga       = "saga"
)

// Inboxes holds the inbox of each store. A consumer group records processed
// messages in the store its handler writes to.
type Inboxes struct {
	Events  bus.Inbox
	Tickets bus.Inbox
	Orders  bus.Inbox
}

type Consumer struct {
	inventory   *service.InventoryManager
	events      service.EventService
	coordinator *service.Coordinator
	logger      *zap.Logger
}

func NewConsumer(
	inventory *service.InventoryManager,
	events service.EventService,
	coordinator *service.Coordinator,
	logger *zap.Logger,
) *Consumer {
	return &Consumer{
		inventory:   inventory,
		events:      events,
		coordinator: coordinator,
		logger:      logger,
	}
}

// Register subscribes the three consumer groups. It must be called before the
// bus is started.
func (c *Consumer) Register(sub bus.Subscriber, inboxes Inboxes) error {
	groups := []struct {
		name    string
		topics  []string
		inbox   bus.Inbox
		handler bus.Handler
	}{
		{GroupInventory, []string{messages.TopicEventEvents}, inboxes.Tickets, c.handleEventNotice},
		{GroupEventStore, []string{messages.TopicTicketEvents}, inboxes.Events, c.handleTicketNotice},
		{GroupSaga, []string{messages.TopicTicketEvents, messages.TopicOrderCommands}, inboxes.Orders, c.coordinator.Handle},
	}

	for _, g := range groups {
		if err := sub.Subscribe(g.name, g.topics, bus.Deduplicate(g.inbox, g.name, g.handler)); err != nil {
			return err
		}
	}

	return nil
}

func (c *Consumer) handleEventNotice(ctx context.Context, env messages.Envelope) error {
	mylogger.Debug(
		ctx,
		c.logger,
		"Processing event notice",
		zap.String("message_id", env.ID),
		zap.String("event", env.Event),
	)

	switch env.Event {
	case messages.EventCreated:
		var payload messages.EventCreatedPayload
		if err := env.Decode(&payload); err != nil {
			mylogger.Error(ctx, c.logger, "Dropping undecodable event notice", zap.Error(err))
			return nil
		}

		_, err := c.inventory.Provision(ctx, env.EventID, payload.Capacity)
		if domain.IsBusiness(err) {
			mylogger.Warn(ctx, c.logger, "Event cannot be provisioned", zap.String("event_id", env.EventID), zap.Error(err))
			return nil
		}
		return err
	case messages.EventStatusChanged:
		var payload messages.EventStatusChangedPayload
		if err := env.Decode(&payload); err != nil {
			mylogger.Error(ctx, c.logger, "Dropping undecodable event notice", zap.Error(err))
			return nil
		}

		if domain.EventStatus(payload.Status) != domain.EventStatusCancelled {
			return nil
		}

		_, err := c.inventory.Retire(ctx, env.EventID)
		return err
	default:
		return nil
	}
}

func (c *Consumer) handleTicketNotice(ctx context.Context, env messages.Envelope) error {
	if env.Event != messages.TicketsReserved && env.Event != messages.TicketsCancelled {
		return nil
	}

	var payload messages.TicketsPayload
	if err := env.Decode(&payload); err != nil {
		mylogger.Error(ctx, c.logger, "Dropping undecodable ticket notice", zap.Error(err))
		return nil
	}

	return c.events.ApplyTicketNotice(ctx, domain.TicketNotice{
		MessageID: env.ID,
		EventID:   env.EventID,
		OrderID:   env.OrderID,
		Quantity:  payload.Quantity,
		Kind:      env.Event,
	})
}
