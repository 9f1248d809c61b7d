package service_test

import (
	"context"
	"testing"
	"time"

	messages "github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/domain"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventService_CreateEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	event := h.createEvent(3)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, domain.EventStatusActive, event.Status)
	assert.Equal(t, int64(1), event.Version)
	assert.Equal(t, epoch, event.CreatedAt)

	_, err := h.events.CreateEvent(ctx, service.CreateEventInput{Name: "No seats", StartsAt: epoch, Capacity: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)

	mine, err := h.events.ListByCreator(ctx, "organizer")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, event.ID, mine[0].ID)
}

func TestEventService_ProvisionsInventoryOnCreate(t *testing.T) {
	h := newHarness(t)
	h.start()

	event := h.createEvent(6)
	h.drain()

	av := h.availability(event.ID)
	assert.Equal(t, 6, av.Capacity)
	assert.Equal(t, 6, av.Available)
}

func TestEventService_ListActiveHidesPastAndInactive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	upcoming := h.createEvent(3)
	paused := h.createEvent(3)
	_, err := h.events.ChangeStatus(ctx, paused.ID, domain.EventStatusInactive)
	require.NoError(t, err)

	active, err := h.events.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, upcoming.ID, active[0].ID)

	h.clock.Advance(8 * 24 * time.Hour)
	active, err = h.events.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestEventService_ApplyTicketNotice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	event := h.createEvent(2)

	apply := func(kind, orderID string, quantity int) error {
		return h.events.ApplyTicketNotice(ctx, domain.TicketNotice{
			MessageID: messages.MessageID(kind, orderID),
			EventID:   event.ID,
			OrderID:   orderID,
			Quantity:  quantity,
			Kind:      kind,
		})
	}

	require.NoError(t, apply(messages.TicketsReserved, "o-1", 2))
	capacity, err := h.events.GetEventCapacity(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, capacity.Sold)

	require.NoError(t, apply(messages.TicketsReserved, "o-2", 1), "out of range is reported, not retried")
	alerts := h.alerts.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "event-store", alerts[0].Component)
	assert.ErrorIs(t, alerts[0].Err, domain.ErrSoldOutOfRange)

	require.NoError(t, h.events.ApplyTicketNotice(ctx, domain.TicketNotice{
		EventID: "unknown",
		OrderID: "o-3",
		Kind:    messages.TicketsReserved,
	}))

	_, err = h.events.GetEventCapacity(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}
