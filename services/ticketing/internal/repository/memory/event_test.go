package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	messages "github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvent(id string, startsIn time.Duration) *domain.Event {
	return &domain.Event{
		ID:        id,
		Name:      "Show " + id,
		StartsAt:  t0.Add(startsIn),
		Capacity:  4,
		Price:     1000,
		CreatedBy: "u-1",
		Status:    domain.EventStatusActive,
		Version:   1,
		CreatedAt: t0,
		UpdatedAt: t0,
	}
}

func notice(kind, orderID string, quantity int) domain.TicketNotice {
	return domain.TicketNotice{
		MessageID: messages.MessageID(kind, orderID),
		EventID:   "e-1",
		OrderID:   orderID,
		Quantity:  quantity,
		Kind:      kind,
	}
}

func TestEvents_CreateAnnounces(t *testing.T) {
	rec := &recorder{}
	s := NewEvents(rec)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newEvent("e-1", time.Hour)))
	assert.Equal(t, []string{messages.EventCreated}, rec.events())

	got, err := s.Get(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, "Show e-1", got.Name)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestEvents_CreateRollsBackOnPublishFailure(t *testing.T) {
	rec := &recorder{}
	rec.failWith(errors.New("bus down"))
	s := NewEvents(rec)

	require.Error(t, s.Create(context.Background(), newEvent("e-1", time.Hour)))

	_, err := s.Get(context.Background(), "e-1")
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestEvents_Listings(t *testing.T) {
	s := NewEvents(&recorder{})
	ctx := context.Background()

	later := newEvent("e-later", 2*time.Hour)
	sooner := newEvent("e-sooner", time.Hour)
	past := newEvent("e-past", -time.Hour)
	other := newEvent("e-other", 3*time.Hour)
	other.CreatedBy = "u-2"
	other.CreatedAt = t0.Add(time.Minute)
	for _, e := range []*domain.Event{later, sooner, past, other} {
		require.NoError(t, s.Create(ctx, e))
	}
	_, _, err := s.ChangeStatus(ctx, "e-later", domain.EventStatusInactive, t0)
	require.NoError(t, err)

	active, err := s.ListActive(ctx, t0)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "e-sooner", active[0].ID)
	assert.Equal(t, "e-other", active[1].ID)

	mine, err := s.ListByCreator(ctx, "u-2")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "e-other", mine[0].ID)
}

func TestEvents_ChangeStatus(t *testing.T) {
	rec := &recorder{}
	s := NewEvents(rec)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newEvent("e-1", time.Hour)))

	event, changed, err := s.ChangeStatus(ctx, "e-1", domain.EventStatusCancelled, t0)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, domain.EventStatusCancelled, event.Status)

	_, changed, err = s.ChangeStatus(ctx, "e-1", domain.EventStatusCancelled, t0)
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = s.ChangeStatus(ctx, "e-1", domain.EventStatusActive, t0)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, _, err = s.ChangeStatus(ctx, "missing", domain.EventStatusActive, t0)
	assert.ErrorIs(t, err, domain.ErrEventNotFound)

	assert.Equal(t, []string{messages.EventCreated, messages.EventStatusChanged}, rec.events())
}

func TestEvents_ApplyTicketNotice(t *testing.T) {
	s := NewEvents(&recorder{})
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newEvent("e-1", time.Hour)))

	event, applied, err := s.ApplyTicketNotice(ctx, notice(messages.TicketsReserved, "o-1", 2), t0)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 2, event.Sold)

	event, applied, err = s.ApplyTicketNotice(ctx, notice(messages.TicketsReserved, "o-1", 2), t0)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 2, event.Sold)

	// A cancellation that overtakes its reservation.
	_, applied, err = s.ApplyTicketNotice(ctx, notice(messages.TicketsCancelled, "o-2", 1), t0)
	require.NoError(t, err)
	assert.True(t, applied)
	event, _, err = s.ApplyTicketNotice(ctx, notice(messages.TicketsReserved, "o-2", 1), t0)
	require.NoError(t, err)
	assert.Equal(t, 2, event.Sold)

	event, _, err = s.ApplyTicketNotice(ctx, notice(messages.TicketsCancelled, "o-1", 2), t0)
	require.NoError(t, err)
	assert.Equal(t, 0, event.Sold)

	_, _, err = s.ApplyTicketNotice(ctx, notice(messages.TicketsReserved, "o-3", 5), t0)
	assert.ErrorIs(t, err, domain.ErrSoldOutOfRange)
	event, err = s.Get(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, 0, event.Sold)
}
