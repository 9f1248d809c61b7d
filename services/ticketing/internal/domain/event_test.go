package domain

import (
	"math"
	"testing"
	"time"

	messages "github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() *Event {
	return &Event{
		ID:       "e-1",
		Name:     "Concert",
		StartsAt: at.Add(24 * time.Hour),
		Capacity: 10,
		Price:    2500,
		Status:   EventStatusActive,
		Version:  1,
	}
}

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(e *Event)
		valid  bool
	}{
		{name: "valid", modify: func(e *Event) {}, valid: true},
		{name: "blank name", modify: func(e *Event) { e.Name = "  " }},
		{name: "zero capacity", modify: func(e *Event) { e.Capacity = 0 }},
		{name: "capacity above max", modify: func(e *Event) { e.Capacity = MaxCapacity + 1 }},
		{name: "negative price", modify: func(e *Event) { e.Price = -1 }},
		{name: "sold out total overflows", modify: func(e *Event) { e.Price = math.MaxInt64 / 2 }},
		{name: "no start", modify: func(e *Event) { e.StartsAt = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEvent()
			tt.modify(e)

			err := e.Validate()
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}
}

func TestEvent_ChangeStatus(t *testing.T) {
	e := validEvent()

	changed, err := e.ChangeStatus(EventStatusActive, at)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = e.ChangeStatus(EventStatusInactive, at)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, int64(2), e.Version)
	assert.False(t, e.OnSale())

	_, err = e.ChangeStatus("SOLD_OUT", at)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	changed, err = e.ChangeStatus(EventStatusCancelled, at)
	require.NoError(t, err)
	assert.True(t, changed)

	_, err = e.ChangeStatus(EventStatusActive, at)
	assert.ErrorIs(t, err, ErrInvalidTransition, "cancelled is terminal")
}

func TestEvent_ApplySoldStaysInRange(t *testing.T) {
	e := validEvent()

	require.NoError(t, e.ApplySold(10, at))
	assert.ErrorIs(t, e.ApplySold(1, at), ErrSoldOutOfRange)
	require.NoError(t, e.ApplySold(-10, at))
	assert.ErrorIs(t, e.ApplySold(-1, at), ErrSoldOutOfRange)
	assert.Equal(t, 0, e.Sold)
}

func TestSoldAdjustment_Apply(t *testing.T) {
	t.Run("reserve then cancel", func(t *testing.T) {
		a, delta, ok := SoldAdjustment{}.Apply(messages.TicketsReserved, 2)
		require.True(t, ok)
		assert.Equal(t, 2, delta)

		a, delta, ok = a.Apply(messages.TicketsCancelled, 2)
		require.True(t, ok)
		assert.Equal(t, -2, delta)
		assert.True(t, a.Reserved)
		assert.True(t, a.Cancelled)
	})

	t.Run("repeats are ignored", func(t *testing.T) {
		a, _, _ := SoldAdjustment{}.Apply(messages.TicketsReserved, 2)

		_, delta, ok := a.Apply(messages.TicketsReserved, 2)
		assert.False(t, ok)
		assert.Zero(t, delta)
	})

	t.Run("cancel before reserve leaves a tombstone", func(t *testing.T) {
		a, delta, ok := SoldAdjustment{}.Apply(messages.TicketsCancelled, 3)
		require.True(t, ok)
		assert.Zero(t, delta)

		a, delta, ok = a.Apply(messages.TicketsReserved, 3)
		require.True(t, ok)
		assert.Zero(t, delta, "late reservation must not count")

		_, delta, ok = a.Apply(messages.TicketsCancelled, 3)
		assert.False(t, ok)
		assert.Zero(t, delta)
	})

	t.Run("sold notices do not move the count", func(t *testing.T) {
		_, delta, ok := SoldAdjustment{}.Apply(messages.TicketsSold, 2)
		assert.False(t, ok)
		assert.Zero(t, delta)
	})
}

func TestSlot_Lifecycle(t *testing.T) {
	s := Slot{ID: SlotID("e-1", 1), EventID: "e-1", Seat: 1, State: SlotAvailable}
	assert.Equal(t, "e-1-1", s.ID)
	assert.False(t, s.Held())

	s.Reserve("o-1", at)
	assert.True(t, s.Held())
	assert.Equal(t, "o-1", s.OrderID)

	s.Sell(at)
	assert.Equal(t, SlotSold, s.State)
	assert.Equal(t, "o-1", s.OrderID)

	s.Free(at)
	assert.Equal(t, SlotAvailable, s.State)
	assert.Empty(t, s.OrderID)
	assert.True(t, s.ReservedAt.IsZero())

	s.Reserve("o-2", at)
	s.Cancel(at)
	assert.Equal(t, SlotCancelled, s.State)
	assert.Empty(t, s.OrderID)
}
