package domain

import (
	"testing"
	"time"

	messages "github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewOrder(t *testing.T) {
	o := NewOrder("o-1", "u-1", "e-1", 3, 1500, at)

	assert.Equal(t, OrderStatusPending, o.Status)
	assert.Equal(t, StagePending, o.Stage)
	assert.Equal(t, int64(4500), o.Total)
	assert.Equal(t, 1, o.LastSeq)
}

func TestOrder_ReservedStaysPendingOutside(t *testing.T) {
	o := NewOrder("o-1", "u-1", "e-1", 2, 100, at)

	require.True(t, o.MarkReserved([]string{"e-1-1", "e-1-2"}, at.Add(time.Second)))
	assert.Equal(t, StageReserved, o.Stage)
	assert.Equal(t, OrderStatusPending, o.Status)
	assert.Equal(t, []string{"e-1-1", "e-1-2"}, o.SlotIDs)
	assert.Equal(t, at.Add(time.Second), o.ReservedAt)

	assert.False(t, o.MarkReserved([]string{"e-1-3"}, at), "second reservation must be ignored")
	assert.Equal(t, []string{"e-1-1", "e-1-2"}, o.SlotIDs)
}

func TestOrder_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(o *Order)
		apply   func(o *Order) bool
		changed bool
		want    OrderStatus
	}{
		{
			name:    "confirm reserved",
			prepare: func(o *Order) { o.MarkReserved([]string{"s"}, at) },
			apply:   func(o *Order) bool { return o.MarkConfirmed(at) },
			changed: true,
			want:    OrderStatusConfirmed,
		},
		{
			name:    "confirm pending follows sold slots",
			prepare: func(o *Order) {},
			apply:   func(o *Order) bool { return o.MarkConfirmed(at) },
			changed: true,
			want:    OrderStatusConfirmed,
		},
		{
			name:    "cancel reserved",
			prepare: func(o *Order) { o.MarkReserved([]string{"s"}, at) },
			apply:   func(o *Order) bool { return o.MarkCancelled(ReasonExpired, at) },
			changed: true,
			want:    OrderStatusCancelled,
		},
		{
			name:    "fail pending",
			prepare: func(o *Order) {},
			apply:   func(o *Order) bool { return o.MarkFailed(ReasonInsufficient, at) },
			changed: true,
			want:    OrderStatusFailed,
		},
		{
			name:    "fail reserved is ignored",
			prepare: func(o *Order) { o.MarkReserved([]string{"s"}, at) },
			apply:   func(o *Order) bool { return o.MarkFailed(ReasonInsufficient, at) },
			changed: false,
			want:    OrderStatusPending,
		},
		{
			name:    "cancel confirmed is ignored",
			prepare: func(o *Order) { o.MarkConfirmed(at) },
			apply:   func(o *Order) bool { return o.MarkCancelled(ReasonCancelled, at) },
			changed: false,
			want:    OrderStatusConfirmed,
		},
		{
			name:    "confirm cancelled is ignored",
			prepare: func(o *Order) { o.MarkCancelled(ReasonCancelled, at) },
			apply:   func(o *Order) bool { return o.MarkConfirmed(at) },
			changed: false,
			want:    OrderStatusCancelled,
		},
		{
			name:    "confirm failed is ignored",
			prepare: func(o *Order) { o.MarkFailed(ReasonInsufficient, at) },
			apply:   func(o *Order) bool { return o.MarkConfirmed(at) },
			changed: false,
			want:    OrderStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOrder("o-1", "u-1", "e-1", 1, 100, at)
			tt.prepare(o)

			assert.Equal(t, tt.changed, tt.apply(o))
			assert.Equal(t, tt.want, o.Status)
		})
	}
}

func TestOrder_Stale(t *testing.T) {
	o := NewOrder("o-1", "u-1", "e-1", 1, 100, at)

	assert.True(t, o.Stale(messages.SeqOf(messages.OrderCreated)))
	assert.False(t, o.Stale(messages.SeqOf(messages.TicketsReserved)))
	assert.False(t, o.Stale(0), "commands carry no rank")

	o.MarkReserved([]string{"s"}, at)
	assert.True(t, o.Stale(messages.SeqOf(messages.TicketsReserved)))
	assert.False(t, o.Stale(messages.SeqOf(messages.TicketsSold)))

	o.MarkConfirmed(at)
	assert.True(t, o.Stale(messages.SeqOf(messages.TicketsSold)))
	assert.True(t, o.Stale(messages.SeqOf(messages.TicketsCancelled)))
}

func TestOrder_KeepsFirstReason(t *testing.T) {
	o := NewOrder("o-1", "u-1", "e-1", 1, 100, at)
	require.True(t, o.MarkCancelled(ReasonExpired, at))
	assert.False(t, o.MarkCancelled(ReasonCancelled, at))

	assert.Equal(t, ReasonExpired, o.Reason)
}

func TestOrder_Notice(t *testing.T) {
	o := NewOrder("o-1", "u-1", "e-1", 2, 100, at)

	env, ok, err := o.Notice()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, messages.OrderCreated, env.Event)
	assert.Equal(t, messages.TopicOrderEvents, env.Topic())

	o.MarkReserved([]string{"s"}, at)
	_, ok, err = o.Notice()
	require.NoError(t, err)
	assert.False(t, ok, "reservations are announced by the inventory")

	o.MarkCancelled(ReasonExpired, at)
	env, ok, err = o.Notice()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, messages.OrderCancelled, env.Event)

	var payload messages.OrderStatusPayload
	require.NoError(t, env.Decode(&payload))
	assert.Equal(t, string(OrderStatusCancelled), payload.Status)
	assert.Equal(t, ReasonExpired, payload.Reason)
}

func TestOrder_CloneDoesNotShareSlots(t *testing.T) {
	o := NewOrder("o-1", "u-1", "e-1", 1, 100, at)
	o.MarkReserved([]string{"a"}, at)

	c := o.Clone()
	c.SlotIDs[0] = "b"

	assert.Equal(t, "a", o.SlotIDs[0])
}

func TestIsBusiness(t *testing.T) {
	assert.True(t, IsBusiness(ErrInsufficientInventory))
	assert.True(t, IsBusiness(ErrSoldOutOfRange))
	assert.False(t, IsBusiness(ErrNotProvisioned))
	assert.False(t, IsBusiness(assert.AnError))
}
