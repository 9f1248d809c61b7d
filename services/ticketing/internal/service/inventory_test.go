package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/hanlinkhaing/ticketing-microservice/pkg/clock"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/domain"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/repository/memory"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInventoryManager_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.inventory.Provision(ctx, "e-1", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)

	created, err := h.inventory.Provision(ctx, "e-1", 2)
	require.NoError(t, err)
	assert.True(t, created)

	_, err = h.inventory.Reserve(ctx, "e-1", 0, "o-1")
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestInventoryManager_DefaultTimeout(t *testing.T) {
	m := service.NewInventoryManager(memory.NewSlots(nil), clock.NewSystem(), zap.NewNop())
	assert.Equal(t, service.DefaultReservationTimeout, m.ReservationTimeout())

	m = service.NewInventoryManager(memory.NewSlots(nil), clock.NewSystem(), zap.NewNop(),
		service.WithReservationTimeout(-time.Second),
	)
	assert.Equal(t, service.DefaultReservationTimeout, m.ReservationTimeout())
}

func TestInventoryManager_ExpireStaleSkipsSold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.inventory.Provision(ctx, "e-1", 4)
	require.NoError(t, err)

	_, err = h.inventory.Reserve(ctx, "e-1", 1, "o-held")
	require.NoError(t, err)
	_, err = h.inventory.Reserve(ctx, "e-1", 1, "o-sold")
	require.NoError(t, err)
	_, err = h.inventory.Confirm(ctx, "o-sold")
	require.NoError(t, err)

	released, err := h.inventory.ExpireStale(ctx, h.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"o-held"}, released)

	again, err := h.inventory.ExpireStale(ctx, h.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, again)

	slots, err := h.inventory.TicketsByOrder(ctx, "o-held")
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestInventoryManager_Retire(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.inventory.Provision(ctx, "e-1", 4)
	require.NoError(t, err)
	_, err = h.inventory.Reserve(ctx, "e-1", 2, "o-1")
	require.NoError(t, err)

	released, err := h.inventory.Retire(ctx, "e-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"o-1"}, released)

	av := h.availability("e-1")
	assert.Equal(t, 4, av.Cancelled)

	_, err = h.inventory.Reserve(ctx, "e-1", 1, "o-2")
	assert.ErrorIs(t, err, domain.ErrEventNotOnSale)
}
