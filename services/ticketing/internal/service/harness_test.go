package service_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hanlinkhaing/ticketing-microservice/pkg/alert"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/bus"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/clock"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/outbox/inbox"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/retry"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/domain"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/repository/memory"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/service"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/transport/messaging"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var epoch = time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)

type harness struct {
	t *testing.T

	bus         *bus.Memory
	clock       *clock.Manual
	alerts      *alert.Memory
	slots       *memory.Slots
	events      service.EventService
	inventory   *service.InventoryManager
	orders      *service.OrderMachine
	coordinator *service.Coordinator
	sweeper     *service.Sweeper
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	busOpts   []bus.MemoryOption
	wrapStock func(service.Inventory) service.Inventory
}

func withBus(opts ...bus.MemoryOption) harnessOption {
	return func(c *harnessConfig) {
		c.busOpts = append(c.busOpts, opts...)
	}
}

func withInventory(wrap func(service.Inventory) service.Inventory) harnessOption {
	return func(c *harnessConfig) {
		c.wrapStock = wrap
	}
}

// newHarness wires the components over the in-process bus. The bus is not
// started until start is called, so notifications stay queued.
func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	var cfg harnessConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := zap.NewNop()
	h := &harness{
		t:      t,
		clock:  clock.NewManual(epoch),
		alerts: alert.NewMemory(),
	}
	h.bus = bus.NewMemory(logger, append([]bus.MemoryOption{
		bus.WithRedeliveryDelay(time.Millisecond),
		bus.WithAlerts(h.alerts),
	}, cfg.busOpts...)...)

	h.slots = memory.NewSlots(h.bus)
	h.inventory = service.NewInventoryManager(h.slots, h.clock, logger,
		service.WithReservationTimeout(15*time.Minute),
	)
	h.events = service.NewEventService(memory.NewEvents(h.bus), h.alerts, h.clock, logger)
	h.orders = service.NewOrderMachine(memory.NewOrders(h.bus), h.clock, logger)

	var stock service.Inventory = h.inventory
	if cfg.wrapStock != nil {
		stock = cfg.wrapStock(h.inventory)
	}
	h.coordinator = service.NewCoordinator(h.events, stock, h.orders, h.alerts, h.clock, logger,
		service.WithRetryPolicy(retry.Policy{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
		}),
	)
	h.sweeper = service.NewSweeper(h.inventory, h.coordinator, h.orders, time.Minute, h.clock, logger)

	consumer := messaging.NewConsumer(h.inventory, h.events, h.coordinator, logger)
	require.NoError(t, consumer.Register(h.bus, messaging.Inboxes{
		Events:  inbox.NewMemory(),
		Tickets: inbox.NewMemory(),
		Orders:  inbox.NewMemory(),
	}))

	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.t.Cleanup(cancel)
	require.NoError(h.t, h.bus.Start(ctx))
}

func (h *harness) drain() {
	h.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(h.t, h.bus.Drain(ctx))
}

func (h *harness) createEvent(capacity int) *domain.Event {
	h.t.Helper()

	event, err := h.events.CreateEvent(context.Background(), service.CreateEventInput{
		Name:      "Open Air",
		Venue:     "Park",
		StartsAt:  epoch.Add(7 * 24 * time.Hour),
		Capacity:  capacity,
		Price:     4200,
		CreatedBy: "organizer",
	})
	require.NoError(h.t, err)
	return event
}

func (h *harness) order(userID, eventID string, quantity int) (*domain.Order, error) {
	return h.coordinator.CreateOrder(context.Background(), service.CreateOrderInput{
		UserID:   userID,
		EventID:  eventID,
		Quantity: quantity,
	})
}

func (h *harness) availability(eventID string) domain.Availability {
	h.t.Helper()

	av, err := h.inventory.Availability(context.Background(), eventID)
	require.NoError(h.t, err)
	return av
}

func (h *harness) get(id string) *domain.Order {
	h.t.Helper()

	o, err := h.orders.Get(context.Background(), id)
	require.NoError(h.t, err)
	return o
}

// flakyInventory fails Reserve with a transient error the first failures
// times it is called.
type flakyInventory struct {
	service.Inventory
	failures int32
	calls    atomic.Int32
	err      error
}

func (f *flakyInventory) Reserve(ctx context.Context, eventID string, quantity int, orderID string) ([]string, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, f.err
	}

	return f.Inventory.Reserve(ctx, eventID, quantity, orderID)
}
