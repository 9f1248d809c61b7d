//go:build integration

package tests

import (
	"time"

	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/domain"
)

func (s *IntegrationTestSuite) TestPurchase_ConfirmProjectsSoldCount() {
	event := s.createEvent(3)

	order, err := s.order("alice", event.ID, 2)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPending, order.Status)
	s.Len(order.SlotIDs, 2)

	confirmed, err := s.App.Coordinator.ConfirmOrder(s.Ctx, order.ID)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusConfirmed, confirmed.Status)

	s.Require().Eventually(func() bool {
		capacity, err := s.App.Events.GetEventCapacity(s.Ctx, event.ID)
		return err == nil && capacity.Sold == 2
	}, 30*time.Second, 100*time.Millisecond)

	av, err := s.App.Inventory.Availability(s.Ctx, event.ID)
	s.Require().NoError(err)
	s.Equal(2, av.Sold)
	s.Equal(1, av.Available)

	outboxQuery := `
		SELECT COUNT(*)
		FROM ticket_outbox
		WHERE aggregate_id = $1 AND published_at IS NULL
	`
	s.Require().Eventually(func() bool {
		var pending int
		err := s.DbPool.QueryRow(s.Ctx, outboxQuery, order.ID).Scan(&pending)
		return err == nil && pending == 0
	}, 10*time.Second, 100*time.Millisecond, "ticket outbox was not drained")

	inboxQuery := `
		SELECT COUNT(*)
		FROM event_inbox
		WHERE consumer_group = 'event-store' AND message_id = $1
	`
	var seen int
	err = s.DbPool.QueryRow(s.Ctx, inboxQuery, "TICKETS_RESERVED:"+order.ID).Scan(&seen)
	s.Require().NoError(err)
	s.Equal(1, seen)
}

func (s *IntegrationTestSuite) TestPurchase_SoldOutOrderFails() {
	event := s.createEvent(1)

	first, err := s.order("bob", event.ID, 1)
	s.Require().NoError(err)

	_, err = s.order("carol", event.ID, 1)
	s.Require().ErrorIs(err, domain.ErrInsufficientInventory)

	orders, err := s.App.Coordinator.ListOrders(s.Ctx, "carol")
	s.Require().NoError(err)
	s.Require().Len(orders, 1)
	s.Equal(domain.OrderStatusFailed, orders[0].Status)
	s.Equal(domain.ReasonInsufficient, orders[0].Reason)

	s.Equal(domain.OrderStatusPending, s.eventuallyOrder(first.ID, domain.OrderStatusPending).Status)
}

func (s *IntegrationTestSuite) TestPurchase_CancelReleasesSlots() {
	event := s.createEvent(2)

	order, err := s.order("dave", event.ID, 2)
	s.Require().NoError(err)

	cancelled, err := s.App.Coordinator.CancelOrder(s.Ctx, order.ID, "")
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusCancelled, cancelled.Status)

	av, err := s.App.Inventory.Availability(s.Ctx, event.ID)
	s.Require().NoError(err)
	s.Equal(2, av.Available)

	next, err := s.order("erin", event.ID, 2)
	s.Require().NoError(err)
	s.Equal(domain.OrderStatusPending, next.Status)
}

func (s *IntegrationTestSuite) TestSweeper_ExpiresReservation() {
	event := s.createEvent(2)

	order, err := s.order("frank", event.ID, 1)
	s.Require().NoError(err)

	s.Clock.Advance(s.App.Inventory.ReservationTimeout() + time.Minute)
	s.Require().NoError(s.App.Sweeper.Sweep(s.Ctx))

	got := s.eventuallyOrder(order.ID, domain.OrderStatusCancelled)
	s.Equal(domain.ReasonExpired, got.Reason)

	_, err = s.App.Coordinator.ConfirmOrder(s.Ctx, order.ID)
	s.Error(err)

	av, err := s.App.Inventory.Availability(s.Ctx, event.ID)
	s.Require().NoError(err)
	s.Equal(2, av.Available)
}

func (s *IntegrationTestSuite) TestEventCancellation_CancelsReservedOrders() {
	event := s.createEvent(3)

	held, err := s.order("grace", event.ID, 2)
	s.Require().NoError(err)

	_, err = s.App.Events.ChangeStatus(s.Ctx, event.ID, domain.EventStatusCancelled)
	s.Require().NoError(err)

	got := s.eventuallyOrder(held.ID, domain.OrderStatusCancelled)
	s.Equal(domain.ReasonEventCancelled, got.Reason)

	s.Require().Eventually(func() bool {
		av, err := s.App.Inventory.Availability(s.Ctx, event.ID)
		return err == nil && av.Cancelled == 3
	}, 30*time.Second, 100*time.Millisecond)

	_, err = s.order("grace", event.ID, 1)
	s.ErrorIs(err, domain.ErrEventNotOnSale)
}

func (s *IntegrationTestSuite) TestEvents_CachedInRedis() {
	event := s.createEvent(4)

	got, err := s.App.Events.GetEvent(s.Ctx, event.ID)
	s.Require().NoError(err)
	s.Equal(event.ID, got.ID)

	n, err := s.Redis.Exists(s.Ctx, "event:"+event.ID).Result()
	s.Require().NoError(err)
	s.EqualValues(1, n)

	_, err = s.App.Events.ChangeStatus(s.Ctx, event.ID, domain.EventStatusInactive)
	s.Require().NoError(err)

	n, err = s.Redis.Exists(s.Ctx, "event:"+event.ID).Result()
	s.Require().NoError(err)
	s.EqualValues(0, n)

	got, err = s.App.Events.GetEvent(s.Ctx, event.ID)
	s.Require().NoError(err)
	s.Equal(domain.EventStatusInactive, got.Status)
}
