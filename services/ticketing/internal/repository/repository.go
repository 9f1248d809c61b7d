// Package repository holds the persistence contracts of the three private
// stores and their postgres implementations. Every write that changes state
// also records the notification announcing it, in the same atomic step.
package repository

import (
	"context"
	"time"

	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/domain"
)

type EventRepository interface {
	Create(ctx context.Context, event *domain.Event) error
	Get(ctx context.Context, id string) (*domain.Event, error)
	ListActive(ctx context.Context, from time.Time) ([]domain.Event, error)
	ListByCreator(ctx context.Context, userID string) ([]domain.Event, error)
	ChangeStatus(ctx context.Context, id string, next domain.EventStatus, at time.Time) (*domain.Event, bool, error)
	// ApplyTicketNotice moves the sold count at most once per order and
	// notice kind. It reports whether the count was touched.
	ApplyTicketNotice(ctx context.Context, notice domain.TicketNotice, at time.Time) (*domain.Event, bool, error)
}

// SlotRepository is the only writer of ticket slot state. Operations on one
// event are serialized; operations on different events never contend.
type SlotRepository interface {
	Provision(ctx context.Context, eventID string, capacity int, at time.Time) (bool, error)
	Reserve(ctx context.Context, eventID string, quantity int, orderID string, at time.Time) (domain.SlotChange, error)
	Confirm(ctx context.Context, orderID string, at time.Time) (domain.SlotChange, error)
	Release(ctx context.Context, orderID string, reason string, at time.Time) (domain.SlotChange, error)
	Retire(ctx context.Context, eventID string, at time.Time) ([]domain.SlotChange, error)
	ReservedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	ByOrder(ctx context.Context, orderID string) ([]domain.Slot, error)
	Availability(ctx context.Context, eventID string) (domain.Availability, error)
}

// UpdateFunc applies a transition to a copy of the stored order and reports
// whether it changed anything.
type UpdateFunc func(order *domain.Order) bool

type OrderRepository interface {
	// Create stores a new order. It returns false when an order with the same
	// id already exists.
	Create(ctx context.Context, order *domain.Order) (bool, error)
	Get(ctx context.Context, id string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	// ListStale returns non-terminal orders whose reservation (or creation,
	// if never reserved) is older than before.
	ListStale(ctx context.Context, before time.Time) ([]domain.Order, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (*domain.Order, bool, error)
}
