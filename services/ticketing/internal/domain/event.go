package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	messages "github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
)

// MaxCapacity bounds the seats of one event, and so the tickets of one order.
const MaxCapacity = 100_000

type EventStatus string

const (
	EventStatusActive    EventStatus = "ACTIVE"
	EventStatusInactive  EventStatus = "INACTIVE"
	EventStatusCancelled EventStatus = "CANCELLED"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusActive, EventStatusInactive, EventStatusCancelled:
		return true
	default:
		return false
	}
}

// Event is a ticketed event. Capacity never changes after creation and Sold
// is only moved by ticket notices.
type Event struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Venue       string      `json:"venue"`
	StartsAt    time.Time   `json:"starts_at"`
	Capacity    int         `json:"capacity"`
	Sold        int         `json:"sold"`
	Price       int64       `json:"price"`
	CreatedBy   string      `json:"created_by"`
	Status      EventStatus `json:"status"`
	Version     int64       `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (e *Event) Validate() error {
	switch {
	case strings.TrimSpace(e.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidEvent)
	case e.Capacity <= 0:
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidEvent)
	case e.Capacity > MaxCapacity:
		return fmt.Errorf("%w: capacity must not exceed %d", ErrInvalidEvent, MaxCapacity)
	case e.Price < 0:
		return fmt.Errorf("%w: price must not be negative", ErrInvalidEvent)
	case e.Price > math.MaxInt64/int64(e.Capacity):
		return fmt.Errorf("%w: price is too large", ErrInvalidEvent)
	case e.StartsAt.IsZero():
		return fmt.Errorf("%w: start time is required", ErrInvalidEvent)
	}

	return nil
}

func (e *Event) OnSale() bool {
	return e.Status == EventStatusActive
}

// ChangeStatus moves the event to next. CANCELLED is terminal; setting the
// current status again reports no change.
func (e *Event) ChangeStatus(next EventStatus, at time.Time) (bool, error) {
	if !next.Valid() {
		return false, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if e.Status == next {
		return false, nil
	}
	if e.Status == EventStatusCancelled {
		return false, fmt.Errorf("%w: event %s is cancelled", ErrInvalidTransition, e.ID)
	}

	e.Status = next
	e.Version++
	e.UpdatedAt = at
	return true, nil
}

// Capacity is the read-only reporting view of an event's inventory.
type Capacity struct {
	EventID string `json:"event_id"`
	Total   int    `json:"total"`
	Sold    int    `json:"sold"`
}

// TicketNotice is the part of a ticket notification the event store applies
// to its sold count.
type TicketNotice struct {
	MessageID string
	EventID   string
	OrderID   string
	Quantity  int
	Kind      string
}

// ApplySold moves the sold count by delta, keeping it within [0, Capacity].
func (e *Event) ApplySold(delta int, at time.Time) error {
	next := e.Sold + delta
	if next < 0 || next > e.Capacity {
		return fmt.Errorf("%w: event %s sold %d%+d with capacity %d", ErrSoldOutOfRange, e.ID, e.Sold, delta, e.Capacity)
	}

	e.Sold = next
	e.UpdatedAt = at
	return nil
}

// SoldAdjustment tracks which ticket notices of one order the event store
// has applied. A cancellation seen before its reservation leaves a tombstone
// so the late reservation is not counted.
type SoldAdjustment struct {
	Quantity  int
	Reserved  bool
	Cancelled bool
}

// Apply returns the new adjustment state and the delta to the sold count.
// applied is false for repeats.
func (a SoldAdjustment) Apply(kind string, quantity int) (next SoldAdjustment, delta int, applied bool) {
	next = a

	switch kind {
	case messages.TicketsReserved:
		if a.Reserved {
			return a, 0, false
		}
		next.Reserved = true
		if a.Cancelled {
			return next, 0, true
		}
		next.Quantity = quantity
		return next, quantity, true
	case messages.TicketsCancelled:
		if a.Cancelled {
			return a, 0, false
		}
		next.Cancelled = true
		if a.Reserved {
			return next, -a.Quantity, true
		}
		next.Quantity = quantity
		return next, 0, true
	default:
		return a, 0, false
	}
}
