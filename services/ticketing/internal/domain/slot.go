package domain

import (
	"fmt"
	"time"
)

type SlotState string

const (
	SlotAvailable SlotState = "AVAILABLE"
	SlotReserved  SlotState = "RESERVED"
	SlotSold      SlotState = "SOLD"
	SlotCancelled SlotState = "CANCELLED"
)

// Slot is one allocatable unit of an event's capacity. OrderID is set iff the
// slot is RESERVED or SOLD.
type Slot struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id"`
	Seat       int       `json:"seat"`
	OrderID    string    `json:"order_id,omitempty"`
	State      SlotState `json:"state"`
	ReservedAt time.Time `json:"reserved_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func SlotID(eventID string, seat int) string {
	return fmt.Sprintf("%s-%d", eventID, seat)
}

func (s *Slot) Held() bool {
	return s.State == SlotReserved || s.State == SlotSold
}

func (s *Slot) Reserve(orderID string, at time.Time) {
	s.State = SlotReserved
	s.OrderID = orderID
	s.ReservedAt = at
	s.UpdatedAt = at
}

func (s *Slot) Sell(at time.Time) {
	s.State = SlotSold
	s.UpdatedAt = at
}

func (s *Slot) Free(at time.Time) {
	s.State = SlotAvailable
	s.OrderID = ""
	s.ReservedAt = time.Time{}
	s.UpdatedAt = at
}

func (s *Slot) Cancel(at time.Time) {
	s.State = SlotCancelled
	s.OrderID = ""
	s.ReservedAt = time.Time{}
	s.UpdatedAt = at
}

// Availability summarises the slot states of one event. Version increases
// with every change to the event's slot set.
type Availability struct {
	EventID   string `json:"event_id"`
	Capacity  int    `json:"capacity"`
	Available int    `json:"available"`
	Reserved  int    `json:"reserved"`
	Sold      int    `json:"sold"`
	Cancelled int    `json:"cancelled"`
	Version   int64  `json:"version"`
}

// SlotChange is the effect of one inventory operation on one order.
type SlotChange struct {
	OrderID string
	EventID string
	SlotIDs []string
	// Changed is false when the call was an idempotent repeat.
	Changed bool
}
