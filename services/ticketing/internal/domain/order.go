package domain

import (
	"time"

	messages "github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// Stage is the saga's view of an order. RESERVED is internal: the order is
// still PENDING to the outside while its slots are held.
type Stage string

const (
	StagePending   Stage = "PENDING"
	StageReserved  Stage = "RESERVED"
	StageConfirmed Stage = "CONFIRMED"
	StageCancelled Stage = "CANCELLED"
	StageFailed    Stage = "FAILED"
)

const (
	ReasonCancelled      = "cancelled"
	ReasonExpired        = "expired"
	ReasonEventCancelled = "event_cancelled"
	ReasonStalePending   = "stale_pending"
	ReasonInsufficient   = "insufficient_inventory"
	ReasonReleased       = "released"
)

func (s Stage) Rank() int {
	switch s {
	case StagePending:
		return messages.SeqOf(messages.OrderCreated)
	case StageReserved:
		return messages.SeqOf(messages.TicketsReserved)
	default:
		return messages.SeqOf(messages.OrderConfirmed)
	}
}

func (s Stage) Terminal() bool {
	return s == StageConfirmed || s == StageCancelled || s == StageFailed
}

func (s Stage) Status() OrderStatus {
	switch s {
	case StageConfirmed:
		return OrderStatusConfirmed
	case StageCancelled:
		return OrderStatusCancelled
	case StageFailed:
		return OrderStatusFailed
	default:
		return OrderStatusPending
	}
}

type Order struct {
	ID         string      `json:"id"`
	UserID     string      `json:"user_id"`
	EventID    string      `json:"event_id"`
	Quantity   int         `json:"quantity"`
	Total      int64       `json:"total"`
	Status     OrderStatus `json:"status"`
	Stage      Stage       `json:"-"`
	LastSeq    int         `json:"-"`
	SlotIDs    []string    `json:"slot_ids,omitempty"`
	ReservedAt time.Time   `json:"reserved_at,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// NewOrder prices the order at quantity times price. Callers keep quantity
// within the event's capacity, which Event.Validate bounds so the total fits.
func NewOrder(id, userID, eventID string, quantity int, price int64, at time.Time) *Order {
	return &Order{
		ID:        id,
		UserID:    userID,
		EventID:   eventID,
		Quantity:  quantity,
		Total:     price * int64(quantity),
		Status:    OrderStatusPending,
		Stage:     StagePending,
		LastSeq:   StagePending.Rank(),
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// Stale reports whether a message of the given rank describes a state the
// order has already reached or passed.
func (o *Order) Stale(seq int) bool {
	return seq > 0 && seq <= o.LastSeq
}

func (o *Order) MarkReserved(slotIDs []string, at time.Time) bool {
	if o.Stage != StagePending {
		return false
	}

	o.SlotIDs = append([]string(nil), slotIDs...)
	o.ReservedAt = at
	o.moveTo(StageReserved, "", at)
	return true
}

// MarkConfirmed accepts PENDING as well as RESERVED: once the slots are sold
// the order follows them even if it never saw the reservation.
func (o *Order) MarkConfirmed(at time.Time) bool {
	if o.Stage.Terminal() {
		return false
	}

	o.moveTo(StageConfirmed, "", at)
	return true
}

func (o *Order) MarkCancelled(reason string, at time.Time) bool {
	if o.Stage.Terminal() {
		return false
	}

	o.moveTo(StageCancelled, reason, at)
	return true
}

func (o *Order) MarkFailed(reason string, at time.Time) bool {
	if o.Stage != StagePending {
		return false
	}

	o.moveTo(StageFailed, reason, at)
	return true
}

func (o *Order) moveTo(stage Stage, reason string, at time.Time) {
	o.Stage = stage
	o.Status = stage.Status()
	if reason != "" {
		o.Reason = reason
	}
	if rank := stage.Rank(); rank > o.LastSeq {
		o.LastSeq = rank
	}
	o.UpdatedAt = at
}

// Notice returns the notification announcing the order's current stage.
// RESERVED has none of its own; the inventory announces it.
func (o *Order) Notice() (messages.Envelope, bool, error) {
	var eventType string
	switch o.Stage {
	case StagePending:
		env, err := messages.NewOrderCreated(o.ID, o.EventID, o.CreatedAt, messages.OrderCreatedPayload{
			UserID:   o.UserID,
			Quantity: o.Quantity,
			Total:    o.Total,
		})
		return env, err == nil, err
	case StageConfirmed:
		eventType = messages.OrderConfirmed
	case StageCancelled:
		eventType = messages.OrderCancelled
	case StageFailed:
		eventType = messages.OrderFailed
	default:
		return messages.Envelope{}, false, nil
	}

	env, err := messages.NewOrderStatus(eventType, o.ID, o.EventID, o.UpdatedAt, messages.OrderStatusPayload{
		Status: string(o.Status),
		Reason: o.Reason,
	})
	if err != nil {
		return messages.Envelope{}, false, err
	}

	return env, true, nil
}

func (o *Order) Clone() *Order {
	c := *o
	c.SlotIDs = append([]string(nil), o.SlotIDs...)
	return &c
}
