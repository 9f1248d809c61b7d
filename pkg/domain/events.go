package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	TopicEventEvents   = "event_events"
	TopicTicketEvents  = "ticket_events"
	TopicOrderEvents   = "order_events"
	TopicOrderCommands = "order_commands"
)

const (
	EventCreated       = "EVENT_CREATED"
	EventStatusChanged = "EVENT_STATUS_CHANGED"

	TicketsReserved  = "TICKETS_RESERVED"
	TicketsSold      = "TICKETS_SOLD"
	TicketsCancelled = "TICKETS_CANCELLED"

	OrderCreated   = "ORDER_CREATED"
	OrderConfirmed = "ORDER_CONFIRMED"
	OrderCancelled = "ORDER_CANCELLED"
	OrderFailed    = "ORDER_FAILED"

	ConfirmOrder = "CONFIRM_ORDER"
	CancelOrder  = "CANCEL_ORDER"
)

// Envelope is the wire format of every message on the bus. ID is the
// idempotency key, Seq the per-order rank of the transition it announces
// (zero for commands and event-level messages).
type Envelope struct {
	ID         string          `json:"id"`
	Event      string          `json:"event"`
	OrderID    string          `json:"order_id,omitempty"`
	EventID    string          `json:"event_id,omitempty"`
	Seq        int             `json:"seq"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Event, err)
	}

	return nil
}

// Topic returns the topic a message of this type is published to.
func (e Envelope) Topic() string {
	return TopicOf(e.Event)
}

func TopicOf(eventType string) string {
	switch eventType {
	case EventCreated, EventStatusChanged:
		return TopicEventEvents
	case TicketsReserved, TicketsSold, TicketsCancelled:
		return TopicTicketEvents
	case ConfirmOrder, CancelOrder:
		return TopicOrderCommands
	default:
		return TopicOrderEvents
	}
}

func SeqOf(eventType string) int {
	switch eventType {
	case OrderCreated:
		return 1
	case TicketsReserved:
		return 2
	case TicketsSold, TicketsCancelled:
		return 3
	case OrderConfirmed, OrderCancelled, OrderFailed:
		return 4
	default:
		return 0
	}
}

func MessageID(eventType, key string) string {
	return eventType + ":" + key
}

// NewEnvelope builds an envelope whose idempotency key is derived from the
// message type and key, so re-emitting the same transition yields the same ID.
func NewEnvelope(eventType, key, orderID, eventID string, at time.Time, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	return Envelope{
		ID:         MessageID(eventType, key),
		Event:      eventType,
		OrderID:    orderID,
		EventID:    eventID,
		Seq:        SeqOf(eventType),
		OccurredAt: at.UTC(),
		Payload:    data,
	}, nil
}

type EventCreatedPayload struct {
	Name     string    `json:"name"`
	Capacity int       `json:"capacity"`
	Price    int64     `json:"price"`
	StartsAt time.Time `json:"starts_at"`
}

type EventStatusChangedPayload struct {
	Status  string `json:"status"`
	Version int64  `json:"version"`
}

type TicketsPayload struct {
	SlotIDs  []string `json:"slot_ids"`
	Quantity int      `json:"quantity"`
	Reason   string   `json:"reason,omitempty"`
}

type OrderCreatedPayload struct {
	UserID   string `json:"user_id"`
	Quantity int    `json:"quantity"`
	Total    int64  `json:"total"`
}

type OrderStatusPayload struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type OrderCommandPayload struct {
	Reason string `json:"reason,omitempty"`
}

func NewEventCreated(eventID string, at time.Time, p EventCreatedPayload) (Envelope, error) {
	return NewEnvelope(EventCreated, eventID, "", eventID, at, p)
}

func NewEventStatusChanged(eventID string, at time.Time, p EventStatusChangedPayload) (Envelope, error) {
	return NewEnvelope(EventStatusChanged, fmt.Sprintf("%s:%d", eventID, p.Version), "", eventID, at, p)
}

func NewTicketsNotice(eventType, orderID, eventID string, at time.Time, p TicketsPayload) (Envelope, error) {
	return NewEnvelope(eventType, orderID, orderID, eventID, at, p)
}

func NewOrderCreated(orderID, eventID string, at time.Time, p OrderCreatedPayload) (Envelope, error) {
	return NewEnvelope(OrderCreated, orderID, orderID, eventID, at, p)
}

func NewOrderStatus(eventType, orderID, eventID string, at time.Time, p OrderStatusPayload) (Envelope, error) {
	return NewEnvelope(eventType, orderID, orderID, eventID, at, p)
}

// NewOrderCommand builds a CONFIRM_ORDER or CANCEL_ORDER command. The caller
// supplies the idempotency key; commands carry no sequence rank.
func NewOrderCommand(eventType, orderID, key string, at time.Time, p OrderCommandPayload) (Envelope, error) {
	return NewEnvelope(eventType, key, orderID, "", at, p)
}
