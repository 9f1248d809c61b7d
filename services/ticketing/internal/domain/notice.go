package domain

import (
	"time"

	messages "github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
)

// TicketsNotice builds the ticket notification for a slot change.
func TicketsNotice(eventType string, change SlotChange, reason string, at time.Time) (messages.Envelope, error) {
	return messages.NewTicketsNotice(eventType, change.OrderID, change.EventID, at, messages.TicketsPayload{
		SlotIDs:  change.SlotIDs,
		Quantity: len(change.SlotIDs),
		Reason:   reason,
	})
}

func EventCreatedNotice(e *Event) (messages.Envelope, error) {
	return messages.NewEventCreated(e.ID, e.CreatedAt, messages.EventCreatedPayload{
		Name:     e.Name,
		Capacity: e.Capacity,
		Price:    e.Price,
		StartsAt: e.StartsAt,
	})
}

func EventStatusNotice(e *Event) (messages.Envelope, error) {
	return messages.NewEventStatusChanged(e.ID, e.UpdatedAt, messages.EventStatusChangedPayload{
		Status:  string(e.Status),
		Version: e.Version,
	})
}
