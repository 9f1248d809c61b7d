package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/alert"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/clock"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/mylogger"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/domain"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/repository"
	"go.uber.org/zap"
)

type CreateEventInput struct {
	Name        string
	Description string
	Venue       string
	StartsAt    time.Time
	Capacity    int
	Price       int64
	CreatedBy   string
}

type EventService interface {
	CreateEvent(ctx context.Context, input CreateEventInput) (*domain.Event, error)
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
	ListActive(ctx context.Context) ([]domain.Event, error)
	ListByCreator(ctx context.Context, userID string) ([]domain.Event, error)
	GetEventCapacity(ctx context.Context, id string) (domain.Capacity, error)
	ChangeStatus(ctx context.Context, id string, status domain.EventStatus) (*domain.Event, error)
	ApplyTicketNotice(ctx context.Context, notice domain.TicketNotice) error
}

type eventService struct {
	events repository.EventRepository
	alerts alert.Sink
	clock  clock.Clock
	logger *zap.Logger
}

func NewEventService(events repository.EventRepository, alerts alert.Sink, clk clock.Clock, logger *zap.Logger) EventService {
	return &eventService{
		events: events,
		alerts: alerts,
		clock:  clk,
		logger: logger,
	}
}

func (s *eventService) CreateEvent(ctx context.Context, input CreateEventInput) (*domain.Event, error) {
	now := s.clock.Now()
	event := &domain.Event{
		ID:          uuid.NewString(),
		Name:        input.Name,
		Description: input.Description,
		Venue:       input.Venue,
		StartsAt:    input.StartsAt.UTC(),
		Capacity:    input.Capacity,
		Price:       input.Price,
		CreatedBy:   input.CreatedBy,
		Status:      domain.EventStatusActive,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := event.Validate(); err != nil {
		return nil, err
	}

	if err := s.events.Create(ctx, event); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Failed to create event",
			zap.String("name", input.Name),
			zap.Error(err),
		)

		return nil, err
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Event created",
		zap.String("event_id", event.ID),
		zap.Int("capacity", event.Capacity),
	)

	return event, nil
}

func (s *eventService) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	return s.events.Get(ctx, id)
}

// ListActive returns the ACTIVE events that have not started yet, soonest
// first.
func (s *eventService) ListActive(ctx context.Context) ([]domain.Event, error) {
	return s.events.ListActive(ctx, s.clock.Now())
}

func (s *eventService) ListByCreator(ctx context.Context, userID string) ([]domain.Event, error) {
	return s.events.ListByCreator(ctx, userID)
}

func (s *eventService) GetEventCapacity(ctx context.Context, id string) (domain.Capacity, error) {
	event, err := s.events.Get(ctx, id)
	if err != nil {
		return domain.Capacity{}, err
	}

	return domain.Capacity{EventID: event.ID, Total: event.Capacity, Sold: event.Sold}, nil
}

func (s *eventService) ChangeStatus(ctx context.Context, id string, status domain.EventStatus) (*domain.Event, error) {
	event, changed, err := s.events.ChangeStatus(ctx, id, status, s.clock.Now())
	if err != nil {
		return nil, err
	}

	if changed {
		mylogger.Info(
			ctx,
			s.logger,
			"Event status changed",
			zap.String("event_id", id),
			zap.String("status", string(status)),
			zap.Int64("version", event.Version),
		)
	}

	return event, nil
}

// ApplyTicketNotice projects a ticket notice onto the event's sold count.
// Notices that cannot be applied are reported and acknowledged so they do
// not block the consumer.
func (s *eventService) ApplyTicketNotice(ctx context.Context, notice domain.TicketNotice) error {
	event, applied, err := s.events.ApplyTicketNotice(ctx, notice, s.clock.Now())
	switch {
	case errors.Is(err, domain.ErrEventNotFound):
		mylogger.Warn(
			ctx,
			s.logger,
			"Ticket notice for unknown event",
			zap.String("event_id", notice.EventID),
			zap.String("order_id", notice.OrderID),
			zap.String("message_id", notice.MessageID),
		)

		return nil
	case errors.Is(err, domain.ErrSoldOutOfRange):
		s.alerts.Raise(ctx, alert.Alert{
			Component: "event-store",
			Op:        notice.Kind,
			OrderID:   notice.OrderID,
			EventID:   notice.EventID,
			Err:       err,
			At:        s.clock.Now(),
		})

		return nil
	case err != nil:
		return err
	}

	if applied {
		mylogger.Debug(
			ctx,
			s.logger,
			"Sold count updated",
			zap.String("event_id", event.ID),
			zap.String("order_id", notice.OrderID),
			zap.String("kind", notice.Kind),
			zap.Int("sold", event.Sold),
		)
	}

	return nil
}
