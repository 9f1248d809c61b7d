package handler

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/mylogger"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/domain"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/service"
	"go.uber.org/zap"
)

type AvailabilityReader interface {
	Availability(ctx context.Context, eventID string) (domain.Availability, error)
}

type EventHandler struct {
	events       service.EventService
	availability AvailabilityReader
	validate     *validator.Validate
	timeout      time.Duration
	logger       *zap.Logger
}

func NewEventHandler(events service.EventService, availability AvailabilityReader, timeout time.Duration, logger *zap.Logger) *EventHandler {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &EventHandler{
		events:       events,
		availability: availability,
		validate:     newValidator(),
		timeout:      timeout,
		logger:       logger,
	}
}

type CreateEventInput struct {
	Name        string    `json:"name" validate:"required,min=3,max=200"`
	Description string    `json:"description" validate:"max=2000"`
	Venue       string    `json:"venue" validate:"max=200"`
	StartsAt    time.Time `json:"starts_at" validate:"required"`
	Capacity    int       `json:"capacity" validate:"required,gt=0,max=100000"`
	Price       int64     `json:"price" validate:"gte=0"`
	CreatedBy   string    `json:"created_by" validate:"required,max=128"`
}

type ChangeStatusInput struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE INACTIVE CANCELLED"`
}

func (h *EventHandler) Create(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	input := new(CreateEventInput)
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(
			ctx,
			h.logger,
			"failed to parse body in create event",
			zap.Error(err),
		)

		return badRequest(c, err)
	}
	input.CreatedBy = userID(c, input.CreatedBy)

	if err := h.validate.Struct(input); err != nil {
		return badRequest(c, err)
	}

	event, err := h.events.CreateEvent(ctx, service.CreateEventInput{
		Name:        input.Name,
		Description: input.Description,
		Venue:       input.Venue,
		StartsAt:    input.StartsAt,
		Capacity:    input.Capacity,
		Price:       input.Price,
		CreatedBy:   input.CreatedBy,
	})
	if err != nil {
		return writeError(c, h.logger, "create event", err)
	}

	return c.Status(fiber.StatusCreated).JSON(event)
}

func (h *EventHandler) List(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	var (
		events []domain.Event
		err    error
	)
	if creator := c.Query("created_by"); creator != "" {
		events, err = h.events.ListByCreator(ctx, creator)
	} else {
		events, err = h.events.ListActive(ctx)
	}
	if err != nil {
		return writeError(c, h.logger, "list events", err)
	}

	return c.JSON(fiber.Map{
		"events": events,
		"total":  len(events),
	})
}

func (h *EventHandler) Get(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	event, err := h.events.GetEvent(ctx, c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, "get event", err)
	}

	return c.JSON(event)
}

func (h *EventHandler) Capacity(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	capacity, err := h.events.GetEventCapacity(ctx, c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, "get capacity", err)
	}

	return c.JSON(capacity)
}

func (h *EventHandler) Availability(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id := c.Params("id")
	event, err := h.events.GetEvent(ctx, id)
	if err != nil {
		return writeError(c, h.logger, "get availability", err)
	}

	availability, err := h.availability.Availability(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotProvisioned) {
			return writeError(c, h.logger, "get availability", err)
		}

		// Slots are provisioned asynchronously; until then every seat is free.
		availability = domain.Availability{EventID: id, Capacity: event.Capacity, Available: event.Capacity}
		if event.Status == domain.EventStatusCancelled {
			availability.Available = 0
			availability.Cancelled = event.Capacity
		}
	}

	return c.JSON(availability)
}

func (h *EventHandler) ChangeStatus(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	input := new(ChangeStatusInput)
	if err := c.BodyParser(input); err != nil {
		return badRequest(c, err)
	}
	if err := h.validate.Struct(input); err != nil {
		return badRequest(c, err)
	}

	event, err := h.events.ChangeStatus(ctx, c.Params("id"), domain.EventStatus(input.Status))
	if err != nil {
		return writeError(c, h.logger, "change event status", err)
	}

	return c.JSON(event)
}
