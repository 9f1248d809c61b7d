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

type OrderService interface {
	CreateOrder(ctx context.Context, in service.CreateOrderInput) (*domain.Order, error)
	ConfirmOrder(ctx context.Context, id string) (*domain.Order, error)
	CancelOrder(ctx context.Context, id string, reason string) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, userID string) ([]domain.Order, error)
}

type TicketReader interface {
	TicketsByOrder(ctx context.Context, orderID string) ([]domain.Slot, error)
}

type OrderHandler struct {
	orders   OrderService
	tickets  TicketReader
	validate *validator.Validate
	timeout  time.Duration
	logger   *zap.Logger
}

func NewOrderHandler(orders OrderService, tickets TicketReader, timeout time.Duration, logger *zap.Logger) *OrderHandler {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &OrderHandler{
		orders:   orders,
		tickets:  tickets,
		validate: newValidator(),
		timeout:  timeout,
		logger:   logger,
	}
}

type CreateOrderInput struct {
	UserID   string `json:"user_id" validate:"required,max=128"`
	EventID  string `json:"event_id" validate:"required,max=128"`
	Quantity int    `json:"quantity" validate:"required,gt=0,max=100000"`
}

type CancelOrderInput struct {
	Reason string `json:"reason" validate:"max=64"`
}

func (h *OrderHandler) Create(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	input := new(CreateOrderInput)
	if err := c.BodyParser(input); err != nil {
		mylogger.Warn(
			ctx,
			h.logger,
			"failed to parse body in create order",
			zap.Error(err),
		)

		return badRequest(c, err)
	}
	input.UserID = userID(c, input.UserID)

	if input.Quantity < 0 {
		return writeError(c, h.logger, "create order", domain.ErrInvalidQuantity)
	}
	if err := h.validate.Struct(input); err != nil {
		return badRequest(c, err)
	}

	order, err := h.orders.CreateOrder(ctx, service.CreateOrderInput{
		UserID:         input.UserID,
		EventID:        input.EventID,
		Quantity:       input.Quantity,
		IdempotencyKey: c.Get(HeaderIdempotencyKey),
	})
	if err != nil {
		return writeError(c, h.logger, "create order", err)
	}

	mylogger.Info(
		ctx,
		h.logger,
		"create order succeeded",
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)),
	)

	return c.Status(fiber.StatusCreated).JSON(order)
}

func (h *OrderHandler) Confirm(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	order, err := h.orders.ConfirmOrder(ctx, c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, "confirm order", err)
	}

	return c.JSON(order)
}

func (h *OrderHandler) Cancel(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	input := new(CancelOrderInput)
	if len(c.Body()) > 0 {
		if err := c.BodyParser(input); err != nil {
			return badRequest(c, err)
		}
		if err := h.validate.Struct(input); err != nil {
			return badRequest(c, err)
		}
	}

	order, err := h.orders.CancelOrder(ctx, c.Params("id"), input.Reason)
	if err != nil {
		return writeError(c, h.logger, "cancel order", err)
	}

	return c.JSON(order)
}

func (h *OrderHandler) Get(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	order, err := h.orders.GetOrder(ctx, c.Params("id"))
	if err != nil {
		return writeError(c, h.logger, "get order", err)
	}

	return c.JSON(order)
}

func (h *OrderHandler) Tickets(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id := c.Params("id")
	if _, err := h.orders.GetOrder(ctx, id); err != nil {
		return writeError(c, h.logger, "get tickets", err)
	}

	slots, err := h.tickets.TicketsByOrder(ctx, id)
	if err != nil {
		return writeError(c, h.logger, "get tickets", err)
	}

	return c.JSON(fiber.Map{
		"order_id": id,
		"tickets":  slots,
	})
}

func (h *OrderHandler) ListByUser(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	userID := c.Params("id")
	if userID == "" {
		return badRequest(c, errors.New("user id is required"))
	}

	orders, err := h.orders.ListOrders(ctx, userID)
	if err != nil {
		return writeError(c, h.logger, "list orders", err)
	}

	return c.JSON(fiber.Map{
		"user_id": userID,
		"orders":  orders,
	})
}
