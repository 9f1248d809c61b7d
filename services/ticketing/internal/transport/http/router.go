package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/transport/http/handler"
)

type Handlers struct {
	Order *handler.OrderHandler
	Event *handler.EventHandler
}

func RegisterRoutes(app *fiber.App, h *Handlers) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	order := api.Group("/orders")
	order.Post("", h.Order.Create)
	order.Get("/:id", h.Order.Get)
	order.Get("/:id/tickets", h.Order.Tickets)
	order.Post("/:id/confirm", h.Order.Confirm)
	order.Post("/:id/cancel", h.Order.Cancel)

	api.Get("/users/:id/orders", h.Order.ListByUser)

	event := api.Group("/events")
	event.Post("", h.Event.Create)
	event.Get("", h.Event.List)
	event.Get("/:id", h.Event.Get)
	event.Get("/:id/capacity", h.Event.Capacity)
	event.Get("/:id/availability", h.Event.Availability)
	event.Patch("/:id/status", h.Event.ChangeStatus)
}
