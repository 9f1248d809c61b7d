package http

import (
	"errors"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/config"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/mylogger"
	"go.uber.org/zap"
)

// NewServer builds the fiber app with panic recovery, tracing, the given
// middleware and rate limiting in front of the ticketing routes.
func NewServer(cfg config.Limiter, h *Handlers, logger *zap.Logger, middleware ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError

			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				code = fiberErr.Code
			}

			if code >= fiber.StatusInternalServerError {
				mylogger.Error(c.UserContext(), logger, "Unhandled request error", zap.Error(err))
			}

			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			mylogger.Error(
				c.UserContext(),
				logger,
				"Recovered from handler panic",
				zap.Any("panic", e),
				zap.String("path", c.Path()),
				zap.Stack("stack"),
			)
		},
	}))
	app.Use(otelfiber.Middleware())
	for _, mw := range middleware {
		app.Use(mw)
	}

	if cfg.Max > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        cfg.Max,
			Expiration: cfg.Expiration,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error": "Too many requests. Try again later.",
				})
			},
		}))
	}

	RegisterRoutes(app, h)

	return app
}
