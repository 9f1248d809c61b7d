package handler

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/mylogger"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/utils"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/domain"
	"go.uber.org/zap"
)

const defaultTimeout = 4 * time.Second

const (
	HeaderUserID         = "X-User-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return v
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrInvalidEvent):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrEventNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientInventory),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrEventNotOnSale),
		errors.Is(err, domain.ErrReservationExpired):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c *fiber.Ctx, logger *zap.Logger, op string, err error) error {
	code := statusOf(err)
	if code == fiber.StatusInternalServerError {
		mylogger.Error(
			c.UserContext(),
			logger,
			op+" failed",
			zap.Error(err),
		)

		return c.Status(code).JSON(fiber.Map{
			"error": "internal error",
		})
	}

	mylogger.Info(
		c.UserContext(),
		logger,
		op+" rejected",
		zap.Int("http_code", code),
		zap.Error(err),
	)

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":  "validation failed",
		"fields": utils.FormatValidationError(err),
	})
}

// userID takes the caller from the body if given, else from the X-User-ID
// header.
func userID(c *fiber.Ctx, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}

	return c.Get(HeaderUserID)
}
