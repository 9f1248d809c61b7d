package http

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/config"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/transport/http/handler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestServer_RecoversFromPanics(t *testing.T) {
	logger := zap.NewNop()
	h := &Handlers{
		Order: handler.NewOrderHandler(nil, nil, 0, logger),
		Event: handler.NewEventHandler(nil, nil, 0, logger),
	}

	explode := func(c *fiber.Ctx) error {
		if c.Get("X-Explode") != "" {
			panic("handler blew up")
		}
		return c.Next()
	}
	app := NewServer(config.Limiter{}, h, logger, explode)

	req := httptest.NewRequest(fiber.MethodGet, "/health", nil)
	req.Header.Set("X-Explode", "1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/health", nil))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
