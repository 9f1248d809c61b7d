package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/alert"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/bus"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	handlers map[string]bus.Handler
}

func (c *captured) Subscribe(group string, _ []string, h bus.Handler) error {
	c.handlers[group] = h
	return nil
}

func TestSubscriber_CountsOutcomes(t *testing.T) {
	m := New()
	sub := &captured{handlers: map[string]bus.Handler{}}

	fail := errors.New("boom")
	require.NoError(t, m.Subscriber(sub).Subscribe("saga", nil, func(_ context.Context, env domain.Envelope) error {
		if env.OrderID == "bad" {
			return fail
		}
		return nil
	}))

	h := sub.handlers["saga"]
	require.NotNil(t, h)

	ctx := context.Background()
	assert.NoError(t, h(ctx, domain.Envelope{Event: domain.TicketsReserved, OrderID: "o-1"}))
	assert.NoError(t, h(ctx, domain.Envelope{Event: domain.TicketsReserved, OrderID: "o-2"}))
	assert.ErrorIs(t, h(ctx, domain.Envelope{Event: domain.TicketsReserved, OrderID: "bad"}), fail)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messages.WithLabelValues("saga", domain.TicketsReserved, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("saga", domain.TicketsReserved, "error")))
}

func TestAlertSink_CountsByComponent(t *testing.T) {
	m := New()
	sink := alert.Multi(alert.NewMemory(), m.AlertSink())

	sink.Raise(context.Background(), alert.Alert{Component: "saga"})
	sink.Raise(context.Background(), alert.Alert{Component: "saga"})
	sink.Raise(context.Background(), alert.Alert{Component: "bus.inventory"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.alerts.WithLabelValues("saga")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues("bus.inventory")))
}

func TestMiddleware_CountsRoutes(t *testing.T) {
	m := New()

	app := fiber.New()
	app.Use(m.Middleware())
	app.Get("/orders/:id", func(c *fiber.Ctx) error {
		if c.Params("id") == "missing" {
			return fiber.ErrNotFound
		}
		return c.SendStatus(fiber.StatusOK)
	})

	for _, path := range []string{"/orders/1", "/orders/2", "/orders/missing"} {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil))
		require.NoError(t, err)
		resp.Body.Close()
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues(fiber.MethodGet, "/orders/:id", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(fiber.MethodGet, "/orders/:id", "404")))
}

func TestHTTPHandler_ServesRegistry(t *testing.T) {
	m := New()
	m.AlertSink().Raise(context.Background(), alert.Alert{Component: "saga"})

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `ticketing_alerts_total{component="saga"} 1`)
}
