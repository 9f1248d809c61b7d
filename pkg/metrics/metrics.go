// Package metrics exposes prometheus counters for the bus consumers, the
// HTTP surface and operator alerts.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/alert"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/bus"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ticketing"

type Metrics struct {
	Registry *prometheus.Registry

	messages *prometheus.CounterVec
	duration *prometheus.HistogramVec
	alerts   *prometheus.CounterVec
	requests *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Bus messages handled, by consumer group, message type and outcome.",
		}, []string{"group", "event", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_duration_seconds",
			Help:      "Time spent in bus handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"group"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Operator alerts raised, by component.",
		}, []string{"component"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status code.",
		}, []string{"method", "route", "code"}),
	}

	reg.MustRegister(m.messages, m.duration, m.alerts, m.requests)

	return m
}

// HTTPHandler serves the registry in the prometheus text format.
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		Registry: m.Registry,
	})
}

// Subscriber wraps sub so that every registered handler is measured.
func (m *Metrics) Subscriber(sub bus.Subscriber) bus.Subscriber {
	return &subscriber{next: sub, metrics: m}
}

type subscriber struct {
	next    bus.Subscriber
	metrics *Metrics
}

func (s *subscriber) Subscribe(group string, topics []string, h bus.Handler) error {
	return s.next.Subscribe(group, topics, s.metrics.handler(group, h))
}

func (m *Metrics) handler(group string, h bus.Handler) bus.Handler {
	return func(ctx context.Context, env domain.Envelope) error {
		start := time.Now()
		err := h(ctx, env)
		m.duration.WithLabelValues(group).Observe(time.Since(start).Seconds())

		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		m.messages.WithLabelValues(group, env.Event, outcome).Inc()

		return err
	}
}

// AlertSink counts alerts. Combine it with a reporting sink through
// alert.Multi.
func (m *Metrics) AlertSink() alert.Sink {
	return alertCounter{m.alerts}
}

type alertCounter struct {
	counter *prometheus.CounterVec
}

func (a alertCounter) Raise(_ context.Context, al alert.Alert) {
	a.counter.WithLabelValues(al.Component).Inc()
}

// Middleware counts fiber requests by their matched route.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		code := c.Response().StatusCode()
		if err != nil {
			code = fiber.StatusInternalServerError

			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				code = fiberErr.Code
			}
		}

		m.requests.WithLabelValues(c.Method(), c.Route().Path, strconv.Itoa(code)).Inc()

		return err
	}
}
