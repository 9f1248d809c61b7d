// Package alert surfaces conditions that need an operator, such as exhausted
// retries or integrity violations.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/hanlinkhaing/ticketing-microservice/pkg/mylogger"
	"go.uber.org/zap"
)

type Alert struct {
	Component string
	Op        string
	OrderID   string
	EventID   string
	Err       error
	At        time.Time
}

type Sink interface {
	Raise(ctx context.Context, a Alert)
}

type logSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) Sink {
	return &logSink{logger: logger}
}

func (s *logSink) Raise(ctx context.Context, a Alert) {
	mylogger.Alert(
		ctx,
		s.logger,
		"Operator attention required",
		zap.String("component", a.Component),
		zap.String("op", a.Op),
		zap.String("order_id", a.OrderID),
		zap.String("event_id", a.EventID),
		zap.Time("at", a.At),
		zap.Error(a.Err),
	)
}

// Memory keeps raised alerts for inspection in tests.
type Memory struct {
	mu     sync.Mutex
	alerts []Alert
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Raise(_ context.Context, a Alert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
}

func (m *Memory) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.alerts...)
}

// Multi fans an alert out to several sinks.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

type multi []Sink

func (m multi) Raise(ctx context.Context, a Alert) {
	for _, s := range m {
		s.Raise(ctx, a)
	}
}
