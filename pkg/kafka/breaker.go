package kafka

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type breakerProducer struct {
	next Producer
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerProducer wraps next with a circuit breaker. While the breaker is
// open Produce fails fast with gobreaker.ErrOpenState and the caller's retry
// policy decides what happens next.
func NewBreakerProducer(next Producer, logger *zap.Logger) Producer {
	settings := gobreaker.Settings{
		Name:        "KafkaProducer",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(
				"Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &breakerProducer{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

func (p *breakerProducer) Produce(ctx context.Context, topic, key string, value []byte) error {
	_, err := executeWithBreaker(p.cb, func() (struct{}, error) {
		return struct{}{}, p.next.Produce(ctx, topic, key, value)
	})

	return err
}

func (p *breakerProducer) Close() error {
	return p.next.Close()
}

func executeWithBreaker[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return *new(T), err
	}

	return res.(T), nil
}
