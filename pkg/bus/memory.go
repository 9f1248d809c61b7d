package bus

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/hanlinkhaing/ticketing-microservice/pkg/alert"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/mylogger"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("bus is closed")

type delivery struct {
	topic   string
	env     domain.Envelope
	attempt int
}

type group struct {
	name    string
	topics  []string
	handler Handler
	queue   []delivery
	cond    *sync.Cond
}

// Memory is an in-process bus with the same delivery contract as the Kafka
// adapter: each consumer group gets its own copy of every message, a failed
// delivery is retried, and nothing is ordered. Duplicates and shuffling can
// be switched on to exercise consumers.
type Memory struct {
	mu     sync.Mutex
	groups map[string]*group
	topics map[string][]*group

	pending     int
	closed      bool
	started     bool
	deadLetters []domain.Envelope

	logger          *zap.Logger
	alerts          alert.Sink
	maxDeliveries   int
	duplicates      int
	workers         int
	redeliveryDelay time.Duration
	rng             *rand.Rand
}

type MemoryOption func(*Memory)

func WithMaxDeliveries(n int) MemoryOption {
	return func(b *Memory) {
		if n > 0 {
			b.maxDeliveries = n
		}
	}
}

// WithDuplicates delivers every published message n extra times.
func WithDuplicates(n int) MemoryOption {
	return func(b *Memory) {
		if n >= 0 {
			b.duplicates = n
		}
	}
}

// WithShuffle hands queued messages to consumers in random order.
func WithShuffle(seed int64) MemoryOption {
	return func(b *Memory) {
		b.rng = rand.New(rand.NewSource(seed))
	}
}

// WithWorkers sets how many goroutines consume each group concurrently.
func WithWorkers(n int) MemoryOption {
	return func(b *Memory) {
		if n > 0 {
			b.workers = n
		}
	}
}

func WithRedeliveryDelay(d time.Duration) MemoryOption {
	return func(b *Memory) {
		b.redeliveryDelay = d
	}
}

func WithAlerts(sink alert.Sink) MemoryOption {
	return func(b *Memory) {
		b.alerts = sink
	}
}

func NewMemory(logger *zap.Logger, opts ...MemoryOption) *Memory {
	b := &Memory{
		groups:          make(map[string]*group),
		topics:          make(map[string][]*group),
		logger:          logger,
		alerts:          alert.NewLogSink(logger),
		maxDeliveries:   10,
		workers:         1,
		redeliveryDelay: 10 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *Memory) Subscribe(name string, topics []string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return fmt.Errorf("subscribe %s: bus already started", name)
	}
	if _, ok := b.groups[name]; ok {
		return fmt.Errorf("subscribe %s: group already registered", name)
	}

	g := &group{
		name:    name,
		topics:  topics,
		handler: h,
		cond:    sync.NewCond(&b.mu),
	}
	b.groups[name] = g

	for _, topic := range topics {
		b.topics[topic] = append(b.topics[topic], g)
	}

	return nil
}

// Publish enqueues env for every group subscribed to topic. The message is
// queued before Publish returns.
func (b *Memory) Publish(ctx context.Context, topic string, env domain.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	for _, g := range b.topics[topic] {
		for i := 0; i <= b.duplicates; i++ {
			g.queue = append(g.queue, delivery{topic: topic, env: env})
			b.pending++
		}
		g.cond.Broadcast()
	}

	mylogger.Debug(
		ctx,
		b.logger,
		"Message published",
		zap.String("topic", topic),
		zap.String("message_id", env.ID),
		zap.String("event", env.Event),
	)

	return nil
}

// Start launches the consumer goroutines. They stop when ctx is done.
func (b *Memory) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return errors.New("bus already started")
	}
	b.started = true

	for _, g := range b.groups {
		for i := 0; i < b.workers; i++ {
			go b.consume(ctx, g)
		}
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()

		b.mu.Lock()
		b.closed = true
		for _, g := range b.groups {
			g.cond.Broadcast()
		}
		b.mu.Unlock()
	}()

	return nil
}

// Drain blocks until every queued message has been handled or dead-lettered.
func (b *Memory) Drain(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for {
		b.mu.Lock()
		pending := b.pending
		b.mu.Unlock()

		if pending == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("drain with %d messages pending: %w", pending, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (b *Memory) DeadLetters() []domain.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Envelope(nil), b.deadLetters...)
}

func (b *Memory) consume(ctx context.Context, g *group) {
	for {
		b.mu.Lock()
		for len(g.queue) == 0 && !b.closed {
			g.cond.Wait()
		}
		if b.closed {
			b.mu.Unlock()
			return
		}
		d := b.pop(g)
		b.mu.Unlock()

		if err := g.handler(ctx, d.env); err != nil {
			b.redeliver(ctx, g, d, err)
			continue
		}

		b.done()
	}
}

func (b *Memory) pop(g *group) delivery {
	i := 0
	if b.rng != nil {
		i = b.rng.Intn(len(g.queue))
	}

	d := g.queue[i]
	g.queue = append(g.queue[:i], g.queue[i+1:]...)
	return d
}

func (b *Memory) done() {
	b.mu.Lock()
	b.pending--
	b.mu.Unlock()
}

func (b *Memory) redeliver(ctx context.Context, g *group, d delivery, cause error) {
	d.attempt++

	if d.attempt >= b.maxDeliveries {
		b.mu.Lock()
		b.deadLetters = append(b.deadLetters, d.env)
		b.mu.Unlock()

		b.alerts.Raise(ctx, alert.Alert{
			Component: "bus." + g.name,
			Op:        "deliver " + d.env.Event,
			OrderID:   d.env.OrderID,
			EventID:   d.env.EventID,
			Err:       fmt.Errorf("message %s dead-lettered after %d deliveries: %w", d.env.ID, d.attempt, cause),
			At:        time.Now().UTC(),
		})

		b.done()
		return
	}

	mylogger.Warn(
		ctx,
		b.logger,
		"Handler failed, message will be redelivered",
		zap.String("group", g.name),
		zap.String("message_id", d.env.ID),
		zap.Int("attempt", d.attempt),
		zap.Error(cause),
	)

	time.AfterFunc(b.redeliveryDelay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.closed {
			b.pending--
			return
		}

		g.queue = append(g.queue, d)
		g.cond.Signal()
	})
}
