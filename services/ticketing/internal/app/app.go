// Package app wires the ticketing components for the configured storage and
// bus.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/alert"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/bus"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/clock"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/config"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/db"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/kafka"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/metrics"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/mylogger"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/outbox/inbox"
	outboxRepository "github.com/hanlinkhaing/ticketing-microservice/pkg/outbox/repository"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/outbox/worker"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/retry"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/repository"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/repository/memory"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/service"
	httpTransport "github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/transport/http"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/transport/http/handler"
	"github.com/hanlinkhaing/ticketing-microservice/services/ticketing/internal/transport/messaging"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	Inventory   *service.InventoryManager
	Events      service.EventService
	Orders      *service.OrderMachine
	Coordinator *service.Coordinator
	Sweeper     *service.Sweeper
	HTTP        *fiber.App
	Metrics     *metrics.Metrics

	cfg      *config.Config
	logger   *zap.Logger
	clock    clock.Clock
	alerts   alert.Sink
	bus      bus.Bus
	outboxes []*worker.OutboxProcessor
	pools    []*pgxpool.Pool
	redis    *redis.Client

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*App)

func WithClock(clk clock.Clock) Option {
	return func(a *App) {
		a.clock = clk
	}
}

// WithBus replaces the bus built from the configuration.
func WithBus(b bus.Bus) Option {
	return func(a *App) {
		a.bus = b
	}
}

func WithAlerts(sink alert.Sink) Option {
	return func(a *App) {
		a.alerts = sink
	}
}

type stores struct {
	events  repository.EventRepository
	slots   repository.SlotRepository
	orders  repository.OrderRepository
	inboxes messaging.Inboxes
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  clock.NewSystem(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.alerts == nil {
		a.alerts = alert.NewLogSink(logger)
	}
	a.Metrics = metrics.New()
	a.alerts = alert.Multi(a.alerts, a.Metrics.AlertSink())

	if a.bus == nil {
		b, err := a.newBus()
		if err != nil {
			return nil, err
		}
		a.bus = b
	}

	var (
		st  stores
		err error
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		st, err = a.postgresStores(ctx)
	default:
		st = a.memoryStores()
	}
	if err != nil {
		a.closeResources()
		return nil, err
	}

	a.Inventory = service.NewInventoryManager(st.slots, a.clock, logger,
		service.WithReservationTimeout(cfg.Saga.ReservationTimeout),
	)

	a.Events = service.NewEventService(st.events, a.alerts, a.clock, logger)
	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr,
		})
		a.Events = service.NewCachedEventService(a.Events, a.redis, cfg.Redis.TTL, logger)
	}

	a.Orders = service.NewOrderMachine(st.orders, a.clock, logger)

	policy := retry.DefaultPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialInterval > 0 {
		policy.InitialInterval = cfg.Retry.InitialInterval
	}
	if cfg.Retry.MaxInterval > 0 {
		policy.MaxInterval = cfg.Retry.MaxInterval
	}

	a.Coordinator = service.NewCoordinator(a.Events, a.Inventory, a.Orders, a.alerts, a.clock, logger,
		service.WithRetryPolicy(policy),
	)
	a.Sweeper = service.NewSweeper(a.Inventory, a.Coordinator, a.Orders, cfg.Saga.SweepInterval, a.clock, logger)

	consumer := messaging.NewConsumer(a.Inventory, a.Events, a.Coordinator, logger)
	if err := consumer.Register(a.Metrics.Subscriber(a.bus), st.inboxes); err != nil {
		a.closeResources()
		return nil, fmt.Errorf("failed to register consumers: %w", err)
	}

	handlers := &httpTransport.Handlers{
		Order: handler.NewOrderHandler(a.Coordinator, a.Inventory, cfg.HTTP.Timeout, logger),
		Event: handler.NewEventHandler(a.Events, a.Inventory, cfg.HTTP.Timeout, logger),
	}
	a.HTTP = httpTransport.NewServer(cfg.Limiter, handlers, logger, a.Metrics.Middleware())

	return a, nil
}

func (a *App) newBus() (bus.Bus, error) {
	if a.cfg.Bus.Driver == config.BusKafka {
		producer, err := kafka.NewProducer(a.cfg.Kafka.Brokers, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka producer: %w", err)
		}

		return bus.NewKafka(kafka.NewBreakerProducer(producer, a.logger), a.cfg.Kafka.Brokers, a.logger), nil
	}

	return bus.NewMemory(a.logger,
		bus.WithMaxDeliveries(a.cfg.Bus.MaxDeliveries),
		bus.WithAlerts(a.alerts),
	), nil
}

func (a *App) memoryStores() stores {
	return stores{
		events: memory.NewEvents(a.bus),
		slots:  memory.NewSlots(a.bus),
		orders: memory.NewOrders(a.bus),
		inboxes: messaging.Inboxes{
			Events:  inbox.NewMemory(),
			Tickets: inbox.NewMemory(),
			Orders:  inbox.NewMemory(),
		},
	}
}

func (a *App) postgresStores(ctx context.Context) (stores, error) {
	pg := a.cfg.Postgres

	targets := []struct {
		name        string
		url         string
		outboxTable string
	}{
		{"events", pg.EventsURL, repository.EventOutboxTable},
		{"tickets", pg.TicketsURL, repository.TicketOutboxTable},
		{"orders", pg.OrdersURL, repository.OrderOutboxTable},
	}

	pools := make(map[string]*pgxpool.Pool, len(targets))
	for _, t := range targets {
		if pg.AutoMigrate {
			dir := filepath.Join(pg.Migrations, t.name)
			if err := db.Migrate(t.url, dir, "schema_migrations_"+t.name); err != nil {
				return stores{}, fmt.Errorf("failed to migrate %s store: %w", t.name, err)
			}
		}

		pool, err := db.NewPostgresDB(ctx, t.url)
		if err != nil {
			return stores{}, fmt.Errorf("failed to connect %s store: %w", t.name, err)
		}
		pools[t.name] = pool
		a.pools = append(a.pools, pool)

		a.outboxes = append(a.outboxes, worker.NewOutboxProcessor(
			t.name,
			pool,
			outboxRepository.NewOutboxRepository(t.outboxTable, a.logger),
			a.bus,
			a.logger,
			worker.WithBatchSize(a.cfg.Outbox.BatchSize),
			worker.WithInterval(a.cfg.Outbox.Interval),
			worker.WithAlerts(a.alerts),
		))
	}

	return stores{
		events: repository.NewEventRepository(pools["events"], a.logger),
		slots:  repository.NewSlotRepository(pools["tickets"], a.logger),
		orders: repository.NewOrderRepository(pools["orders"], a.logger),
		inboxes: messaging.Inboxes{
			Events:  inbox.NewPostgres(pools["events"], repository.EventInboxTable, a.logger),
			Tickets: inbox.NewPostgres(pools["tickets"], repository.TicketInboxTable, a.logger),
			Orders:  inbox.NewPostgres(pools["orders"], repository.OrderInboxTable, a.logger),
		},
	}, nil
}

// MemoryBus returns the in-process bus, or nil when another bus is in use.
func (a *App) MemoryBus() *bus.Memory {
	m, _ := a.bus.(*bus.Memory)
	return m
}

// Outboxes returns the outbox processors of the postgres stores.
func (a *App) Outboxes() []*worker.OutboxProcessor {
	return a.outboxes
}

// Start runs the bus consumers, the outbox processors and the sweeper until
// Close is called or ctx is done.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.bus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bus: %w", err)
	}

	for _, p := range a.outboxes {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			p.Start(ctx)
		}()
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Sweeper.Start(ctx)
	}()

	mylogger.Info(
		ctx,
		a.logger,
		"Ticketing started",
		zap.String("storage", a.cfg.Storage),
		zap.String("bus", a.cfg.Bus.Driver),
		zap.Int("outboxes", len(a.outboxes)),
	)

	return nil
}

func (a *App) Close(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		if k, ok := a.bus.(*bus.Kafka); ok {
			k.Wait()
		}
		close(done)
	}()

	var errs []error
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for workers: %w", ctx.Err()))
	}

	errs = append(errs, a.closeResources())
	return errors.Join(errs...)
}

func (a *App) closeResources() error {
	var errs []error

	if k, ok := a.bus.(*bus.Kafka); ok {
		if err := k.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing kafka producer: %w", err))
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis: %w", err))
		}
	}

	for _, pool := range a.pools {
		pool.Close()
	}
	a.pools = nil

	return errors.Join(errs...)
}
