package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hanlinkhaing/ticketing-microservice/pkg/alert"
	messages "github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/mylogger"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/outbox/domain"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MaxAttempts bounds how often a row is handed to the publisher. Rows that
// reach it stay unpublished and are reported for an operator.
const MaxAttempts = 10

type OutboxRepository interface {
	SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error
	GetUnpublishedEvents(ctx context.Context, tx pgx.Tx, batchSize int) ([]*domain.OutboxEvent, error)
	MarkEventPublished(ctx context.Context, tx pgx.Tx, eventID int64) error
	MarkEventFailed(ctx context.Context, tx pgx.Tx, eventID int64, error string) error
}

type Publisher interface {
	Publish(ctx context.Context, topic string, env messages.Envelope) error
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type OutboxProcessor struct {
	name      string
	pool      TxBeginner
	repo      OutboxRepository
	publisher Publisher
	logger    *zap.Logger
	alerts    alert.Sink
	batchSize int
	interval  time.Duration
	tracer    trace.Tracer
}

type Option func(*OutboxProcessor)

func WithBatchSize(n int) Option {
	return func(p *OutboxProcessor) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(p *OutboxProcessor) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithAlerts reports rows that exhaust their publish attempts to sink.
func WithAlerts(sink alert.Sink) Option {
	return func(p *OutboxProcessor) {
		if sink != nil {
			p.alerts = sink
		}
	}
}

func NewOutboxProcessor(
	name string,
	pool TxBeginner,
	repo OutboxRepository,
	publisher Publisher,
	logger *zap.Logger,
	opts ...Option,
) *OutboxProcessor {
	p := &OutboxProcessor{
		name:      name,
		pool:      pool,
		repo:      repo,
		publisher: publisher,
		logger:    logger.With(zap.String("outbox", name)),
		batchSize: 50,
		interval:  500 * time.Millisecond,
		tracer:    otel.Tracer("outbox-worker"),
	}

	for _, opt := range opts {
		opt(p)
	}
	if p.alerts == nil {
		p.alerts = alert.NewLogSink(p.logger)
	}

	return p
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	mylogger.Info(
		ctx,
		p.logger,
		"Starting outbox processor",
		zap.Duration("interval", p.interval),
		zap.Int("batch_size", p.batchSize),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(
				ctx,
				p.logger,
				"Outbox processor stopping",
			)

			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				mylogger.Error(
					ctx,
					p.logger,
					"Error processing outbox batch",
					zap.Error(err),
				)
			}
		}
	}
}

// ProcessBatch publishes one batch of pending rows and returns how many were
// published.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.ProcessBatch")
	defer span.End()

	span.SetAttributes(attribute.String("outbox.name", p.name))

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		mylogger.Error(
			ctx,
			p.logger,
			"outbox worker failed to begin transaction",
			zap.Error(err),
		)

		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(cleanupCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(
				cleanupCtx,
				p.logger,
				"Outbox worker failed to rollback transaction",
				zap.Error(err),
				zap.String("method_name", "ProcessBatch"),
			)
		}
	}()

	events, err := p.repo.GetUnpublishedEvents(ctx, tx, p.batchSize)
	if err != nil {
		return 0, err
	}

	if len(events) == 0 {
		return 0, nil
	}

	mylogger.Debug(
		ctx,
		p.logger,
		"Processing outbox events",
		zap.Int("count", len(events)),
	)

	published := 0
	for _, event := range events {
		var env messages.Envelope
		if err := json.Unmarshal(event.Payload, &env); err != nil {
			mylogger.Error(
				ctx,
				p.logger,
				"outbox worker unmarshal event payload failed",
				zap.Int64("id", event.Id),
				zap.Error(err),
			)

			p.markFailed(ctx, tx, event, err)
			continue
		}

		if err := p.publisher.Publish(p.withHeaders(ctx, event), event.Topic, env); err != nil {
			mylogger.Warn(
				ctx,
				p.logger,
				"outbox worker produce message failed",
				zap.Int64("id", event.Id),
				zap.String("message_id", event.MessageID),
				zap.Error(err),
			)

			p.markFailed(ctx, tx, event, err)
			continue
		}

		if err := p.repo.MarkEventPublished(ctx, tx, event.Id); err != nil {
			mylogger.Error(
				ctx,
				p.logger,
				"Outbox worker event publishing failed",
				zap.Int64("id", event.Id),
				zap.Error(err),
			)

			return published, err
		}

		published++
		mylogger.Debug(
			ctx,
			p.logger,
			"outbox worker event published successfully",
			zap.Int64("id", event.Id),
			zap.String("message_id", event.MessageID),
		)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit outbox batch: %w", err)
	}

	return published, nil
}

func (p *OutboxProcessor) markFailed(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent, cause error) {
	if err := p.repo.MarkEventFailed(ctx, tx, event.Id, cause.Error()); err != nil {
		mylogger.Error(
			ctx,
			p.logger,
			"outbox worker mark event failed failed",
			zap.Int64("id", event.Id),
			zap.Error(err),
		)
		return
	}

	if event.Attempts+1 >= MaxAttempts {
		a := alert.Alert{
			Component: "outbox." + p.name,
			Op:        "publish",
			Err:       fmt.Errorf("message %s exhausted %d publish attempts: %w", event.MessageID, MaxAttempts, cause),
			At:        time.Now(),
		}
		if event.AggregateType == "order" {
			a.OrderID = event.AggregateID
		} else {
			a.EventID = event.AggregateID
		}
		p.alerts.Raise(ctx, a)
	}
}

func (p *OutboxProcessor) withHeaders(ctx context.Context, event *domain.OutboxEvent) context.Context {
	if len(event.Headers) == 0 {
		return ctx
	}

	carrier := propagation.MapCarrier{}
	if err := json.Unmarshal(event.Headers, &carrier); err != nil {
		return ctx
	}

	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
