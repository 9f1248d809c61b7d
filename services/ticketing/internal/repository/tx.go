package repository

import (
	"context"
	"errors"
	"fmt"

	messages "github.com/hanlinkhaing/ticketing-microservice/pkg/domain"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/mylogger"
	outboxDomain "github.com/hanlinkhaing/ticketing-microservice/pkg/outbox/domain"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/outbox/inbox"
	"github.com/hanlinkhaing/ticketing-microservice/pkg/outbox/worker"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	EventOutboxTable  = "event_outbox"
	TicketOutboxTable = "ticket_outbox"
	OrderOutboxTable  = "order_outbox"

	EventInboxTable  = "event_inbox"
	TicketInboxTable = "ticket_inbox"
	OrderInboxTable  = "order_inbox"
)

// withTx runs fn in a transaction on pool. Inside an inbox transaction on the
// same pool it runs in a savepoint of that transaction instead.
func withTx(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger, fn func(tx pgx.Tx) error) error {
	begin := pool.Begin
	if outer, ok := inbox.TxFromContext(ctx, pool); ok {
		begin = outer.Begin
	}

	tx, err := begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(shutdownCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(
				shutdownCtx,
				logger,
				"Error rolling back transaction",
				zap.Error(err),
			)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

type reader interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// conn reads through the inbox transaction when there is one, so a handler
// sees its own writes.
func conn(ctx context.Context, pool *pgxpool.Pool) reader {
	if tx, ok := inbox.TxFromContext(ctx, pool); ok {
		return tx
	}

	return pool
}

func emit(ctx context.Context, tx pgx.Tx, outbox worker.OutboxRepository, aggregateType, aggregateID string, env messages.Envelope) error {
	event, err := outboxDomain.FromEnvelope(aggregateType, aggregateID, env)
	if err != nil {
		return err
	}

	if err := outbox.SaveOutboxEvent(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to save outbox event %s: %w", env.ID, err)
	}

	return nil
}
