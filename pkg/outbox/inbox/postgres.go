package inbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/hanlinkhaing/ticketing-microservice/pkg/mylogger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres records processed message ids in a table keyed by
// (consumer_group, message_id). The row is inserted before the action runs and
// committed only after it succeeds, so a concurrent duplicate blocks on the
// unique key and is skipped once the first delivery commits. The action sees
// the transaction through TxFromContext; repositories on the same pool join
// it instead of taking a second connection.
type Postgres struct {
	pool   TxBeginner
	table  string
	logger *zap.Logger
}

func NewPostgres(pool TxBeginner, table string, logger *zap.Logger) *Postgres {
	return &Postgres{
		pool:   pool,
		table:  pgx.Identifier{table}.Sanitize(),
		logger: logger,
	}
}

func (p *Postgres) Process(
	ctx context.Context,
	group string,
	messageID string,
	action func(ctx context.Context) error,
) error {
	span := trace.SpanFromContext(ctx)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin inbox transaction: %w", err)
	}

	defer func() {
		shutdownCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(shutdownCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(
				shutdownCtx,
				p.logger,
				"Error rolling back transaction",
				zap.Error(err),
			)
		}
	}()

	query := fmt.Sprintf(`
		INSERT INTO %s (consumer_group, message_id)
		VALUES ($1, $2)
	`, p.table)

	_, err = tx.Exec(ctx, query, group, messageID)
	if err != nil {
		var pgError *pgconn.PgError
		if errors.As(err, &pgError) && pgError.Code == "23505" {
			mylogger.Debug(
				ctx,
				p.logger,
				"Message already processed, skipping",
				zap.String("group", group),
				zap.String("message_id", messageID),
			)

			return nil
		}

		span.RecordError(err)
		return fmt.Errorf("failed to record message %s: %w", messageID, err)
	}

	if err := action(ContextWithTx(ctx, p.pool, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			p.logger,
			"Failed to commit transaction",
			zap.String("message_id", messageID),
			zap.Error(err),
		)

		return fmt.Errorf("failed to commit inbox record: %w", err)
	}

	return nil
}
