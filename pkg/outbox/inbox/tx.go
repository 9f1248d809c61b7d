package inbox

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type txKey struct{}

type scopedTx struct {
	owner TxBeginner
	tx    pgx.Tx
}

// ContextWithTx carries the inbox transaction opened on owner to the message
// handler.
func ContextWithTx(ctx context.Context, owner TxBeginner, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, scopedTx{owner: owner, tx: tx})
}

// TxFromContext returns the inbox transaction carried by ctx if it was opened
// on owner. Writes made through it commit or roll back with the inbox record.
func TxFromContext(ctx context.Context, owner TxBeginner) (pgx.Tx, bool) {
	scoped, ok := ctx.Value(txKey{}).(scopedTx)
	if !ok || scoped.owner != owner {
		return nil, false
	}

	return scoped.tx, true
}
