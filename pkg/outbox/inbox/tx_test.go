package inbox

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pool struct{ name string }

func (p *pool) Begin(context.Context) (pgx.Tx, error) {
	return nil, nil
}

type tx struct{ pgx.Tx }

func TestTxFromContext_OnlyForOwningPool(t *testing.T) {
	orders, tickets := &pool{name: "orders"}, &pool{name: "tickets"}
	inner := &tx{}

	ctx := ContextWithTx(context.Background(), orders, inner)

	got, ok := TxFromContext(ctx, orders)
	require.True(t, ok)
	assert.Same(t, inner, got)

	_, ok = TxFromContext(ctx, tickets)
	assert.False(t, ok)

	_, ok = TxFromContext(context.Background(), orders)
	assert.False(t, ok)
}
