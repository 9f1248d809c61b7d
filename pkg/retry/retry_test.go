package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errPermanent = errors.New("permanent")

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Permanent: func(err error) bool {
			return errors.Is(err, errPermanent)
		},
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), zap.NewNop(), "flaky", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), zap.NewNop(), "business", func(ctx context.Context) error {
		calls++
		return errPermanent
	})

	assert.ErrorIs(t, err, errPermanent)
	assert.False(t, IsExhausted(err))
	assert.Equal(t, 1, calls)
}

func TestDo_HonoursBackoffPermanent(t *testing.T) {
	calls := 0
	cause := errors.New("bad payload")
	err := Do(context.Background(), Policy{MaxAttempts: 4}, zap.NewNop(), "decode", func(ctx context.Context) error {
		calls++
		return backoff.Permanent(cause)
	})

	assert.ErrorIs(t, err, cause)
	assert.False(t, IsExhausted(err))
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	cause := errors.New("timeout")
	err := Do(context.Background(), fastPolicy(3), zap.NewNop(), "reserve", func(ctx context.Context) error {
		calls++
		return cause
	})

	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "reserve", exhausted.Op)
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestDo_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, fastPolicy(10), zap.NewNop(), "cancelled", func(ctx context.Context) error {
		return errors.New("unavailable")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsExhausted(err))
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{}, zap.NewNop(), "once", func(ctx context.Context) error {
		calls++
		return errors.New("down")
	})

	assert.True(t, IsExhausted(err))
	assert.Equal(t, 1, calls)
}
