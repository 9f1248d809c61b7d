package inbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_ProcessesOncePerGroup(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var calls int
	action := func(ctx context.Context) error {
		calls++
		return nil
	}

	require.NoError(t, m.Process(ctx, "saga", "m-1", action))
	require.NoError(t, m.Process(ctx, "saga", "m-1", action))
	require.NoError(t, m.Process(ctx, "inventory", "m-1", action))

	assert.Equal(t, 2, calls)
	assert.True(t, m.Seen("saga", "m-1"))
	assert.False(t, m.Seen("saga", "m-2"))
}

func TestMemory_FailedActionIsRetried(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.Process(ctx, "g", "m-1", func(ctx context.Context) error {
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.False(t, m.Seen("g", "m-1"))

	var ran bool
	require.NoError(t, m.Process(ctx, "g", "m-1", func(ctx context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestMemory_ConcurrentDuplicatesRunOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var calls atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Process(ctx, "g", "m-1", func(ctx context.Context) error {
				calls.Add(1)
				time.Sleep(5 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestMemory_WaitingDuplicateHonoursContext(t *testing.T) {
	m := NewMemory()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = m.Process(context.Background(), "g", "m-1", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := m.Process(ctx, "g", "m-1", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}
