package inbox

import (
	"context"
	"sync"
)

type key struct {
	group     string
	messageID string
}

// Memory is the in-process counterpart of Postgres. A message id is marked
// done only after its action succeeds; concurrent duplicates wait for the
// first delivery to finish.
type Memory struct {
	mu       sync.Mutex
	done     map[key]struct{}
	inflight map[key]chan struct{}
}

func NewMemory() *Memory {
	return &Memory{
		done:     make(map[key]struct{}),
		inflight: make(map[key]chan struct{}),
	}
}

func (m *Memory) Process(
	ctx context.Context,
	group string,
	messageID string,
	action func(ctx context.Context) error,
) error {
	k := key{group: group, messageID: messageID}

	for {
		m.mu.Lock()
		if _, ok := m.done[k]; ok {
			m.mu.Unlock()
			return nil
		}

		wait, busy := m.inflight[k]
		if !busy {
			m.inflight[k] = make(chan struct{})
			m.mu.Unlock()
			break
		}
		m.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	err := action(ctx)

	m.mu.Lock()
	if err == nil {
		m.done[k] = struct{}{}
	}
	close(m.inflight[k])
	delete(m.inflight, k)
	m.mu.Unlock()

	return err
}

func (m *Memory) Seen(group, messageID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.done[key{group: group, messageID: messageID}]
	return ok
}
