package queue

import (
	"context"
	"sync"

	"github.com/notifyhub/feeddigest/internal/domain"
)

// MemoryStore is an in-process Store. It backs tests and `memory://`
// deployments where durability is not needed.
type MemoryStore struct {
	mu     sync.Mutex
	queues map[domain.QueueKey][]domain.Item

	// Optional error override, set in tests to simulate an outage.
	Err error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{queues: make(map[domain.QueueKey][]domain.Item)}
}

func (m *MemoryStore) Keys(_ context.Context) ([]domain.QueueKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	keys := make([]domain.QueueKey, 0, len(m.queues))
	for k := range m.queues {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys, nil
}

func (m *MemoryStore) Snapshot(_ context.Context) (map[domain.QueueKey][]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make(map[domain.QueueKey][]domain.Item, len(m.queues))
	for k, items := range m.queues {
		out[k] = append([]domain.Item(nil), items...)
	}
	return out, nil
}

func (m *MemoryStore) Items(_ context.Context, key domain.QueueKey) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]domain.Item(nil), m.queues[key]...), nil
}

func (m *MemoryStore) Exists(_ context.Context, key domain.QueueKey) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	_, ok := m.queues[key]
	return ok, nil
}

func (m *MemoryStore) Len(_ context.Context, key domain.QueueKey) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return len(m.queues[key]), nil
}

func (m *MemoryStore) Append(_ context.Context, key domain.QueueKey, items ...domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.queues[key] = append(m.queues[key], items...)
	return nil
}

func (m *MemoryStore) Pop(_ context.Context, key domain.QueueKey) (domain.Item, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return domain.Item{}, false, m.Err
	}
	items := m.queues[key]
	if len(items) == 0 {
		return domain.Item{}, false, nil
	}
	head := items[0]
	m.queues[key] = items[1:]
	return head, true, nil
}

func (m *MemoryStore) Replace(_ context.Context, key domain.QueueKey, items []domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.queues[key] = append([]domain.Item{}, items...)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key domain.QueueKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.queues, key)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// compile-time check that MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
