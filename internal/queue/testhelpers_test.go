package queue_test

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-donasi/internal/queue"
)

// memoryStore is an in-process queue.Store for worker and handler tests.
type memoryStore struct {
	mu      sync.Mutex
	parked  map[uuid.UUID]queue.DeadLetter
	clockNS int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{parked: map[uuid.UUID]queue.DeadLetter{}}
}

func (m *memoryStore) Park(_ context.Context, dl queue.DeadLetter) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dl.ID == uuid.Nil {
		dl.ID = uuid.New()
	}
	if dl.CreatedAt.IsZero() {
		// strictly increasing so newest-first ordering is stable
		m.clockNS++
		dl.CreatedAt = time.Unix(0, m.clockNS)
	}
	m.parked[dl.ID] = dl
	return dl.ID, nil
}

func (m *memoryStore) Get(_ context.Context, id uuid.UUID) (queue.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dl, ok := m.parked[id]
	if !ok {
		return queue.DeadLetter{}, queue.ErrDeadLetterNotFound
	}
	return dl, nil
}

func (m *memoryStore) List(_ context.Context, kind string, limit, offset int) ([]queue.DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []queue.DeadLetter
	for _, dl := range m.parked {
		if kind == "" || dl.Kind == kind {
			out = append(out, dl)
		}
	}
	slices.SortFunc(out, func(a, b queue.DeadLetter) int { return b.CreatedAt.Compare(a.CreatedAt) })
	start := min(max(offset, 0), len(out))
	end := len(out)
	if limit > 0 {
		end = min(start+limit, end)
	}
	return out[start:end], nil
}

func (m *memoryStore) Count(ctx context.Context, kind string) (int64, error) {
	all, err := m.List(ctx, kind, 0, 0)
	return int64(len(all)), err
}

func (m *memoryStore) Remove(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.parked, id)
	return nil
}

func (m *memoryStore) snapshot() []queue.DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.SortedFunc(maps.Values(m.parked), func(a, b queue.DeadLetter) int {
		return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	})
}
