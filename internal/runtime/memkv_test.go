package runtime

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ryanflavor/aegistrader/internal/domain"
	"github.com/ryanflavor/aegistrader/internal/kv"
)

// memStore is a minimal in-process kv.Store, the same fake idiom used in
// registry/election/discovery's offline tests. failPuts lets heartbeat
// tests simulate a transient registry outage.
type memStore struct {
	mu       sync.Mutex
	data     map[string]kv.Entry
	rev      int64
	failPuts atomic.Bool
}

func (m *memStore) setFailPuts(fail bool) { m.failPuts.Store(fail) }

func newMemStore() *memStore {
	return &memStore{data: map[string]kv.Entry{}}
}

func (m *memStore) Get(ctx context.Context, key string) (kv.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	return e, ok, nil
}

func (m *memStore) Put(ctx context.Context, key string, value []byte, opts kv.PutOptions) (int64, error) {
	if m.failPuts.Load() {
		return 0, domain.NewError(domain.ErrInternalError, "simulated registry outage")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	existing, exists := m.data[key]
	if opts.CreateOnly && exists {
		return 0, domain.NewError(domain.ErrCASConflict, "exists")
	}
	if opts.ExpectedRevision != 0 && (!exists || existing.Revision != opts.ExpectedRevision) {
		return 0, domain.NewError(domain.ErrCASConflict, "revision mismatch")
	}
	m.rev++
	m.data[key] = kv.Entry{Key: key, Value: value, Revision: m.rev}
	return m.rev, nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memStore) CompareAndDelete(ctx context.Context, key string, expectedRevision int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok || e.Revision != expectedRevision {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

func (m *memStore) List(ctx context.Context, prefix string) ([]kv.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []kv.Entry
	for k, e := range m.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) Watch(ctx context.Context, keyOrPrefix string, prefix bool) (<-chan kv.WatchEvent, error) {
	ch := make(chan kv.WatchEvent)
	close(ch)
	return ch, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}
