package election

import (
	"context"
	"sync"

	"github.com/ryanflavor/aegistrader/internal/domain"
	"github.com/ryanflavor/aegistrader/internal/kv"
)

// memStore is a minimal in-process kv.Store for offline election tests,
// mirroring registry's test double.
type memStore struct {
	mu       sync.Mutex
	data     map[string]kv.Entry
	rev      int64
	watchers map[string][]chan kv.WatchEvent
}

func newMemStore() *memStore {
	return &memStore{data: map[string]kv.Entry{}, watchers: map[string][]chan kv.WatchEvent{}}
}

func (m *memStore) Get(ctx context.Context, key string) (kv.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	return e, ok, nil
}

func (m *memStore) Put(ctx context.Context, key string, value []byte, opts kv.PutOptions) (int64, error) {
	m.mu.Lock()
	existing, exists := m.data[key]
	if opts.CreateOnly && exists {
		m.mu.Unlock()
		return 0, domain.NewError(domain.ErrCASConflict, "exists")
	}
	if opts.ExpectedRevision != 0 && (!exists || existing.Revision != opts.ExpectedRevision) {
		m.mu.Unlock()
		return 0, domain.NewError(domain.ErrCASConflict, "revision mismatch")
	}
	m.rev++
	entry := kv.Entry{Key: key, Value: value, Revision: m.rev}
	m.data[key] = entry
	subs := append([]chan kv.WatchEvent{}, m.watchers[key]...)
	m.mu.Unlock()

	for _, ch := range subs {
		ch <- kv.WatchEvent{Op: kv.WatchPut, Entry: entry}
	}
	return m.rev, nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	subs := append([]chan kv.WatchEvent{}, m.watchers[key]...)
	m.mu.Unlock()
	for _, ch := range subs {
		ch <- kv.WatchEvent{Op: kv.WatchDelete, Entry: kv.Entry{Key: key}}
	}
	return nil
}

func (m *memStore) CompareAndDelete(ctx context.Context, key string, expectedRevision int64) (bool, error) {
	m.mu.Lock()
	e, ok := m.data[key]
	if !ok || e.Revision != expectedRevision {
		m.mu.Unlock()
		return false, nil
	}
	delete(m.data, key)
	subs := append([]chan kv.WatchEvent{}, m.watchers[key]...)
	m.mu.Unlock()
	for _, ch := range subs {
		ch <- kv.WatchEvent{Op: kv.WatchDelete, Entry: kv.Entry{Key: key}}
	}
	return true, nil
}

func (m *memStore) List(ctx context.Context, prefix string) ([]kv.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []kv.Entry
	for _, e := range m.data {
		out = append(out, e)
	}
	return out, nil
}

func (m *memStore) Watch(ctx context.Context, keyOrPrefix string, prefix bool) (<-chan kv.WatchEvent, error) {
	ch := make(chan kv.WatchEvent, 8)
	m.mu.Lock()
	m.watchers[keyOrPrefix] = append(m.watchers[keyOrPrefix], ch)
	m.mu.Unlock()
	go func() {
		<-ctx.Done()
	}()
	return ch, nil
}

func (m *memStore) Close() error { return nil }
