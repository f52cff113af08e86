package discovery

import (
	"context"
	"strings"
	"sync"

	"github.com/ryanflavor/aegistrader/internal/domain"
	"github.com/ryanflavor/aegistrader/internal/kv"
)

type watcher struct {
	keyOrPrefix string
	prefix      bool
	ch          chan kv.WatchEvent
}

// memStore is a minimal in-process kv.Store for offline discovery tests.
type memStore struct {
	mu       sync.Mutex
	data     map[string]kv.Entry
	rev      int64
	watchers []*watcher
}

func newTestMemStore() *memStore {
	return &memStore{data: map[string]kv.Entry{}}
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
	m.notify(key, kv.WatchEvent{Op: kv.WatchPut, Entry: entry})
	m.mu.Unlock()
	return m.rev, nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.notify(key, kv.WatchEvent{Op: kv.WatchDelete, Entry: kv.Entry{Key: key}})
	m.mu.Unlock()
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
	m.notify(key, kv.WatchEvent{Op: kv.WatchDelete, Entry: kv.Entry{Key: key}})
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

// notify must be called with mu held.
func (m *memStore) notify(key string, ev kv.WatchEvent) {
	for _, w := range m.watchers {
		match := (w.prefix && strings.HasPrefix(key, w.keyOrPrefix)) || (!w.prefix && key == w.keyOrPrefix)
		if match {
			select {
			case w.ch <- ev:
			default:
			}
		}
	}
}

func (m *memStore) Watch(ctx context.Context, keyOrPrefix string, prefix bool) (<-chan kv.WatchEvent, error) {
	w := &watcher{keyOrPrefix: keyOrPrefix, prefix: prefix, ch: make(chan kv.WatchEvent, 16)}
	m.mu.Lock()
	m.watchers = append(m.watchers, w)
	m.mu.Unlock()
	go func() {
		<-ctx.Done()
	}()
	return w.ch, nil
}

func (m *memStore) Close() error { return nil }
