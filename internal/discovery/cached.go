package discovery

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/ryanflavor/aegistrader/internal/clock"
	"github.com/ryanflavor/aegistrader/internal/domain"
)

type cacheEntry struct {
	service   domain.ServiceName
	instances []*domain.ServiceInstance
	expiresAt time.Time
	elem      *list.Element
}

// Cached wraps another Discovery with a per-service TTL cache and LRU
// eviction beyond maxEntries, per §4.4. On a delegate failure it falls back
// to the last cached value for that service if one exists (stale-while-error).
type Cached struct {
	delegate   Discovery
	ttl        time.Duration
	maxEntries int
	clock      clock.Clock

	mu      sync.Mutex
	entries map[domain.ServiceName]*cacheEntry
	order   *list.List // front = most recently used

	rrMu    sync.Mutex
	rrIndex map[domain.ServiceName]rrState
}

// NewCached wraps delegate with a TTL cache bounded to maxEntries services.
func NewCached(delegate Discovery, ttl time.Duration, maxEntries int, c clock.Clock) *Cached {
	if c == nil {
		c = clock.System{}
	}
	return &Cached{
		delegate:   delegate,
		ttl:        ttl,
		maxEntries: maxEntries,
		clock:      c,
		entries:    map[domain.ServiceName]*cacheEntry{},
		order:      list.New(),
		rrIndex:    map[domain.ServiceName]rrState{},
	}
}

func (c *Cached) DiscoverInstances(ctx context.Context, service domain.ServiceName, onlyHealthy bool) ([]*domain.ServiceInstance, error) {
	if !onlyHealthy {
		return c.delegate.DiscoverInstances(ctx, service, onlyHealthy)
	}

	c.mu.Lock()
	entry, hit := c.entries[service]
	fresh := hit && c.clock.Now().Before(entry.expiresAt)
	if fresh {
		c.order.MoveToFront(entry.elem)
	}
	c.mu.Unlock()

	if fresh {
		return entry.instances, nil
	}

	instances, err := c.delegate.DiscoverInstances(ctx, service, true)
	if err != nil {
		if hit {
			return entry.instances, nil // stale-while-error
		}
		return nil, err
	}

	c.put(service, instances)
	return instances, nil
}

func (c *Cached) put(service domain.ServiceName, instances []*domain.ServiceInstance) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[service]; ok {
		existing.instances = instances
		existing.expiresAt = c.clock.Now().Add(c.ttl)
		c.order.MoveToFront(existing.elem)
		return
	}

	entry := &cacheEntry{service: service, instances: instances, expiresAt: c.clock.Now().Add(c.ttl)}
	entry.elem = c.order.PushFront(entry)
	c.entries[service] = entry

	for c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		victim := oldest.Value.(*cacheEntry)
		c.order.Remove(oldest)
		delete(c.entries, victim.service)
	}
}

// invalidate drops service's cache entry immediately, used by Watched on a
// registry change event.
func (c *Cached) invalidate(service domain.ServiceName) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[service]; ok {
		c.order.Remove(entry.elem)
		delete(c.entries, service)
	}
}

func (c *Cached) SelectInstance(ctx context.Context, service domain.ServiceName, strategy domain.SelectionStrategy, preferred *domain.InstanceID) (*domain.ServiceInstance, error) {
	instances, err := c.DiscoverInstances(ctx, service, true)
	if err != nil {
		return nil, err
	}
	return selectFrom(c, service, instances, strategy, preferred)
}

// nextRoundRobin mirrors Basic.nextRoundRobin's reset-on-size-change
// behavior over Cached's own rotation state, since Cached may serve a
// different instance count than the delegate on any given call (cache hit
// vs. miss) and needs its own independent rotation pointer.
func (c *Cached) nextRoundRobin(service domain.ServiceName, count int) int {
	c.rrMu.Lock()
	defer c.rrMu.Unlock()
	if count == 0 {
		return 0
	}
	state := c.rrIndex[service]
	if state.size != count {
		state = rrState{next: 0, size: count}
	}
	idx := state.next % count
	state.next = idx + 1
	c.rrIndex[service] = state
	return idx
}
