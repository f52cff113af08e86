// Package discovery implements the Service Discovery port (§4.4): resolving
// service_name → [instance] with pluggable caching and instance-selection
// strategies, composed as Basic → Cached → Watched, each layer wrapping
// the one before it.
package discovery

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/ryanflavor/aegistrader/internal/domain"
	"github.com/ryanflavor/aegistrader/internal/registry"
)

// Discovery is the Service Discovery port.
type Discovery interface {
	DiscoverInstances(ctx context.Context, service domain.ServiceName, onlyHealthy bool) ([]*domain.ServiceInstance, error)
	SelectInstance(ctx context.Context, service domain.ServiceName, strategy domain.SelectionStrategy, preferred *domain.InstanceID) (*domain.ServiceInstance, error)
}

// rrState tracks round-robin rotation for one service: the next index to
// hand out and the instance-set size it was computed against, so a change
// in set size resets rotation to 0 instead of wrapping around stale state.
type rrState struct {
	next int
	size int
}

// Basic hits the registry directly on every call, no caching (§4.4).
type Basic struct {
	registry       *registry.Registry
	staleThreshold time.Duration

	mu      sync.Mutex
	rrIndex map[domain.ServiceName]rrState
}

// NewBasic constructs a Basic discovery backed by reg, filtering instances
// whose heartbeat is older than staleThreshold.
func NewBasic(reg *registry.Registry, staleThreshold time.Duration) *Basic {
	return &Basic{registry: reg, staleThreshold: staleThreshold, rrIndex: map[domain.ServiceName]rrState{}}
}

func (b *Basic) DiscoverInstances(ctx context.Context, service domain.ServiceName, onlyHealthy bool) ([]*domain.ServiceInstance, error) {
	return b.registry.ListInstances(ctx, service, onlyHealthy, b.staleThreshold)
}

func (b *Basic) SelectInstance(ctx context.Context, service domain.ServiceName, strategy domain.SelectionStrategy, preferred *domain.InstanceID) (*domain.ServiceInstance, error) {
	instances, err := b.DiscoverInstances(ctx, service, true)
	if err != nil {
		return nil, err
	}
	return selectFrom(b, service, instances, strategy, preferred)
}

// nextRoundRobin returns the next rotation index for service, resetting to
// 0 whenever count differs from the instance-set size last observed for
// service (§4.4) — a join or leave must not leave the rotation pointing
// past the end of a shrunk set, or skip newly-joined instances forever.
func (b *Basic) nextRoundRobin(service domain.ServiceName, count int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if count == 0 {
		return 0
	}
	state := b.rrIndex[service]
	if state.size != count {
		state = rrState{next: 0, size: count}
	}
	idx := state.next % count
	state.next = idx + 1
	b.rrIndex[service] = state
	return idx
}

// selectFrom applies strategy over instances, using rr for round-robin
// state (any type exposing nextRoundRobin works, so Cached/Watched can
// delegate their own selection back through Basic's rotation state or keep
// their own — see cached.go).
type roundRobinSource interface {
	nextRoundRobin(service domain.ServiceName, count int) int
}

func selectFrom(rr roundRobinSource, service domain.ServiceName, instances []*domain.ServiceInstance, strategy domain.SelectionStrategy, preferred *domain.InstanceID) (*domain.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, domain.NewError(domain.ErrServiceUnavailable, "no healthy instances for "+service.String())
	}

	switch strategy {
	case domain.RoundRobin:
		idx := rr.nextRoundRobin(service, len(instances))
		return instances[idx], nil
	case domain.Random:
		return instances[rand.Intn(len(instances))], nil
	case domain.Sticky:
		if preferred != nil {
			for _, inst := range instances {
				if inst.InstanceID == *preferred {
					return inst, nil
				}
			}
		}
		return instances[rand.Intn(len(instances))], nil
	default:
		return nil, domain.NewError(domain.ErrInvalidRequest, "unknown selection strategy: "+string(strategy))
	}
}
