// Package registry implements the Registry service (§4.2): a thin layer
// over the KV Store Port that writes, refreshes, removes and lists
// ServiceInstance records, generalized from a single fixed instance to
// arbitrary services/instances with stale filtering on read.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/ryanflavor/aegistrader/internal/clock"
	"github.com/ryanflavor/aegistrader/internal/codec"
	"github.com/ryanflavor/aegistrader/internal/domain"
	"github.com/ryanflavor/aegistrader/internal/kv"
	"github.com/ryanflavor/aegistrader/internal/logger"
	"go.uber.org/zap"
)

// Registry writes and reads ServiceInstance records through a kv.Store.
type Registry struct {
	store kv.Store
	clock clock.Clock
}

// New constructs a Registry over store. If c is nil, the system clock is used.
func New(store kv.Store, c clock.Clock) *Registry {
	if c == nil {
		c = clock.System{}
	}
	return &Registry{store: store, clock: c}
}

// Register atomically creates instance's key with a ttl-bound lease, per
// §4.2. If two callers race to register the same instance_id, exactly one
// Put succeeds; the other gets ErrCASConflict back unchanged, the same
// create-if-absent pattern election.TryAcquire uses. Each TTL-bearing Put
// binds the key to its own lease, so an instance that stops heartbeating
// expires ttl after its last write — see kv.PutOptions.TTL's doc comment.
func (r *Registry) Register(ctx context.Context, instance *domain.ServiceInstance, ttl time.Duration) error {
	instance.LastHeartbeat = r.clock.Now().UTC()
	value, err := codec.Encode(instance)
	if err != nil {
		return domain.NewError(domain.ErrInternalError, fmt.Sprintf("encode instance: %v", err))
	}

	_, err = r.store.Put(ctx, instance.Key(), value, kv.PutOptions{CreateOnly: true, TTL: ttl})
	if err != nil {
		if domain.CodeOf(err) == domain.ErrCASConflict {
			return err
		}
		return domain.NewError(domain.ErrRegistrationFailed, fmt.Sprintf("register %s: %v", instance.Key(), err))
	}
	return nil
}

// UpdateHeartbeat unconditionally re-writes instance's key with a
// refreshed LastHeartbeat and lease, keeping it visible within the
// retention window (§4.2). Unlike Register, this is not create-if-absent:
// the calling instance already owns this key from a prior Register, so
// each heartbeat simply overwrites its own record.
func (r *Registry) UpdateHeartbeat(ctx context.Context, instance *domain.ServiceInstance, ttl time.Duration) error {
	instance.LastHeartbeat = r.clock.Now().UTC()
	value, err := codec.Encode(instance)
	if err != nil {
		return domain.NewError(domain.ErrInternalError, fmt.Sprintf("encode instance: %v", err))
	}

	_, err = r.store.Put(ctx, instance.Key(), value, kv.PutOptions{TTL: ttl})
	if err != nil {
		return domain.NewError(domain.ErrRegistrationFailed, fmt.Sprintf("heartbeat %s: %v", instance.Key(), err))
	}
	return nil
}

// Deregister removes service/instanceID's key. Not an error if already gone.
func (r *Registry) Deregister(ctx context.Context, service domain.ServiceName, instanceID domain.InstanceID) error {
	return r.store.Delete(ctx, domain.RegistryKey(service, instanceID))
}

// ListInstances reads every instance record under service's prefix. When
// onlyHealthy is true, entries whose LastHeartbeat is older than
// staleThreshold are filtered out (§4.2/§4.4).
func (r *Registry) ListInstances(ctx context.Context, service domain.ServiceName, onlyHealthy bool, staleThreshold time.Duration) ([]*domain.ServiceInstance, error) {
	entries, err := r.store.List(ctx, domain.RegistryPrefix(service))
	if err != nil {
		return nil, domain.NewError(domain.ErrInternalError, fmt.Sprintf("list instances for %s: %v", service, err))
	}

	now := r.clock.Now()
	instances := make([]*domain.ServiceInstance, 0, len(entries))
	for _, entry := range entries {
		var instance domain.ServiceInstance
		if _, err := codec.Decode(entry.Value, &instance); err != nil {
			logger.GetLogger(ctx).Warn("discarding unreadable registry entry", zap.String("key", entry.Key), zap.Error(err))
			continue
		}
		if onlyHealthy && instance.IsStale(now, staleThreshold) {
			continue
		}
		instances = append(instances, &instance)
	}
	return instances, nil
}
