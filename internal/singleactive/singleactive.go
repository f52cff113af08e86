// Package singleactive implements the Single-Active Runtime (§4.7): a
// Service Runtime that additionally contests an election key per group and
// gates a subset of its RPC handlers on holding that election, built by
// composing runtime.Runtime through its postRegistration/preClose extension
// points rather than duplicating the §4.6 state machine.
package singleactive

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ryanflavor/aegistrader/internal/clock"
	"github.com/ryanflavor/aegistrader/internal/config"
	"github.com/ryanflavor/aegistrader/internal/domain"
	"github.com/ryanflavor/aegistrader/internal/election"
	"github.com/ryanflavor/aegistrader/internal/logger"
	"github.com/ryanflavor/aegistrader/internal/observability"
	"github.com/ryanflavor/aegistrader/internal/registry"
	"github.com/ryanflavor/aegistrader/internal/router"
	"github.com/ryanflavor/aegistrader/internal/runtime"
	"github.com/ryanflavor/aegistrader/internal/transport"
)

// Runtime is the Service Runtime with §4.7's exclusive-active election
// layered on top via composition.
type Runtime struct {
	*runtime.Runtime

	cfg      *config.Config
	election *election.Repository
	group    string
	clock    clock.Clock
	metrics  *observability.Registry

	mu      sync.Mutex
	status  domain.StickyStatus
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New constructs a single-active Runtime. elect must be backed by the same
// KV substrate as cfg.KVBucketElections.
func New(cfg *config.Config, t transport.Port, reg *registry.Registry, elect *election.Repository, handlers *router.HandlerRegistry, c clock.Clock) *Runtime {
	if c == nil {
		c = clock.New()
	}

	sa := &Runtime{
		Runtime:  runtime.New(cfg, t, reg, handlers, c),
		cfg:      cfg,
		election: elect,
		group:    cfg.GroupID,
		clock:    c,
		status:   domain.StickyElecting,
	}
	sa.Runtime.SetPostRegistrationHook(sa.startElection)
	sa.Runtime.SetPreCloseHook(sa.stopElection)
	return sa
}

// Status returns the current sticky-active status (§4.7).
func (sa *Runtime) Status() domain.StickyStatus {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	return sa.status
}

// WrapExclusive wraps handler so it only runs while this instance holds the
// election; otherwise it responds NOT_ACTIVE without invoking handler (§4.7
// exclusive RPC gating).
func (sa *Runtime) WrapExclusive(handler router.RPCHandler) router.RPCHandler {
	return func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		if sa.Status() != domain.StickyActive {
			return nil, domain.NewError(domain.ErrNotActive, fmt.Sprintf("instance %s is not the active holder for group %q", sa.InstanceID(), sa.group))
		}
		return handler(ctx, params)
	}
}

// RegisterExclusiveRPC registers method on handlers, gated by WrapExclusive.
func (sa *Runtime) RegisterExclusiveRPC(handlers *router.HandlerRegistry, method string, handler router.RPCHandler) {
	handlers.RegisterRPC(method, sa.WrapExclusive(handler))
}

// SetMetrics wires an observability.Registry for election-status tracking,
// forwarding it to the embedded Runtime for heartbeat/RPC metrics too.
func (sa *Runtime) SetMetrics(m *observability.Registry) {
	sa.metrics = m
	sa.Runtime.SetMetrics(m)
}

func (sa *Runtime) setStatus(status domain.StickyStatus) {
	sa.mu.Lock()
	sa.status = status
	sa.mu.Unlock()
	sa.Runtime.SetStickyActive(sa.group, status)

	if sa.metrics != nil {
		labels := map[string]string{"service": sa.cfg.ServiceName.String(), "group": sa.group}
		active := 0.0
		if status == domain.StickyActive {
			active = 1.0
		}
		sa.metrics.Gauge("sticky_active_status", labels).Set(active)
	}
}

// startElection runs the §4.7 election-startup sequence as the runtime's
// postRegistration hook: it sets ELECTING, then hands the election contest
// off to a supervisory goroutine that alternates between holding the lease
// (ACTIVE) and observing for vacancy (STANDBY) until Stop cancels it.
func (sa *Runtime) startElection(ctx context.Context, instanceID domain.InstanceID) error {
	sa.setStatus(domain.StickyElecting)

	key := domain.ElectionKey(sa.cfg.ServiceName, sa.group)
	electionCtx, cancel := context.WithCancel(context.Background())
	sa.mu.Lock()
	sa.cancel = cancel
	sa.stopped = make(chan struct{})
	sa.mu.Unlock()

	go sa.electionLoop(electionCtx, key, instanceID)
	return nil
}

// stopElection runs as the runtime's preClose hook: it cancels the
// election-loop goroutine and waits for it to exit, with no timeout, then
// releases the lease if still held.
func (sa *Runtime) stopElection(ctx context.Context) {
	sa.mu.Lock()
	cancel := sa.cancel
	stopped := sa.stopped
	sa.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if stopped != nil {
		<-stopped
	}

	if sa.Status() == domain.StickyActive {
		key := domain.ElectionKey(sa.cfg.ServiceName, sa.group)
		if err := sa.election.Release(ctx, key, sa.InstanceID()); err != nil {
			logger.GetLogger(ctx).Warn("release election lease failed during shutdown", zap.Error(err))
		}
	}
}

// electionLoop is the single supervisory goroutine behind startElection: it
// alternates between attempting to acquire the lease, holding it with
// periodic refresh while ACTIVE, and observing the key for vacancy while
// STANDBY, until ctx is cancelled.
func (sa *Runtime) electionLoop(ctx context.Context, key string, instanceID domain.InstanceID) {
	defer close(sa.stopped)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := sa.election.TryAcquire(ctx, key, instanceID, sa.cfg.FailoverPolicy.LeaderTTL)
		if err != nil {
			logger.GetLogger(ctx).Warn("election acquire attempt failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-sa.clock.After(sa.cfg.FailoverPolicy.RefreshInterval):
				continue
			}
		}

		if result.Acquired {
			sa.setStatus(domain.StickyActive)
			logger.GetLogger(ctx).Info("acquired election", zap.String("key", key), zap.String("instance", instanceID.String()))
			if !sa.holdLeadership(ctx, key, instanceID, result.Revision) {
				return
			}
			sa.setStatus(domain.StickyElecting)
			continue
		}

		sa.setStatus(domain.StickyStandby)
		if !sa.observeUntilVacant(ctx, key) {
			return
		}
		sa.setStatus(domain.StickyElecting)
	}
}

// holdLeadership refreshes the held lease every RefreshInterval until
// refresh fails (lease lost, returns true so the caller re-attempts
// acquisition) or ctx is cancelled (returns false).
func (sa *Runtime) holdLeadership(ctx context.Context, key string, instanceID domain.InstanceID, revision int64) bool {
	rev := revision
	for {
		select {
		case <-ctx.Done():
			return false
		case <-sa.clock.After(sa.cfg.FailoverPolicy.RefreshInterval):
			newRev, err := sa.election.Refresh(ctx, key, instanceID, rev, sa.cfg.FailoverPolicy.LeaderTTL)
			if err != nil {
				logger.GetLogger(ctx).Warn("lease refresh lost", zap.String("key", key), zap.Error(err))
				return true
			}
			rev = newRev
		}
	}
}

// observeUntilVacant watches key until a Vacant state arrives (returns true,
// the caller should attempt re-acquisition) or ctx is cancelled (false).
func (sa *Runtime) observeUntilVacant(ctx context.Context, key string) bool {
	ch, err := sa.election.Observe(ctx, key)
	if err != nil {
		logger.GetLogger(ctx).Warn("observe election failed, retrying", zap.Error(err))
		select {
		case <-ctx.Done():
			return false
		case <-sa.clock.After(sa.cfg.FailoverPolicy.ObserverResponsiveness):
			return true
		}
	}

	for {
		select {
		case <-ctx.Done():
			return false
		case state, ok := <-ch:
			if !ok {
				return true
			}
			if state.Vacant {
				return true
			}
		}
	}
}
