// Package runtime implements the Service Runtime state machine (§4.6): the
// startup/shutdown sequence every load-balanced service instance follows,
// generalized from a single fixed manager lifecycle to arbitrary registered
// RPC/event/command handlers plus heartbeat-driven registry presence.
package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/ryanflavor/aegistrader/internal/clock"
	"github.com/ryanflavor/aegistrader/internal/config"
	"github.com/ryanflavor/aegistrader/internal/domain"
	"github.com/ryanflavor/aegistrader/internal/logger"
	"github.com/ryanflavor/aegistrader/internal/observability"
	"github.com/ryanflavor/aegistrader/internal/registry"
	"github.com/ryanflavor/aegistrader/internal/router"
	"github.com/ryanflavor/aegistrader/internal/transport"
)

// State is the runtime's lifecycle state (§4.6). Every transition is
// one-way; STOPPED and FAILED are terminal.
type State string

const (
	StateInitialized State = "INITIALIZED"
	StateStarting    State = "STARTING"
	StateStarted     State = "STARTED"
	StateStopping    State = "STOPPING"
	StateStopped     State = "STOPPED"
	StateFailed      State = "FAILED"
)

// defaultShutdownGrace is §5's "handlers exceeding grace are abandoned" budget.
const defaultShutdownGrace = 10 * time.Second

// heartbeatFailureThreshold is the "three consecutive heartbeat failures"
// trigger for the local UNHEALTHY transition (§4.6 step 5).
const heartbeatFailureThreshold = 3

// StartHook runs during startup, before subscriptions/registration, so the
// caller can register RPC/event/command handlers (§4.6 step 2).
type StartHook func(ctx context.Context) error

// UnhealthyHook is invoked once heartbeatFailureThreshold consecutive
// heartbeat writes have failed (§4.6 step 5).
type UnhealthyHook func(ctx context.Context)

// Runtime is the Service Runtime (§4.6). SingleActive (§4.7) embeds one to
// add election-gated exclusive RPC on top.
type Runtime struct {
	cfg       *config.Config
	transport transport.Port
	registry  *registry.Registry
	handlers  *router.HandlerRegistry
	clock     clock.Clock
	metrics   *observability.Registry

	onStart     StartHook
	onUnhealthy UnhealthyHook

	// postRegistration runs after step 4 (registration, if enabled) and
	// before step 5 (heartbeat task start) — the extension point
	// singleactive.Runtime uses to slot election in per §4.7.
	postRegistration func(ctx context.Context, instanceID domain.InstanceID) error
	// preClose runs during Stop after the heartbeat task is cancelled and
	// before best-effort deregister/transport close — where
	// singleactive.Runtime cancels its refresh/observer tasks.
	preClose func(ctx context.Context)

	shutdownGrace time.Duration

	mu         sync.Mutex
	state      State
	instance   *domain.ServiceInstance
	instanceID domain.InstanceID
	router     *router.Router

	heartbeatCancel context.CancelFunc
	heartbeatDone   chan struct{}
}

// New constructs a Runtime in state INITIALIZED. reg may be nil when
// cfg.EnableRegistration is false.
func New(cfg *config.Config, t transport.Port, reg *registry.Registry, handlers *router.HandlerRegistry, c clock.Clock) *Runtime {
	if c == nil {
		c = clock.New()
	}
	return &Runtime{
		cfg:           cfg,
		transport:     t,
		registry:      reg,
		handlers:      handlers,
		clock:         c,
		shutdownGrace: defaultShutdownGrace,
		state:         StateInitialized,
	}
}

// SetOnStart registers the on_start hook (§4.6 step 2).
func (rt *Runtime) SetOnStart(fn StartHook) { rt.onStart = fn }

// SetOnUnhealthy registers the on_unhealthy callback (§4.6 step 5).
func (rt *Runtime) SetOnUnhealthy(fn UnhealthyHook) { rt.onUnhealthy = fn }

// SetShutdownGrace overrides the default 10s shutdown grace period (§5).
func (rt *Runtime) SetShutdownGrace(d time.Duration) { rt.shutdownGrace = d }

// SetPostRegistrationHook installs the §4.7 election extension point.
func (rt *Runtime) SetPostRegistrationHook(fn func(ctx context.Context, instanceID domain.InstanceID) error) {
	rt.postRegistration = fn
}

// SetPreCloseHook installs the §4.7 election-teardown extension point.
func (rt *Runtime) SetPreCloseHook(fn func(ctx context.Context)) { rt.preClose = fn }

// SetMetrics wires an observability.Registry for heartbeat/lifecycle
// counters (§2 C9), propagating it to the Router once Start constructs one.
// A nil registry (the default) disables metrics.
func (rt *Runtime) SetMetrics(m *observability.Registry) { rt.metrics = m }

// InstanceID returns the instance identifier this runtime started with,
// whether or not registration is enabled.
func (rt *Runtime) InstanceID() domain.InstanceID {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.instanceID
}

// State returns the current lifecycle state.
func (rt *Runtime) State() State {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// Instance returns the ServiceInstance this runtime registered, or nil if
// registration is disabled or Start has not completed that step yet. The
// returned pointer's mutable fields (Status) are heartbeat-goroutine-owned
// past this point — callers wanting a consistent read of Status should use
// InstanceStatus instead of dereferencing the pointer directly.
func (rt *Runtime) Instance() *domain.ServiceInstance {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.instance
}

// InstanceStatus returns the current locally-observed status of the
// registered instance, safe to call concurrently with the heartbeat loop.
func (rt *Runtime) InstanceStatus() domain.Status {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.instance == nil {
		return ""
	}
	return rt.instance.Status
}

// SetStickyActive updates the registered instance's sticky-active group and
// status so the next heartbeat write carries them (§4.7/§6.2). A no-op if
// registration is disabled.
func (rt *Runtime) SetStickyActive(group string, status domain.StickyStatus) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.instance == nil {
		return
	}
	rt.instance.StickyActiveGroup = group
	rt.instance.StickyActiveStatus = status
}

func (rt *Runtime) recordHeartbeat(ok bool) {
	if rt.metrics == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	rt.metrics.Counter("heartbeats_total", map[string]string{"service": rt.cfg.ServiceName.String(), "outcome": outcome}).Inc()
}

func (rt *Runtime) setState(s State) {
	rt.mu.Lock()
	rt.state = s
	rt.mu.Unlock()
}

// Start runs the §4.6 startup sequence. A non-INITIALIZED runtime cannot
// be started again (runtimes are not reusable once STOPPED or FAILED).
func (rt *Runtime) Start(ctx context.Context) error {
	rt.mu.Lock()
	if rt.state != StateInitialized {
		rt.mu.Unlock()
		return domain.NewError(domain.ErrInvalidRequest, "runtime already started or terminal: "+string(rt.state))
	}
	rt.state = StateStarting
	rt.mu.Unlock()

	if rt.onStart != nil {
		if err := rt.onStart(ctx); err != nil {
			rt.setState(StateFailed)
			return domain.NewError(domain.ErrInternalError, "on_start hook failed: "+err.Error())
		}
	}

	instanceID := rt.cfg.InstanceID
	if instanceID == "" {
		instanceID = domain.DeriveInstanceID(rt.cfg.ServiceName)
	}

	rt.mu.Lock()
	rt.instanceID = instanceID
	rt.router = router.New(rt.cfg.ServiceName, instanceID, rt.transport, rt.handlers)
	if rt.metrics != nil {
		rt.router.SetMetrics(rt.metrics)
	}
	rt.mu.Unlock()
	if err := rt.router.Start(ctx); err != nil {
		rt.setState(StateFailed)
		return err
	}

	if rt.cfg.EnableRegistration {
		instance := domain.NewServiceInstance(rt.cfg.ServiceName, instanceID, rt.cfg.Version)
		if err := rt.registry.Register(ctx, instance, rt.cfg.RegistryTTL); err != nil {
			rt.setState(StateFailed)
			return domain.NewError(domain.ErrRegistrationFailed, "register instance: "+err.Error())
		}
		rt.mu.Lock()
		rt.instance = instance
		rt.mu.Unlock()
	}

	if rt.postRegistration != nil {
		if err := rt.postRegistration(ctx, instanceID); err != nil {
			rt.setState(StateFailed)
			return err
		}
	}

	heartbeatCtx, cancel := context.WithCancel(context.Background())
	rt.heartbeatCancel = cancel
	rt.heartbeatDone = make(chan struct{})
	go rt.heartbeatLoop(heartbeatCtx)

	rt.setState(StateStarted)
	return nil
}

// heartbeatLoop re-registers the instance every heartbeat_interval,
// tracking consecutive failures per §4.6 step 5. A no-op when registration
// is disabled (no instance to refresh).
func (rt *Runtime) heartbeatLoop(ctx context.Context) {
	defer close(rt.heartbeatDone)

	if rt.Instance() == nil {
		return
	}

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-rt.clock.After(rt.cfg.HeartbeatInterval):
			rt.mu.Lock()
			instance := rt.instance
			rt.mu.Unlock()

			err := rt.registry.UpdateHeartbeat(ctx, instance, rt.cfg.RegistryTTL)
			if err != nil {
				failures++
				rt.recordHeartbeat(false)
				logger.GetLogger(ctx).Warn("heartbeat failed",
					zap.String("instance", instance.InstanceID.String()), zap.Int("consecutive_failures", failures), zap.Error(err))
				if failures >= heartbeatFailureThreshold {
					rt.mu.Lock()
					instance.Status = domain.StatusUnhealthy
					rt.mu.Unlock()
					if rt.onUnhealthy != nil {
						rt.onUnhealthy(ctx)
					}
				}
				continue
			}

			rt.recordHeartbeat(true)
			if failures > 0 {
				logger.GetLogger(ctx).Info("heartbeat recovered", zap.String("instance", instance.InstanceID.String()))
			}
			failures = 0
			rt.mu.Lock()
			instance.Status = domain.StatusActive
			rt.mu.Unlock()
		}
	}
}

// Stop runs the §4.6 shutdown sequence: drain subscriptions, cancel the
// heartbeat task, best-effort deregister, close the transport.
func (rt *Runtime) Stop(ctx context.Context) error {
	rt.mu.Lock()
	if rt.state != StateStarted {
		rt.mu.Unlock()
		return domain.NewError(domain.ErrInvalidRequest, "runtime is not STARTED: "+string(rt.state))
	}
	rt.state = StateStopping
	rt.mu.Unlock()

	var result *multierror.Error

	if err := rt.router.Stop(); err != nil {
		result = multierror.Append(result, err)
	}

	if rt.heartbeatCancel != nil {
		rt.heartbeatCancel()
		select {
		case <-rt.heartbeatDone:
		case <-rt.clock.After(rt.shutdownGrace):
			logger.GetLogger(ctx).Warn("heartbeat task did not stop within shutdown grace")
		}
	}

	if rt.preClose != nil {
		rt.preClose(ctx)
	}

	if instance := rt.Instance(); instance != nil {
		if err := rt.registry.Deregister(ctx, instance.ServiceName, instance.InstanceID); err != nil {
			logger.GetLogger(ctx).Warn("deregister failed during shutdown", zap.Error(err))
		}
	}

	if err := rt.transport.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	rt.setState(StateStopped)
	return result.ErrorOrNil()
}
