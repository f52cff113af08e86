package router

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryanflavor/aegistrader/internal/codec"
	"github.com/ryanflavor/aegistrader/internal/domain"
	"github.com/ryanflavor/aegistrader/internal/logger"
	"github.com/ryanflavor/aegistrader/internal/observability"
	"github.com/ryanflavor/aegistrader/internal/transport"
)

const (
	eventsStream   = "events"
	commandsStream = "commands"
)

// Router subscribes every registered handler onto the Transport Port and
// dispatches inbound messages by subject pattern (§4.5).
type Router struct {
	service    domain.ServiceName
	instanceID domain.InstanceID
	transport  transport.Port
	registry   *HandlerRegistry
	metrics    *observability.Registry

	mu   sync.Mutex
	subs []transport.Subscription
}

// New constructs a Router for service/instanceID, dispatching through t
// using the handlers registered in reg.
func New(service domain.ServiceName, instanceID domain.InstanceID, t transport.Port, reg *HandlerRegistry) *Router {
	return &Router{service: service, instanceID: instanceID, transport: t, registry: reg}
}

// SetMetrics wires an observability.Registry for per-dispatch counters and
// latency summaries (§2 C9). A nil registry (the default) disables metrics
// with no overhead beyond a nil check per dispatch.
func (r *Router) SetMetrics(m *observability.Registry) { r.metrics = m }

// Start subscribes every currently-registered handler. Unknown methods are
// never subscribed — only registered RPC methods receive a queue-group
// subscription (§4.5).
func (r *Router) Start(ctx context.Context) error {
	for method, handler := range r.registry.rpcHandlers() {
		subject := domain.RPCSubject(r.service, method)
		sub, err := r.transport.Subscribe(ctx, subject, r.service.String(), r.rpcDispatch(handler))
		if err != nil {
			return domain.NewError(domain.ErrInternalError, "subscribe rpc "+method+": "+err.Error())
		}
		r.track(sub)
	}

	for pattern, reg := range r.registry.eventHandlers() {
		sub, err := r.transport.DurableSubscribe(ctx, eventsStream, pattern, r.instanceID.String(), reg.mode, r.eventDispatch(reg.handler))
		if err != nil {
			return domain.NewError(domain.ErrInternalError, "durable subscribe event "+pattern+": "+err.Error())
		}
		r.track(sub)
	}

	for name, reg := range r.registry.commandHandlers() {
		subject := domain.CommandSubject(r.service, name)
		sub, err := r.transport.DurableSubscribe(ctx, commandsStream, subject, r.instanceID.String(), domain.ModeCompete, r.commandDispatch(name, reg.handler))
		if err != nil {
			return domain.NewError(domain.ErrInternalError, "durable subscribe command "+name+": "+err.Error())
		}
		r.track(sub)
	}

	return nil
}

// Stop unsubscribes every handler this Router started.
func (r *Router) Stop() error {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) track(sub transport.Subscription) {
	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()
}

// rpcDispatch decodes an RPCRequest, invokes handler, and encodes an
// RPCResponse — success=true on a nil error, success=false with
// Error=INTERNAL_ERROR (or the handler's own domain error code) otherwise.
func (r *Router) rpcDispatch(handler RPCHandler) transport.RequestHandler {
	return func(ctx context.Context, subject string, data []byte) ([]byte, error) {
		var req domain.RPCRequest
		if _, err := codec.Decode(data, &req); err != nil {
			return nil, domain.NewError(domain.ErrInvalidRequest, "decode rpc request: "+err.Error())
		}

		start := time.Now()
		result, err := handler(ctx, req.Params)
		elapsedMS := float64(time.Since(start).Milliseconds())

		var resp *domain.RPCResponse
		outcome := "success"
		if err != nil {
			outcome = "error"
			code := domain.CodeOf(err)
			if code == "" {
				code = domain.ErrInternalError
			}
			logger.LogError(ctx, "rpc handler failed", err, zap.String("method", req.Method))
			resp = domain.NewErrorResponse(&req, code, err.Error())
		} else {
			resp = domain.NewSuccessResponse(&req, result)
		}
		r.recordRPC(req.Method, outcome, elapsedMS)

		return codec.Encode(resp)
	}
}

// eventDispatch decodes an Event and hands it to handler; a non-nil error
// nacks, triggering redelivery.
func (r *Router) eventDispatch(handler EventHandler) transport.EventHandler {
	return func(ctx context.Context, subject string, data []byte) error {
		var evt domain.Event
		if _, err := codec.Decode(data, &evt); err != nil {
			return domain.NewError(domain.ErrInvalidRequest, "decode event: "+err.Error())
		}
		err := handler(ctx, &evt)
		r.recordEvent(evt.Domain+"."+evt.EventType, err == nil)
		return err
	}
}

// commandDispatch decodes a Command, hands it to handler with a progress
// callback that publishes to commands.{service}.{command}.progress.{id},
// and publishes the final outcome to commands.{service}.{command}.result.{id} (§4.5).
func (r *Router) commandDispatch(name string, handler CommandHandler) transport.EventHandler {
	return func(ctx context.Context, subject string, data []byte) error {
		var cmd domain.Command
		if _, err := codec.Decode(data, &cmd); err != nil {
			return domain.NewError(domain.ErrInvalidRequest, "decode command: "+err.Error())
		}

		progress := func(percent int, message string) {
			payload, err := codec.Encode(domain.Progress{Percent: percent, Message: message})
			if err != nil {
				return
			}
			subj := domain.CommandProgressSubject(r.service, name, cmd.MessageID)
			if pubErr := r.transport.Publish(ctx, subj, payload); pubErr != nil {
				logger.GetLogger(ctx).Warn("failed to publish command progress", zap.String("command", name), zap.Error(pubErr))
			}
		}

		start := time.Now()
		result, handlerErr := handler(ctx, &cmd, progress)
		r.recordCommand(name, handlerErr == nil, float64(time.Since(start).Milliseconds()))

		env := domain.NewEnvelope()
		env.CorrelationID = cmd.MessageID
		env.TraceID = cmd.TraceID
		outcome := &domain.RPCResponse{Envelope: env, Success: handlerErr == nil, Result: result}
		if handlerErr != nil {
			code := domain.CodeOf(handlerErr)
			if code == "" {
				code = domain.ErrInternalError
			}
			outcome.Error = code
			outcome.Message = handlerErr.Error()
		}

		payload, err := codec.Encode(outcome)
		if err == nil {
			resultSubj := domain.CommandResultSubject(r.service, name, cmd.MessageID)
			if pubErr := r.transport.Publish(ctx, resultSubj, payload); pubErr != nil {
				logger.GetLogger(ctx).Warn("failed to publish command result", zap.String("command", name), zap.Error(pubErr))
			}
		}

		return handlerErr
	}
}

func (r *Router) recordRPC(method, outcome string, elapsedMS float64) {
	if r.metrics == nil {
		return
	}
	r.metrics.Counter("rpc_requests_total", map[string]string{"method": method, "outcome": outcome}).Inc()
	r.metrics.Summary("rpc_latency_ms", map[string]string{"method": method}).Observe(elapsedMS)
}

func (r *Router) recordEvent(subject string, ok bool) {
	if r.metrics == nil {
		return
	}
	outcome := "ack"
	if !ok {
		outcome = "nack"
	}
	r.metrics.Counter("events_processed_total", map[string]string{"subject": subject, "outcome": outcome}).Inc()
}

func (r *Router) recordCommand(name string, ok bool, elapsedMS float64) {
	if r.metrics == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	r.metrics.Counter("commands_processed_total", map[string]string{"command": name, "outcome": outcome}).Inc()
	r.metrics.Summary("command_latency_ms", map[string]string{"command": name}).Observe(elapsedMS)
}
