// Package router implements the Handler Registry & Router (§4.5): handler
// registration and subject-pattern dispatch on top of the Transport Port.
package router

import (
	"context"
	"sync"

	"github.com/ryanflavor/aegistrader/internal/domain"
)

// RPCHandler answers one RPC call.
type RPCHandler func(ctx context.Context, params map[string]interface{}) (result interface{}, err error)

// ProgressFunc reports command progress to commands.{service}.{command}.progress.{id}.
type ProgressFunc func(percent int, message string)

// EventHandler processes one durable event; a non-nil error nacks.
type EventHandler func(ctx context.Context, event *domain.Event) error

// CommandHandler processes one durable command; a non-nil error nacks.
type CommandHandler func(ctx context.Context, command *domain.Command, progress ProgressFunc) (result interface{}, err error)

type eventRegistration struct {
	mode    domain.SubscriptionMode
	handler EventHandler
}

type commandRegistration struct {
	handler CommandHandler
}

// HandlerRegistry owns the three disjoint handler mappings (§4.5).
// Registration is single-writer during startup/on_start but safe to call
// concurrently thereafter, since a running Router only ever reads it.
type HandlerRegistry struct {
	mu       sync.RWMutex
	rpc      map[string]RPCHandler
	events   map[string]eventRegistration
	commands map[string]commandRegistration
}

// NewHandlerRegistry constructs an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		rpc:      map[string]RPCHandler{},
		events:   map[string]eventRegistration{},
		commands: map[string]commandRegistration{},
	}
}

// RegisterRPC registers handler for method. Re-registering the same method
// replaces the existing handler.
func (h *HandlerRegistry) RegisterRPC(method string, handler RPCHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rpc[method] = handler
}

// RegisterEvent registers handler for subjectPattern under mode.
func (h *HandlerRegistry) RegisterEvent(subjectPattern string, mode domain.SubscriptionMode, handler EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[subjectPattern] = eventRegistration{mode: mode, handler: handler}
}

// RegisterCommand registers handler for command name.
func (h *HandlerRegistry) RegisterCommand(name string, handler CommandHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands[name] = commandRegistration{handler: handler}
}

func (h *HandlerRegistry) rpcHandlers() map[string]RPCHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]RPCHandler, len(h.rpc))
	for k, v := range h.rpc {
		out[k] = v
	}
	return out
}

func (h *HandlerRegistry) eventHandlers() map[string]eventRegistration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]eventRegistration, len(h.events))
	for k, v := range h.events {
		out[k] = v
	}
	return out
}

func (h *HandlerRegistry) commandHandlers() map[string]commandRegistration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]commandRegistration, len(h.commands))
	for k, v := range h.commands {
		out[k] = v
	}
	return out
}
