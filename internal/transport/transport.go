// Package transport defines the Transport Port (§4.1): the substrate-
// agnostic connect/publish/request/subscribe/durable-subscribe surface
// every messaging pattern in the SDK is built on. The KV side of the
// abstract NATS-core-plus-JetStream-plus-KV substrate is served by
// internal/kv instead of by this port — see SPEC_FULL.md §0.
package transport

import (
	"context"
	"time"

	"github.com/ryanflavor/aegistrader/internal/domain"
)

// RequestHandler answers a request received via Subscribe, returning the
// reply payload or an error. The adapter logs a non-nil error; a reply is
// published only when the returned payload is non-nil.
type RequestHandler func(ctx context.Context, subject string, data []byte) ([]byte, error)

// EventHandler processes one durable or fire-and-forget message. A nil
// return acks; a non-nil return nacks and triggers redelivery per the
// stream's redelivery policy.
type EventHandler func(ctx context.Context, subject string, data []byte) error

// Subscription is a live subscription/durable-consumer handle.
type Subscription interface {
	// Unsubscribe stops delivery and releases substrate-side resources.
	// For durable consumers this detaches but does not delete the
	// consumer group (another instance may resume it).
	Unsubscribe() error
}

// Port is the Transport Port (§4.1).
type Port interface {
	// Connect establishes the underlying connection pool against servers,
	// failing TRANSPORT_UNAVAILABLE if none become reachable within the
	// bounded retry budget.
	Connect(ctx context.Context, servers []string) error

	// Publish is fire-and-forget; it only fails if the transport is
	// disconnected.
	Publish(ctx context.Context, subject string, data []byte) error

	// Request correlates via a private reply subject and fails TIMEOUT if
	// no response arrives within timeout.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	// Subscribe registers handler for subjectPattern. When queueGroup is
	// non-empty, delivery is load-balanced across every subscriber sharing
	// the group (§4.5 RPC dispatch); when empty, every subscriber receives
	// every message.
	Subscribe(ctx context.Context, subjectPattern, queueGroup string, handler RequestHandler) (Subscription, error)

	// DurableSubscribe opens a durable consumer on stream for
	// subjectPattern under consumerName, shaped by mode (§4.1/§4.5):
	// COMPETE shares a queue group across instances, BROADCAST gives each
	// instance its own durable feed, EXCLUSIVE uses a single-consumer
	// durable.
	DurableSubscribe(ctx context.Context, stream, subjectPattern, consumerName string, mode domain.SubscriptionMode, handler EventHandler) (Subscription, error)

	// Close drains subscriptions and flushes pending publishes.
	Close() error
}
