// Package client implements the Outbound RPC data flow (§2): Discovery →
// (optional) target pinning → Transport request → retry policy on failure.
// It is the caller-side counterpart to internal/router's inbound dispatch.
package client

import (
	"context"
	"time"

	"github.com/ryanflavor/aegistrader/internal/codec"
	"github.com/ryanflavor/aegistrader/internal/discovery"
	"github.com/ryanflavor/aegistrader/internal/domain"
	"github.com/ryanflavor/aegistrader/internal/retry"
	"github.com/ryanflavor/aegistrader/internal/transport"
)

// Client calls RPC methods on a discovered service instance, retrying per
// policy on the error codes it marks retryable (§4.8).
type Client struct {
	discovery discovery.Discovery
	transport transport.Port
	policy    retry.Policy
	strategy  domain.SelectionStrategy
}

// New constructs a Client resolving instances through d, issuing requests
// over t, and retrying per p. strategy and Call's preferred instance are
// passed to Discovery.SelectInstance, which only confirms a healthy target
// exists; the instance that answers is chosen by the transport's queue group.
func New(d discovery.Discovery, t transport.Port, p retry.Policy, strategy domain.SelectionStrategy) *Client {
	return &Client{discovery: d, transport: t, policy: p, strategy: strategy}
}

// Call resolves an instance of service via Discovery, sends an RPC request
// for method, and retries per the client's RetryPolicy on a retryable
// error. Every attempt re-runs SelectInstance and sends to the service's
// queue group, so a retry after NOT_ACTIVE may be answered by a different
// instance; no discovery cache entry is invalidated between attempts.
func (c *Client) Call(ctx context.Context, service domain.ServiceName, method string, params map[string]interface{}, timeout time.Duration, preferred *domain.InstanceID) (*domain.RPCResponse, error) {
	result, err := retry.Apply(ctx, c.policy, service.String(), nil, func(ctx context.Context, attempt int) (interface{}, error) {
		return c.callOnce(ctx, service, method, params, timeout, preferred)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.RPCResponse), nil
}

func (c *Client) callOnce(ctx context.Context, service domain.ServiceName, method string, params map[string]interface{}, timeout time.Duration, preferred *domain.InstanceID) (*domain.RPCResponse, error) {
	// SelectInstance confirms a healthy target exists (and honors target
	// pinning/sticky affinity) before sending; delivery to that specific
	// instance is then the Transport Port's job via the service's shared
	// queue group — RPC subjects are service-scoped, not instance-scoped.
	if _, err := c.discovery.SelectInstance(ctx, service, c.strategy, preferred); err != nil {
		return nil, err
	}

	req, err := domain.NewRPCRequest(method, params, timeout)
	if err != nil {
		return nil, err
	}
	frame, err := codec.Encode(req)
	if err != nil {
		return nil, err
	}

	subject := domain.RPCSubject(service, method)
	raw, err := c.transport.Request(ctx, subject, frame, req.Timeout)
	if err != nil {
		return nil, err
	}

	var resp domain.RPCResponse
	if _, err := codec.Decode(raw, &resp); err != nil {
		return nil, domain.NewError(domain.ErrInvalidRequest, "decode rpc response: "+err.Error())
	}
	if !resp.Success {
		return &resp, domain.NewError(resp.Error, resp.Message)
	}
	return &resp, nil
}
