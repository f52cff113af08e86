// Package redistransport realizes the Transport Port (§4.1) on Redis. Plain
// publish and fire-and-forget broadcast ride Redis Pub/Sub; load-balanced
// and durable delivery are layered on Redis Streams consumer groups, since
// Pub/Sub alone cannot express a NATS-style queue group.
package redistransport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"

	"github.com/ryanflavor/aegistrader/internal/backoff"
	"github.com/ryanflavor/aegistrader/internal/domain"
)

const queueStreamPrefix = "subj:"

// defaultMaxDeliver bounds how many times durableLoop will redeliver a
// message before routing it to that stream's dead-letter stream, per the
// "dead-letter after the configured maximum delivery attempts" requirement
// on durable subscriptions (§4.5).
const defaultMaxDeliver = 5

// conn tracks one pooled connection's health.
type conn struct {
	addr    string
	client  *redis.Client
	healthy atomic.Bool
}

// Adapter implements transport.Port on a round-robin pool of Redis
// connections, per §4.1's connection-pool requirement.
type Adapter struct {
	mu    sync.RWMutex
	conns []*conn
	next  uint64

	durableFilters   []durableFilter
	durableFiltersMu sync.Mutex

	queueFilters   []queueFilter
	queueFiltersMu sync.Mutex

	subs   sync.WaitGroup
	closed atomic.Bool

	reconnectPolicy backoff.Policy
	probeCancel     context.CancelFunc

	maxDeliver int
}

// New constructs an unconnected Adapter. Call Connect before use.
func New() *Adapter {
	return &Adapter{
		reconnectPolicy: backoff.Policy{InitialDelay: 200 * time.Millisecond, MaxDelay: 10 * time.Second, Multiplier: 2, JitterFactor: 0.2},
		maxDeliver:      defaultMaxDeliver,
	}
}

// SetMaxDeliver overrides the default durable-subscription redelivery bound.
func (a *Adapter) SetMaxDeliver(n int) {
	a.maxDeliver = n
}

// Connect dials every server and requires at least one to become healthy
// within a bounded retry budget, per §4.1.
func (a *Adapter) Connect(ctx context.Context, servers []string) error {
	if len(servers) == 0 {
		return domain.NewError(domain.ErrInvalidRequest, "redistransport: no servers configured")
	}

	conns := make([]*conn, len(servers))
	for i, addr := range servers {
		conns[i] = &conn{addr: addr, client: redis.NewClient(&redis.Options{Addr: addr})}
	}

	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		anyHealthy := false
		for _, c := range conns {
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := c.client.Ping(pctx).Err()
			cancel()
			c.healthy.Store(err == nil)
			if err != nil {
				lastErr = err
			} else {
				anyHealthy = true
			}
		}
		if anyHealthy {
			a.mu.Lock()
			a.conns = conns
			a.mu.Unlock()

			probeCtx, cancel := context.WithCancel(context.Background())
			a.probeCancel = cancel
			go a.reprobeLoop(probeCtx)
			return nil
		}

		delay := backoff.Delay(a.reconnectPolicy, attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return domain.NewError(domain.ErrTransportUnavail, fmt.Sprintf("redistransport: no server reachable: %v", lastErr))
}

// reprobeLoop periodically re-pings unhealthy connections so they can
// rejoin the pool without requiring a full Connect cycle.
func (a *Adapter) reprobeLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.RLock()
			conns := append([]*conn{}, a.conns...)
			a.mu.RUnlock()
			for _, c := range conns {
				if c.healthy.Load() {
					continue
				}
				pctx, cancel := context.WithTimeout(ctx, time.Second)
				err := c.client.Ping(pctx).Err()
				cancel()
				c.healthy.Store(err == nil)
			}
		}
	}
}

// pickConn returns the next healthy connection in round-robin order.
func (a *Adapter) pickConn() (*conn, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := len(a.conns)
	if n == 0 {
		return nil, domain.NewError(domain.ErrTransportUnavail, "redistransport: not connected")
	}
	start := atomic.AddUint64(&a.next, 1)
	for i := 0; i < n; i++ {
		c := a.conns[(int(start)+i)%n]
		if c.healthy.Load() {
			return c, nil
		}
	}
	return nil, domain.NewError(domain.ErrTransportUnavail, "redistransport: no healthy connection")
}

// Publish fans the message out over Pub/Sub and, when subject matches any
// registered durable filter or queue-group filter, mirrors it into that
// filter's stream too — this is the only place either kind of stream is
// written to, so Request (which calls Publish for its request leg) and
// plain Publish both reach queue-group and durable consumers the same way.
func (a *Adapter) Publish(ctx context.Context, subject string, data []byte) error {
	c, err := a.pickConn()
	if err != nil {
		return err
	}

	var result *multierror.Error
	if err := c.client.Publish(ctx, subject, data).Err(); err != nil {
		c.healthy.Store(false)
		result = multierror.Append(result, fmt.Errorf("pubsub publish: %w", err))
	}

	if err := a.mirrorToDurableStreams(ctx, c, subject, data); err != nil {
		result = multierror.Append(result, err)
	}
	if err := a.mirrorToQueueStreams(ctx, c, subject, data); err != nil {
		result = multierror.Append(result, err)
	}

	if result.ErrorOrNil() != nil {
		return domain.NewError(domain.ErrTransportUnavail, result.Error())
	}
	return nil
}

func (a *Adapter) mirrorToDurableStreams(ctx context.Context, c *conn, subject string, data []byte) error {
	a.durableFiltersMu.Lock()
	filters := append([]durableFilter{}, a.durableFilters...)
	a.durableFiltersMu.Unlock()

	var result *multierror.Error
	written := map[string]bool{}
	for _, f := range filters {
		if written[f.streamKey] || !matchSubject(f.pattern, subject) {
			continue
		}
		written[f.streamKey] = true
		err := c.client.XAdd(ctx, &redis.XAddArgs{
			Stream: f.streamKey,
			MaxLen: 100000,
			Approx: true,
			Values: map[string]interface{}{"subject": subject, "data": data},
		}).Err()
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("durable mirror to %s: %w", f.streamKey, err))
		}
	}
	return result.ErrorOrNil()
}

func (a *Adapter) mirrorToQueueStreams(ctx context.Context, c *conn, subject string, data []byte) error {
	a.queueFiltersMu.Lock()
	filters := append([]queueFilter{}, a.queueFilters...)
	a.queueFiltersMu.Unlock()

	var result *multierror.Error
	written := map[string]bool{}
	for _, f := range filters {
		if written[f.streamKey] || !matchSubject(f.subject, subject) {
			continue
		}
		written[f.streamKey] = true
		err := c.client.XAdd(ctx, &redis.XAddArgs{
			Stream: f.streamKey,
			MaxLen: 100000,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		}).Err()
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("queue-group mirror to %s: %w", f.streamKey, err))
		}
	}
	return result.ErrorOrNil()
}

// Request publishes data wrapped in a reply-addressed frame and waits for
// the response on an ephemeral reply subject, failing TIMEOUT on expiry.
func (a *Adapter) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	c, err := a.pickConn()
	if err != nil {
		return nil, err
	}

	replySubject := "_INBOX." + uuid.New().String()
	sub := c.client.Subscribe(ctx, replySubject)
	defer sub.Close()

	frame, err := encodeFrame(replySubject, data)
	if err != nil {
		return nil, domain.NewError(domain.ErrInternalError, "encode request frame: "+err.Error())
	}

	if err := a.Publish(ctx, subject, frame); err != nil {
		return nil, err
	}

	select {
	case msg, ok := <-sub.Channel():
		if !ok {
			return nil, domain.NewError(domain.ErrTransportUnavail, "redistransport: reply channel closed")
		}
		return []byte(msg.Payload), nil
	case <-time.After(timeout):
		return nil, domain.NewError(domain.ErrTimeout, fmt.Sprintf("request to %s timed out after %s", subject, timeout))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close drains every pooled connection.
func (a *Adapter) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	if a.probeCancel != nil {
		a.probeCancel()
	}
	a.subs.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()

	var result *multierror.Error
	for _, c := range a.conns {
		if err := c.client.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
