package etcd

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// Client wraps etcd client with convenience methods for distributed coordination
type Client struct {
	cli *clientv3.Client
}

// Config holds etcd client configuration
type Config struct {
	// Endpoints is the list of etcd server endpoints
	Endpoints []string

	// DialTimeout is the timeout for failing to establish a connection
	DialTimeout time.Duration

	// Username for authentication (optional)
	Username string

	// Password for authentication (optional)
	Password string
}

// NewClient creates a new etcd client
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints cannot be empty")
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	return &Client{cli: cli}, nil
}

// Close closes the etcd client connection
func (c *Client) Close() error {
	if c.cli != nil {
		return c.cli.Close()
	}
	return nil
}

// Put puts a key-value pair into etcd
func (c *Client) Put(ctx context.Context, key, value string) error {
	_, err := c.cli.Put(ctx, key, value)
	return err
}

// Get retrieves a value from etcd by key
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	resp, err := c.cli.Get(ctx, key)
	if err != nil {
		return "", err
	}

	if len(resp.Kvs) == 0 {
		return "", fmt.Errorf("key not found: %s", key)
	}

	return string(resp.Kvs[0].Value), nil
}

// GetWithPrefix retrieves all key-value pairs with the given prefix
func (c *Client) GetWithPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	resp, err := c.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	result := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		result[string(kv.Key)] = string(kv.Value)
	}

	return result, nil
}

// Delete deletes a key from etcd
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.cli.Delete(ctx, key)
	return err
}

// GrantLease grants a lease with the given TTL in seconds
func (c *Client) GrantLease(ctx context.Context, ttl int64) (clientv3.LeaseID, error) {
	resp, err := c.cli.Grant(ctx, ttl)
	if err != nil {
		return 0, err
	}
	return resp.ID, nil
}

// PutWithLease puts a key-value pair with a lease
func (c *Client) PutWithLease(ctx context.Context, key, value string, leaseID clientv3.LeaseID) error {
	_, err := c.cli.Put(ctx, key, value, clientv3.WithLease(leaseID))
	return err
}

// KeepAlive keeps a lease alive by sending keep-alive requests
// Returns a channel that receives keep-alive responses
func (c *Client) KeepAlive(ctx context.Context, leaseID clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error) {
	return c.cli.KeepAlive(ctx, leaseID)
}

// RevokeLease revokes a lease
func (c *Client) RevokeLease(ctx context.Context, leaseID clientv3.LeaseID) error {
	_, err := c.cli.Revoke(ctx, leaseID)
	return err
}

// Watch watches for changes on a key or prefix
func (c *Client) Watch(ctx context.Context, key string, opts ...clientv3.OpOption) clientv3.WatchChan {
	return c.cli.Watch(ctx, key, opts...)
}

// NewSession creates a new concurrency session for distributed locking and leader election
func (c *Client) NewSession(ctx context.Context, ttl int) (*concurrency.Session, error) {
	return concurrency.NewSession(c.cli, concurrency.WithTTL(ttl))
}

// NewElection creates a new election instance for leader election
func (c *Client) NewElection(session *concurrency.Session, prefix string) *concurrency.Election {
	return concurrency.NewElection(session, prefix)
}

// NewMutex creates a new distributed mutex
func (c *Client) NewMutex(session *concurrency.Session, key string) *concurrency.Mutex {
	return concurrency.NewMutex(session, key)
}

// Client returns the underlying etcd v3 client
func (c *Client) Client() *clientv3.Client {
	return c.cli
}

// HealthCheck checks if etcd is reachable and healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := c.cli.Get(ctx, "health-check")
	return err
}

// KV pairs a value with the mod revision it was last written at, so callers
// can issue a compare-and-swap without a separate round trip.
type KV struct {
	Key      string
	Value    string
	Revision int64
}

// GetWithPrefixRevisions retrieves all key-value pairs with the given
// prefix along with each key's mod revision, in a single round trip so the
// snapshot is internally consistent.
func (c *Client) GetWithPrefixRevisions(ctx context.Context, prefix string) ([]KV, error) {
	resp, err := c.cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	result := make([]KV, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		result = append(result, KV{Key: string(kv.Key), Value: string(kv.Value), Revision: kv.ModRevision})
	}
	return result, nil
}

// GetRevision retrieves a key along with its current mod revision.
// ok is false if the key does not exist.
func (c *Client) GetRevision(ctx context.Context, key string) (kv KV, ok bool, err error) {
	resp, err := c.cli.Get(ctx, key)
	if err != nil {
		return KV{}, false, err
	}
	if len(resp.Kvs) == 0 {
		return KV{}, false, nil
	}
	k := resp.Kvs[0]
	return KV{Key: string(k.Key), Value: string(k.Value), Revision: k.ModRevision}, true, nil
}

// CreateIfAbsent atomically creates key with value and leaseID only if key
// does not yet exist. Used by election TryAcquire and first-time registry
// registration, where two instances racing to create the same key must have
// exactly one winner.
func (c *Client) CreateIfAbsent(ctx context.Context, key, value string, leaseID clientv3.LeaseID) (bool, error) {
	resp, err := c.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, value, clientv3.WithLease(leaseID))).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

// CompareAndSwap atomically replaces key's value with newValue only if its
// current mod revision still equals expectedRevision. Returns false (no
// error) if the revision has moved on, signalling a lost race to the caller.
func (c *Client) CompareAndSwap(ctx context.Context, key, newValue string, expectedRevision int64, leaseID clientv3.LeaseID) (bool, error) {
	put := clientv3.OpPut(key, newValue)
	if leaseID != 0 {
		put = clientv3.OpPut(key, newValue, clientv3.WithLease(leaseID))
	}
	resp, err := c.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", expectedRevision)).
		Then(put).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

// CompareAndDelete atomically deletes key only if its current mod revision
// still equals expectedRevision. Used to release a lease-backed election or
// registration record exactly when it's still the caller's own.
func (c *Client) CompareAndDelete(ctx context.Context, key string, expectedRevision int64) (bool, error) {
	resp, err := c.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.ModRevision(key), "=", expectedRevision)).
		Then(clientv3.OpDelete(key)).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}