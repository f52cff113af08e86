// Package kv defines the substrate-agnostic KV Store Port (§4.2): the
// read/write/watch surface that Registry and Election are both built on.
package kv

import (
	"context"
	"time"
)

// Entry is a single key-value record with the revision it was last written
// at, used both for plain reads and as the basis for compare-and-swap.
type Entry struct {
	Key      string
	Value    []byte
	Revision int64
}

// WatchOp is the kind of change a WatchEvent reports.
type WatchOp string

const (
	WatchPut    WatchOp = "PUT"
	WatchDelete WatchOp = "DELETE"
)

// WatchEvent is a single change observed on a watched key or prefix.
type WatchEvent struct {
	Op    WatchOp
	Entry Entry
}

// PutOptions configures an optional compare-and-swap and/or lease binding
// for Put. A zero value performs an unconditional write with no lease.
type PutOptions struct {
	// ExpectedRevision, if non-zero, makes Put fail CAS_CONFLICT unless the
	// key's current revision matches exactly.
	ExpectedRevision int64
	// CreateOnly, if true, makes Put fail CAS_CONFLICT unless the key does
	// not yet exist (ExpectedRevision is ignored in this mode).
	CreateOnly bool
	// TTL, if non-zero, binds the write to a lease with this retention;
	// the underlying substrate is expected to expire the key after TTL of
	// silence (§4.2's "stream-level max_age", realized here via an etcd
	// lease — the implementation MUST NOT assume the caller single-writes
	// to a fixed lease; adapters grant one lease per Put with a TTL and
	// let old leases expire naturally).
	TTL time.Duration
}

// Store is the KV Store Port: get/put/delete/list/watch over a flat
// byte-value keyspace, with optimistic concurrency on Put.
type Store interface {
	// Get returns the entry at key, or ok=false if it does not exist.
	Get(ctx context.Context, key string) (entry Entry, ok bool, err error)

	// Put writes value at key according to opts, returning the new
	// revision. Returns a *domain.Error with Code=CAS_CONFLICT if opts
	// requests a conditional write and the condition does not hold.
	Put(ctx context.Context, key string, value []byte, opts PutOptions) (revision int64, err error)

	// Delete removes key. It is not an error if key does not exist.
	Delete(ctx context.Context, key string) error

	// CompareAndDelete removes key only if its current revision equals
	// expectedRevision, returning false (no error) if the condition fails.
	CompareAndDelete(ctx context.Context, key string, expectedRevision int64) (bool, error)

	// List returns every entry whose key has the given prefix.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// Watch streams WatchEvents for key (exact match) or, if prefix is
	// true, for every key under it, until ctx is cancelled or the
	// returned channel is drained and closed on error.
	Watch(ctx context.Context, keyOrPrefix string, prefix bool) (<-chan WatchEvent, error)

	// Close releases underlying substrate resources (connections,
	// leases held by this Store instance).
	Close() error
}
