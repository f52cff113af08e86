// Package etcdkv adapts internal/etcd's Client onto the kv.Store port,
// realizing the KV Store Port (§4.2) on etcd: Put/Get/Delete/List map
// directly, CAS is implemented with etcd Txn compare-on-mod-revision, and
// TTL is realized with a fresh per-Put lease rather than a long-lived one
// the caller must remember to keep alive (see internal/kv.PutOptions.TTL).
package etcdkv

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/ryanflavor/aegistrader/internal/domain"
	"github.com/ryanflavor/aegistrader/internal/etcd"
	"github.com/ryanflavor/aegistrader/internal/kv"
)

// Store implements kv.Store on top of an etcd client.
type Store struct {
	client *etcd.Client
}

// New wraps an already-connected etcd client as a kv.Store.
func New(client *etcd.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, key string) (kv.Entry, bool, error) {
	rec, ok, err := s.client.GetRevision(ctx, key)
	if err != nil || !ok {
		return kv.Entry{}, ok, err
	}
	return kv.Entry{Key: rec.Key, Value: []byte(rec.Value), Revision: rec.Revision}, true, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte, opts kv.PutOptions) (int64, error) {
	var leaseID clientv3.LeaseID
	if opts.TTL > 0 {
		ttlSeconds := int64(opts.TTL.Seconds())
		if ttlSeconds < 1 {
			ttlSeconds = 1
		}
		id, err := s.client.GrantLease(ctx, ttlSeconds)
		if err != nil {
			return 0, err
		}
		leaseID = id
	}

	switch {
	case opts.CreateOnly:
		ok, err := s.client.CreateIfAbsent(ctx, key, string(value), leaseID)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, domain.NewError(domain.ErrCASConflict, "key already exists: "+key)
		}
	case opts.ExpectedRevision != 0:
		ok, err := s.client.CompareAndSwap(ctx, key, string(value), opts.ExpectedRevision, leaseID)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, domain.NewError(domain.ErrCASConflict, "revision mismatch for key: "+key)
		}
	default:
		if leaseID != 0 {
			if err := s.client.PutWithLease(ctx, key, string(value), leaseID); err != nil {
				return 0, err
			}
		} else if err := s.client.Put(ctx, key, string(value)); err != nil {
			return 0, err
		}
	}

	rec, ok, err := s.client.GetRevision(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, domain.NewError(domain.ErrInternalError, "key vanished immediately after put: "+key)
	}
	return rec.Revision, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Delete(ctx, key)
}

func (s *Store) CompareAndDelete(ctx context.Context, key string, expectedRevision int64) (bool, error) {
	return s.client.CompareAndDelete(ctx, key, expectedRevision)
}

func (s *Store) List(ctx context.Context, prefix string) ([]kv.Entry, error) {
	raw, err := s.client.GetWithPrefixRevisions(ctx, prefix)
	if err != nil {
		return nil, err
	}
	entries := make([]kv.Entry, 0, len(raw))
	for _, rec := range raw {
		entries = append(entries, kv.Entry{Key: rec.Key, Value: []byte(rec.Value), Revision: rec.Revision})
	}
	return entries, nil
}

func (s *Store) Watch(ctx context.Context, keyOrPrefix string, prefix bool) (<-chan kv.WatchEvent, error) {
	var opts []clientv3.OpOption
	if prefix {
		opts = append(opts, clientv3.WithPrefix())
	}
	raw := s.client.Watch(ctx, keyOrPrefix, opts...)
	out := make(chan kv.WatchEvent, 16)

	go func() {
		defer close(out)
		for resp := range raw {
			if err := resp.Err(); err != nil {
				return
			}
			for _, ev := range resp.Events {
				we := kv.WatchEvent{Entry: kv.Entry{
					Key:      string(ev.Kv.Key),
					Value:    ev.Kv.Value,
					Revision: ev.Kv.ModRevision,
				}}
				if ev.Type == clientv3.EventTypeDelete {
					we.Op = kv.WatchDelete
				} else {
					we.Op = kv.WatchPut
				}
				select {
				case out <- we:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
