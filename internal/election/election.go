// Package election implements the Election Repository (§4.3): atomic
// create-if-absent leader acquisition, lease-refresh-or-lose, best-effort
// release, and a watch-driven observer — built on the KV Store Port so it
// shares CAS semantics with Registry rather than re-deriving them, and
// expressed over kv.Store instead of a raw etcd session so it stays
// substrate-agnostic per §0.
package election

import (
	"context"
	"fmt"
	"time"

	"github.com/ryanflavor/aegistrader/internal/clock"
	"github.com/ryanflavor/aegistrader/internal/codec"
	"github.com/ryanflavor/aegistrader/internal/domain"
	"github.com/ryanflavor/aegistrader/internal/kv"
)

// AcquireResult is the outcome of TryAcquire.
type AcquireResult struct {
	Acquired bool
	Revision int64
	Owner    domain.InstanceID // set when !Acquired
}

// State is the outcome of an Observe event: either a known leader or vacant.
type State struct {
	Vacant bool
	Owner  domain.InstanceID
}

// ErrLost is returned by Refresh when the caller's lease is no longer held
// (revision mismatch, record missing, or recorded under another owner).
var ErrLost = domain.NewError(domain.ErrElecting, "lease lost or key vanished")

// Repository is the Election Repository over a kv.Store.
type Repository struct {
	store kv.Store
	clock clock.Clock
}

// New constructs a Repository over store. If c is nil the system clock is used.
func New(store kv.Store, c clock.Clock) *Repository {
	if c == nil {
		c = clock.System{}
	}
	return &Repository{store: store, clock: c}
}

// TryAcquire attempts to atomically create key with ownerID as leader,
// bound to a lease of leaseSeconds, per §4.3. If key already exists the
// call returns Acquired=false with the current holder's owner id.
func (r *Repository) TryAcquire(ctx context.Context, key string, ownerID domain.InstanceID, lease time.Duration) (AcquireResult, error) {
	now := r.clock.Now()
	record := domain.ElectionRecord{
		LeaderInstanceID: ownerID,
		AcquiredAt:       now,
		LeaseExpiresAt:   now.Add(lease),
	}
	value, err := codec.Encode(record)
	if err != nil {
		return AcquireResult{}, domain.NewError(domain.ErrInternalError, fmt.Sprintf("encode election record: %v", err))
	}

	revision, err := r.store.Put(ctx, key, value, kv.PutOptions{CreateOnly: true, TTL: lease})
	if err == nil {
		return AcquireResult{Acquired: true, Revision: revision}, nil
	}
	if domain.CodeOf(err) != domain.ErrCASConflict {
		return AcquireResult{}, err
	}

	current, holder, getErr := r.currentHolder(ctx, key)
	if getErr != nil {
		return AcquireResult{}, getErr
	}
	if current == nil {
		// Record vanished between the failed create and this read; the
		// caller should simply retry TryAcquire.
		return AcquireResult{Acquired: false}, nil
	}
	return AcquireResult{Acquired: false, Owner: holder}, nil
}

// Refresh extends ownerID's lease on key, failing ErrLost unless
// expectedRevision still matches the stored record and ownerID still owns
// it (§4.3).
func (r *Repository) Refresh(ctx context.Context, key string, ownerID domain.InstanceID, expectedRevision int64, lease time.Duration) (int64, error) {
	entry, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok || entry.Revision != expectedRevision {
		return 0, ErrLost
	}

	var record domain.ElectionRecord
	if _, err := codec.Decode(entry.Value, &record); err != nil {
		return 0, domain.NewError(domain.ErrInternalError, fmt.Sprintf("decode election record: %v", err))
	}
	if record.LeaderInstanceID != ownerID {
		return 0, ErrLost
	}

	now := r.clock.Now()
	record.AcquiredAt = now
	record.LeaseExpiresAt = now.Add(lease)
	value, err := codec.Encode(record)
	if err != nil {
		return 0, domain.NewError(domain.ErrInternalError, fmt.Sprintf("encode election record: %v", err))
	}

	revision, err := r.store.Put(ctx, key, value, kv.PutOptions{ExpectedRevision: expectedRevision, TTL: lease})
	if err != nil {
		if domain.CodeOf(err) == domain.ErrCASConflict {
			return 0, ErrLost
		}
		return 0, err
	}
	return revision, nil
}

// Release best-effort deletes key if ownerID is still the recorded holder.
// It is not an error if key is already gone or held by someone else.
func (r *Repository) Release(ctx context.Context, key string, ownerID domain.InstanceID) error {
	entry, ok, err := r.store.Get(ctx, key)
	if err != nil || !ok {
		return err
	}
	var record domain.ElectionRecord
	if _, err := codec.Decode(entry.Value, &record); err != nil {
		return nil
	}
	if record.LeaderInstanceID != ownerID {
		return nil
	}
	_, err = r.store.CompareAndDelete(ctx, key, entry.Revision)
	return err
}

// Observe streams State changes on key until ctx is cancelled, emitting the
// current state immediately and then one State per subsequent watch event
// (§4.3).
func (r *Repository) Observe(ctx context.Context, key string) (<-chan State, error) {
	out := make(chan State, 4)

	current, holder, err := r.currentHolder(ctx, key)
	if err != nil {
		return nil, err
	}
	initial := State{Vacant: current == nil}
	if current != nil {
		initial.Owner = holder
	}

	watchCh, err := r.store.Watch(ctx, key, false)
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(out)
		select {
		case out <- initial:
		case <-ctx.Done():
			return
		}
		for ev := range watchCh {
			var state State
			if ev.Op == kv.WatchDelete {
				state = State{Vacant: true}
			} else {
				var record domain.ElectionRecord
				if _, err := codec.Decode(ev.Entry.Value, &record); err != nil {
					continue
				}
				if record.IsExpired(r.clock.Now()) {
					state = State{Vacant: true}
				} else {
					state = State{Owner: record.LeaderInstanceID}
				}
			}
			select {
			case out <- state:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (r *Repository) currentHolder(ctx context.Context, key string) (*domain.ElectionRecord, domain.InstanceID, error) {
	entry, ok, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", nil
	}
	var record domain.ElectionRecord
	if _, err := codec.Decode(entry.Value, &record); err != nil {
		return nil, "", domain.NewError(domain.ErrInternalError, fmt.Sprintf("decode election record: %v", err))
	}
	if record.IsExpired(r.clock.Now()) {
		return nil, "", nil
	}
	return &record, record.LeaderInstanceID, nil
}
