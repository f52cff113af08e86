package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/ryanflavor/aegistrader/internal/backoff"
	"github.com/ryanflavor/aegistrader/internal/domain"
	"github.com/ryanflavor/aegistrader/internal/kv"
	"github.com/ryanflavor/aegistrader/internal/logger"
)

const registryWatchPrefix = "service-instances."

// Watched wraps a Cached discovery and invalidates the affected service's
// cache entry the instant a registry change is observed, per §4.4. While
// disconnected from the watch the TTL cache remains authoritative; watch
// reconnection uses bounded exponential backoff.
type Watched struct {
	*Cached
	store kv.Store
}

// NewWatched wraps cached, opening a watch on the registry prefix using
// store. The watch loop runs until ctx is cancelled.
func NewWatched(ctx context.Context, cached *Cached, store kv.Store) *Watched {
	w := &Watched{Cached: cached, store: store}
	go w.watchLoop(ctx)
	return w
}

func (w *Watched) watchLoop(ctx context.Context) {
	policy := backoff.Policy{InitialDelay: 200 * time.Millisecond, MaxDelay: 10 * time.Second, Multiplier: 2, JitterFactor: 0.2}
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ch, err := w.store.Watch(ctx, registryWatchPrefix, true)
		if err != nil {
			delay := backoff.Delay(policy, attempt)
			attempt++
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		for ev := range ch {
			attempt = 0
			if service, ok := serviceFromKey(ev.Entry.Key); ok {
				w.invalidate(service)
			}
		}

		// Channel closed: substrate disconnected or ctx cancelled. If ctx is
		// still live, reconnect with backoff.
		select {
		case <-ctx.Done():
			return
		default:
			logger.GetLogger(ctx).Warn("discovery watch disconnected, reconnecting")
		}
		delay := backoff.Delay(policy, attempt)
		attempt++
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func serviceFromKey(key string) (domain.ServiceName, bool) {
	if !strings.HasPrefix(key, registryWatchPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(key, registryWatchPrefix)
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) == 0 || parts[0] == "" {
		return "", false
	}
	return domain.ServiceName(parts[0]), true
}
