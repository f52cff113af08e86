package runtime

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ryanflavor/aegistrader/internal/domain"
	"github.com/ryanflavor/aegistrader/internal/transport"
)

// fakeTransport is a no-op transport.Port: Start only needs Subscribe to
// succeed for whatever the HandlerRegistry holds (possibly nothing), and
// Stop only needs Close to be observable.
type fakeTransport struct {
	closed atomic.Bool
}

func (f *fakeTransport) Connect(ctx context.Context, servers []string) error { return nil }
func (f *fakeTransport) Publish(ctx context.Context, subject string, data []byte) error {
	return nil
}
func (f *fakeTransport) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	return nil, nil
}
func (f *fakeTransport) Subscribe(ctx context.Context, subjectPattern, queueGroup string, handler transport.RequestHandler) (transport.Subscription, error) {
	return noopSub{}, nil
}
func (f *fakeTransport) DurableSubscribe(ctx context.Context, stream, subjectPattern, consumerName string, mode domain.SubscriptionMode, handler transport.EventHandler) (transport.Subscription, error) {
	return noopSub{}, nil
}
func (f *fakeTransport) Close() error {
	f.closed.Store(true)
	return nil
}

type noopSub struct{}

func (noopSub) Unsubscribe() error { return nil }
