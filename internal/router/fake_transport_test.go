package router

import (
	"context"
	"sync"
	"time"

	"github.com/ryanflavor/aegistrader/internal/domain"
	"github.com/ryanflavor/aegistrader/internal/transport"
)

// fakeTransport is an in-process transport.Port fake that records every
// subscription and published message so dispatch logic can be exercised
// without a live Redis/NATS substrate.
type fakeTransport struct {
	mu sync.Mutex

	rpc      map[string]transport.RequestHandler
	durables map[string]durableSub
	published []publishedMsg
}

type durableSub struct {
	stream         string
	subjectPattern string
	consumerName   string
	mode           domain.SubscriptionMode
	handler        transport.EventHandler
}

type publishedMsg struct {
	subject string
	data    []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		rpc:      map[string]transport.RequestHandler{},
		durables: map[string]durableSub{},
	}
}

func (f *fakeTransport) Connect(ctx context.Context, servers []string) error { return nil }

func (f *fakeTransport) Publish(ctx context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMsg{subject: subject, data: data})
	return nil
}

func (f *fakeTransport) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error) {
	return nil, domain.NewError(domain.ErrTimeout, "fakeTransport does not implement Request")
}

func (f *fakeTransport) Subscribe(ctx context.Context, subjectPattern, queueGroup string, handler transport.RequestHandler) (transport.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rpc[subjectPattern] = handler
	pattern := subjectPattern
	return noopSub{unsub: func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.rpc, pattern)
		return nil
	}}, nil
}

func (f *fakeTransport) DurableSubscribe(ctx context.Context, stream, subjectPattern, consumerName string, mode domain.SubscriptionMode, handler transport.EventHandler) (transport.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := stream + "|" + subjectPattern
	f.durables[key] = durableSub{stream: stream, subjectPattern: subjectPattern, consumerName: consumerName, mode: mode, handler: handler}
	return noopSub{unsub: func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.durables, key)
		return nil
	}}, nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) rpcHandler(subject string) transport.RequestHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rpc[subject]
}

func (f *fakeTransport) durable(stream, pattern string) (durableSub, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.durables[stream+"|"+pattern]
	return d, ok
}

func (f *fakeTransport) publishedMessages() []publishedMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishedMsg, len(f.published))
	copy(out, f.published)
	return out
}

type noopSub struct {
	unsub func() error
}

func (s noopSub) Unsubscribe() error { return s.unsub() }
