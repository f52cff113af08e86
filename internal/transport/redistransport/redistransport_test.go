package redistransport

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanflavor/aegistrader/internal/domain"
)

// newConnectedAdapter dials a real Redis instance, skipping the test when
// one isn't reachable.
func newConnectedAdapter(t *testing.T) *Adapter {
	t.Helper()
	probe := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer probe.Close()
	if err := probe.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available, skipping integration test: %v", err)
	}

	a := New()
	require.NoError(t, a.Connect(context.Background(), []string{"localhost:6379"}))
	return a
}

func TestPublishSubscribeBroadcast(t *testing.T) {
	a := newConnectedAdapter(t)
	defer a.Close()

	received := make(chan []byte, 1)
	sub, err := a.Subscribe(context.Background(), "aegis-test.broadcast", "", func(ctx context.Context, subject string, data []byte) ([]byte, error) {
		received <- data
		return nil, nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, a.Publish(context.Background(), "aegis-test.broadcast", []byte("hello")))

	select {
	case msg := <-received:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for broadcast message")
	}
}

func TestRequestReply(t *testing.T) {
	a := newConnectedAdapter(t)
	defer a.Close()

	sub, err := a.Subscribe(context.Background(), "aegis-test.rpc.echo", "order-service", func(ctx context.Context, subject string, data []byte) ([]byte, error) {
		return append([]byte("echo:"), data...), nil
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	time.Sleep(200 * time.Millisecond)

	resp, err := a.Request(context.Background(), "aegis-test.rpc.echo", []byte("ping"), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(resp))
}

func TestRequestTimesOutWithNoSubscriber(t *testing.T) {
	a := newConnectedAdapter(t)
	defer a.Close()

	_, err := a.Request(context.Background(), "aegis-test.rpc.nobody", []byte("ping"), 200*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, domain.ErrTimeout, domain.CodeOf(err))
}

func TestDurableSubscribeCompeteLoadBalances(t *testing.T) {
	a := newConnectedAdapter(t)
	defer a.Close()

	var countA, countB int32
	handlerA := func(ctx context.Context, subject string, data []byte) error { countA++; return nil }
	handlerB := func(ctx context.Context, subject string, data []byte) error { countB++; return nil }

	subA, err := a.DurableSubscribe(context.Background(), "aegis-test-stream", "aegis-test.events.order.created", "consumer-a", domain.ModeCompete, handlerA)
	require.NoError(t, err)
	defer subA.Unsubscribe()
	subB, err := a.DurableSubscribe(context.Background(), "aegis-test-stream", "aegis-test.events.order.created", "consumer-b", domain.ModeCompete, handlerB)
	require.NoError(t, err)
	defer subB.Unsubscribe()

	time.Sleep(200 * time.Millisecond)
	for i := 0; i < 10; i++ {
		require.NoError(t, a.Publish(context.Background(), "aegis-test.events.order.created", []byte("evt")))
	}

	require.Eventually(t, func() bool {
		return countA+countB == 10
	}, 5*time.Second, 50*time.Millisecond)
}

func TestDurableSubscribeBroadcastDeliversToEveryConsumer(t *testing.T) {
	a := newConnectedAdapter(t)
	defer a.Close()

	received := make(chan string, 10)
	handler := func(ctx context.Context, subject string, data []byte) error {
		received <- subject
		return nil
	}

	sub1, err := a.DurableSubscribe(context.Background(), "aegis-test-broadcast-stream", "aegis-test.events.order.>", "instance-1", domain.ModeBroadcast, handler)
	require.NoError(t, err)
	defer sub1.Unsubscribe()
	sub2, err := a.DurableSubscribe(context.Background(), "aegis-test-broadcast-stream", "aegis-test.events.order.>", "instance-2", domain.ModeBroadcast, handler)
	require.NoError(t, err)
	defer sub2.Unsubscribe()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, a.Publish(context.Background(), "aegis-test.events.order.shipped", []byte("evt")))

	require.Eventually(t, func() bool {
		return len(received) >= 2
	}, 5*time.Second, 50*time.Millisecond)
}

// TestDeadLetterIfExhaustedMovesMessageOnceRetryCountReachesMaxDeliver drives
// deadLetterIfExhausted directly rather than through durableLoop's 30-second
// reclaim ticker, so the test doesn't have to wait on it: it reads a real
// pending entry's retry count off a real consumer group, then checks the
// dead-letter decision against a maxDeliver of 1.
func TestDeadLetterIfExhaustedMovesMessageOnceRetryCountReachesMaxDeliver(t *testing.T) {
	a := newConnectedAdapter(t)
	defer a.Close()
	a.SetMaxDeliver(1)

	streamKey := durableStreamPrefix + "aegis-test-dead-letter-stream"
	group := streamKey + "|exclusive"
	client := a.conns[0].client
	ctx := context.Background()

	require.NoError(t, ensureGroup(ctx, client, streamKey, group))

	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{"subject": "aegis-test.events.order.failed", "data": "evt"},
	}).Result()
	require.NoError(t, err)

	_, err = client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group: group, Consumer: "only-consumer", Streams: []string{streamKey, ">"}, Count: 1,
	}).Result()
	require.NoError(t, err)

	a.deadLetterIfExhausted(ctx, client, streamKey, group, "aegis-test.events.order.failed", id, []byte("evt"))

	deadStream := streamKey + deadLetterStreamSuffix
	msgs, err := client.XRange(ctx, deadStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	pending, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{Stream: streamKey, Group: group, Start: id, End: id, Count: 1}).Result()
	require.NoError(t, err)
	assert.Empty(t, pending, "original message should be acked once dead-lettered")
}
