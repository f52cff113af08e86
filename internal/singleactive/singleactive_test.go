package singleactive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryanflavor/aegistrader/internal/clock"
	"github.com/ryanflavor/aegistrader/internal/config"
	"github.com/ryanflavor/aegistrader/internal/domain"
	"github.com/ryanflavor/aegistrader/internal/election"
	"github.com/ryanflavor/aegistrader/internal/registry"
	"github.com/ryanflavor/aegistrader/internal/router"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := config.Defaults()
	c.ServiceName = "order-service"
	c.Version = "1.0.0"
	c.TransportServers = []string{"localhost:6379"}
	c.EtcdEndpoints = []string{"localhost:2379"}
	c.RegistryTTL = 500 * time.Millisecond
	c.HeartbeatInterval = 50 * time.Millisecond
	c.LeaderTTL = 60 * time.Millisecond
	cfg, err := config.New(c)
	require.NoError(t, err)
	return cfg
}

func TestStartAcquiresElectionAndBecomesActive(t *testing.T) {
	store := newMemStore()
	reg := registry.New(store, clock.New())
	elect := election.New(store, clock.New())
	sa := New(testConfig(t), &fakeTransport{}, reg, elect, router.NewHandlerRegistry(), clock.New())

	require.NoError(t, sa.Start(context.Background()))
	defer sa.Stop(context.Background())

	require.Eventually(t, func() bool {
		return sa.Status() == domain.StickyActive
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StickyActive, sa.Instance().StickyActiveStatus)
	assert.Equal(t, "default", sa.Instance().StickyActiveGroup)
}

func TestSecondInstanceStandsByThenPromotesOnVacancy(t *testing.T) {
	store := newMemStore()
	cfg := testConfig(t)

	reg1 := registry.New(store, clock.New())
	elect1 := election.New(store, clock.New())
	sa1 := New(cfg, &fakeTransport{}, reg1, elect1, router.NewHandlerRegistry(), clock.New())
	require.NoError(t, sa1.Start(context.Background()))
	defer sa1.Stop(context.Background())
	require.Eventually(t, func() bool { return sa1.Status() == domain.StickyActive }, time.Second, 5*time.Millisecond)

	reg2 := registry.New(store, clock.New())
	elect2 := election.New(store, clock.New())
	sa2 := New(cfg, &fakeTransport{}, reg2, elect2, router.NewHandlerRegistry(), clock.New())
	require.NoError(t, sa2.Start(context.Background()))
	defer sa2.Stop(context.Background())
	require.Eventually(t, func() bool { return sa2.Status() == domain.StickyStandby }, time.Second, 5*time.Millisecond)

	require.NoError(t, sa1.Stop(context.Background()))

	require.Eventually(t, func() bool {
		return sa2.Status() == domain.StickyActive
	}, 2*time.Second, 5*time.Millisecond)
}

func TestWrapExclusiveRejectsWhenNotActive(t *testing.T) {
	store := newMemStore()
	cfg := testConfig(t)

	reg1 := registry.New(store, clock.New())
	elect1 := election.New(store, clock.New())
	sa1 := New(cfg, &fakeTransport{}, reg1, elect1, router.NewHandlerRegistry(), clock.New())
	require.NoError(t, sa1.Start(context.Background()))
	defer sa1.Stop(context.Background())
	require.Eventually(t, func() bool { return sa1.Status() == domain.StickyActive }, time.Second, 5*time.Millisecond)

	reg2 := registry.New(store, clock.New())
	elect2 := election.New(store, clock.New())
	sa2 := New(cfg, &fakeTransport{}, reg2, elect2, router.NewHandlerRegistry(), clock.New())
	require.NoError(t, sa2.Start(context.Background()))
	defer sa2.Stop(context.Background())
	require.Eventually(t, func() bool { return sa2.Status() == domain.StickyStandby }, time.Second, 5*time.Millisecond)

	called := false
	handler := sa2.WrapExclusive(func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
		called = true
		return "ok", nil
	})

	_, err := handler(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, domain.ErrNotActive, domain.CodeOf(err))
	assert.False(t, called)
}

func TestStopReleasesLease(t *testing.T) {
	store := newMemStore()
	cfg := testConfig(t)
	reg := registry.New(store, clock.New())
	elect := election.New(store, clock.New())
	sa := New(cfg, &fakeTransport{}, reg, elect, router.NewHandlerRegistry(), clock.New())

	require.NoError(t, sa.Start(context.Background()))
	require.Eventually(t, func() bool { return sa.Status() == domain.StickyActive }, time.Second, 5*time.Millisecond)

	key := domain.ElectionKey(cfg.ServiceName, cfg.GroupID)
	_, exists, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, sa.Stop(context.Background()))

	_, exists, err = store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, exists)
}
