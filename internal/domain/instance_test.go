package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestServiceInstanceIsStale(t *testing.T) {
	svc, _ := NewServiceName("order-service")
	ver, _ := NewSemVer("1.0.0")
	inst := NewServiceInstance(svc, "", ver)

	now := inst.LastHeartbeat
	threshold := StaleThreshold(30 * time.Second)

	assert.False(t, inst.IsStale(now, threshold))
	assert.False(t, inst.IsStale(now.Add(threshold-time.Second), threshold))
	assert.True(t, inst.IsStale(now.Add(threshold+time.Second), threshold))
}

func TestStaleThreshold(t *testing.T) {
	// buffer = ttl/6, minimum 5s
	assert.Equal(t, 35*time.Second, StaleThreshold(30*time.Second))
	assert.Equal(t, 15*time.Second, StaleThreshold(10*time.Second)) // buffer floor 5s
	assert.Equal(t, 70*time.Second, StaleThreshold(60*time.Second))
}

func TestServiceInstanceKey(t *testing.T) {
	svc, _ := NewServiceName("order-service")
	ver, _ := NewSemVer("1.0.0")
	id, _ := NewInstanceID("order-service-a1b2c3d4")
	inst := NewServiceInstance(svc, id, ver)

	assert.Equal(t, "service-instances.order-service.order-service-a1b2c3d4", inst.Key())
}

func TestElectionRecordIsExpired(t *testing.T) {
	now := time.Now()
	rec := &ElectionRecord{
		LeaderInstanceID: "svc-1",
		AcquiredAt:       now,
		LeaseExpiresAt:   now.Add(2 * time.Second),
	}

	assert.False(t, rec.IsExpired(now.Add(time.Second)))
	assert.True(t, rec.IsExpired(now.Add(3*time.Second)))
}

func TestElectionKey(t *testing.T) {
	svc, _ := NewServiceName("order-service")
	assert.Equal(t, "elections.order-service.default", ElectionKey(svc, "default"))
}
