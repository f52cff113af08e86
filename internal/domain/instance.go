package domain

import (
	"fmt"
	"time"
)

// ServiceInstance is the mutable, per-instance record visible through the
// registry KV (§3). It is owned by the instance that created it; only that
// instance ever mutates it (heartbeat, status).
type ServiceInstance struct {
	ServiceName        ServiceName            `json:"service_name" msgpack:"service_name"`
	InstanceID         InstanceID             `json:"instance_id" msgpack:"instance_id"`
	Version            SemVer                 `json:"version" msgpack:"version"`
	Status             Status                 `json:"status" msgpack:"status"`
	StickyActiveGroup  string                 `json:"sticky_active_group,omitempty" msgpack:"sticky_active_group,omitempty"`
	StickyActiveStatus StickyStatus           `json:"sticky_active_status,omitempty" msgpack:"sticky_active_status,omitempty"`
	LastHeartbeat      time.Time              `json:"last_heartbeat" msgpack:"last_heartbeat"`
	Metadata           map[string]interface{} `json:"metadata" msgpack:"metadata"`
}

// NewServiceInstance constructs a ServiceInstance from already-validated
// value objects; it performs no validation of its own. instanceID
// may be empty, in which case one is derived from service per §3.
func NewServiceInstance(service ServiceName, instanceID InstanceID, version SemVer) *ServiceInstance {
	if instanceID == "" {
		instanceID = DeriveInstanceID(service)
	}
	return &ServiceInstance{
		ServiceName:   service,
		InstanceID:    instanceID,
		Version:       version,
		Status:        StatusActive,
		LastHeartbeat: time.Now().UTC(),
		Metadata:      map[string]interface{}{},
	}
}

// Key returns the registry KV key for this instance: service-instances.{service}.{instance_id}
func (s *ServiceInstance) Key() string {
	return fmt.Sprintf("service-instances.%s.%s", s.ServiceName, s.InstanceID)
}

// IsStale reports whether LastHeartbeat is older than staleThreshold as of now.
func (s *ServiceInstance) IsStale(now time.Time, staleThreshold time.Duration) bool {
	return now.Sub(s.LastHeartbeat) > staleThreshold
}

// Touch refreshes LastHeartbeat to now (monotonically non-decreasing: a
// later call always produces a value >= any prior one since time.Now is
// monotonic on this host).
func (s *ServiceInstance) Touch() {
	s.LastHeartbeat = time.Now().UTC()
}

// StaleThreshold computes `registry_ttl + buffer` where buffer = max(ttl/6, 5s).
func StaleThreshold(registryTTL time.Duration) time.Duration {
	buffer := registryTTL / 6
	if buffer < 5*time.Second {
		buffer = 5 * time.Second
	}
	return registryTTL + buffer
}

// ElectionRecord is the value stored at elections.{service}.{group}.
type ElectionRecord struct {
	LeaderInstanceID InstanceID `json:"leader_instance_id" msgpack:"leader_instance_id"`
	AcquiredAt       time.Time  `json:"acquired_at" msgpack:"acquired_at"`
	LeaseExpiresAt   time.Time  `json:"lease_expires_at" msgpack:"lease_expires_at"`
}

// IsExpired is the safety-net staleness check from §4.3: observers must not
// trust the substrate's retention alone.
func (r *ElectionRecord) IsExpired(now time.Time) bool {
	return now.After(r.LeaseExpiresAt)
}

// ElectionKey returns the election KV key for a service/group pair.
func ElectionKey(service ServiceName, group string) string {
	return fmt.Sprintf("elections.%s.%s", service, group)
}
