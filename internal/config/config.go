// Package config validates and constructs the single Config struct every
// AegisTrader component is built from (§6.5), loadable either from literal
// values (New, starting from Defaults) or from the process environment
// (FromEnv), with an optional local .env file loaded via
// github.com/joho/godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ryanflavor/aegistrader/internal/domain"
	"github.com/ryanflavor/aegistrader/internal/retry"
)

// Config is the single validating struct covering every field in §6.5.
type Config struct {
	ServiceName domain.ServiceName
	InstanceID  domain.InstanceID // optional; derived from ServiceName if empty
	Version     domain.SemVer

	RegistryTTL        time.Duration
	HeartbeatInterval  time.Duration
	EnableRegistration bool

	TransportServers []string
	EtcdEndpoints    []string

	KVBucketRegistry  string
	KVBucketElections string

	DiscoveryCacheTTL        time.Duration
	DiscoveryCacheMaxEntries int
	DiscoveryWatchEnabled    bool

	LeaderTTL time.Duration
	GroupID   string

	RetryPolicy    retry.Policy
	FailoverPolicy retry.FailoverPolicy
}

// Defaults returns a Config carrying every §6.5 default. Callers build on
// top of it (Defaults() then set ServiceName/Version/TransportServers)
// rather than New merging a partially-zero struct, since Go has no way to
// tell a caller-supplied `false` apart from an unset bool field.
func Defaults() Config {
	return Config{
		RegistryTTL:              30 * time.Second,
		HeartbeatInterval:        10 * time.Second,
		EnableRegistration:       true,
		KVBucketRegistry:         "service_registry",
		KVBucketElections:        "sticky_active",
		DiscoveryCacheTTL:        10 * time.Second,
		DiscoveryCacheMaxEntries: 1000,
		DiscoveryWatchEnabled:    true,
		GroupID:                  "default",
		RetryPolicy:              retry.DefaultPolicy(),
		FailoverPolicy:           retry.FailoverPresets()[retry.Balanced],
	}
}

// New validates c and derives FailoverPolicy from LeaderTTL when the caller
// set one, then returns a copy. Callers are expected to start from
// Defaults() and override only the fields they care about.
func New(c Config) (*Config, error) {
	if c.LeaderTTL > 0 {
		c.FailoverPolicy = retry.FailoverPolicyFor(c.LeaderTTL)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate enforces §6.5/§4.6's invariants eagerly (constructor-validation
// per §9): heartbeat_interval must be strictly less than registry_ttl,
// service_name must be set and well-formed, version must be set, and at
// least one transport server given.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return domain.NewError(domain.ErrInvalidRequest, "service_name is required")
	}
	if _, err := domain.NewServiceName(c.ServiceName.String()); err != nil {
		return err
	}
	if c.Version == "" {
		return domain.NewError(domain.ErrInvalidRequest, "version is required")
	}
	if len(c.TransportServers) == 0 {
		return domain.NewError(domain.ErrInvalidRequest, "transport_servers must contain at least one endpoint")
	}
	if len(c.EtcdEndpoints) == 0 {
		return domain.NewError(domain.ErrInvalidRequest, "etcd_endpoints must contain at least one endpoint")
	}
	if c.RegistryTTL <= 0 {
		return domain.NewError(domain.ErrInvalidRequest, "registry_ttl_seconds must be > 0")
	}
	if c.HeartbeatInterval >= c.RegistryTTL {
		return domain.NewError(domain.ErrInvalidRequest,
			fmt.Sprintf("heartbeat_interval (%s) must be < registry_ttl (%s)", c.HeartbeatInterval, c.RegistryTTL))
	}
	if c.DiscoveryCacheMaxEntries <= 0 {
		return domain.NewError(domain.ErrInvalidRequest, "discovery_cache_max_entries must be > 0")
	}
	if c.LeaderTTL < 0 {
		return domain.NewError(domain.ErrInvalidRequest, "leader_ttl_seconds must be >= 0")
	}
	return nil
}

// StaleThreshold returns the discovery staleness threshold derived from
// this config's registry TTL (§4.6 testable properties 1/2).
func (c *Config) StaleThreshold() time.Duration {
	return domain.StaleThreshold(c.RegistryTTL)
}

// FromEnv builds a Config from the process environment on top of Defaults,
// loading a local .env file first (ignored if absent), reading
// AEGIS_*-prefixed env vars.
func FromEnv() (*Config, error) {
	_ = godotenv.Load()

	c := Defaults()
	c.ServiceName = domain.ServiceName(os.Getenv("AEGIS_SERVICE_NAME"))
	c.InstanceID = domain.InstanceID(os.Getenv("AEGIS_INSTANCE_ID"))
	c.Version = domain.SemVer(os.Getenv("AEGIS_VERSION"))

	if servers := os.Getenv("AEGIS_TRANSPORT_SERVERS"); servers != "" {
		c.TransportServers = splitAndTrim(servers)
	}
	if endpoints := os.Getenv("AEGIS_ETCD_ENDPOINTS"); endpoints != "" {
		c.EtcdEndpoints = splitAndTrim(endpoints)
	}
	if err := applyDuration(&c.RegistryTTL, "AEGIS_REGISTRY_TTL_SECONDS"); err != nil {
		return nil, err
	}
	if err := applyDuration(&c.HeartbeatInterval, "AEGIS_HEARTBEAT_INTERVAL_SECONDS"); err != nil {
		return nil, err
	}
	if err := applyBool(&c.EnableRegistration, "AEGIS_ENABLE_REGISTRATION"); err != nil {
		return nil, err
	}
	if v := os.Getenv("AEGIS_KV_BUCKET_REGISTRY"); v != "" {
		c.KVBucketRegistry = v
	}
	if v := os.Getenv("AEGIS_KV_BUCKET_ELECTIONS"); v != "" {
		c.KVBucketElections = v
	}
	if err := applyDuration(&c.DiscoveryCacheTTL, "AEGIS_DISCOVERY_CACHE_TTL_SECONDS"); err != nil {
		return nil, err
	}
	if v := os.Getenv("AEGIS_DISCOVERY_CACHE_MAX_ENTRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, domain.NewError(domain.ErrInvalidRequest, "AEGIS_DISCOVERY_CACHE_MAX_ENTRIES must be an integer: "+err.Error())
		}
		c.DiscoveryCacheMaxEntries = n
	}
	if err := applyBool(&c.DiscoveryWatchEnabled, "AEGIS_DISCOVERY_WATCH_ENABLED"); err != nil {
		return nil, err
	}
	if err := applyDuration(&c.LeaderTTL, "AEGIS_LEADER_TTL_SECONDS"); err != nil {
		return nil, err
	}
	if v := os.Getenv("AEGIS_GROUP_ID"); v != "" {
		c.GroupID = v
	}

	return New(c)
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyDuration(dst *time.Duration, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	seconds, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return domain.NewError(domain.ErrInvalidRequest, fmt.Sprintf("%s must be a number of seconds: %v", name, err))
	}
	*dst = time.Duration(seconds * float64(time.Second))
	return nil
}

func applyBool(dst *bool, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return domain.NewError(domain.ErrInvalidRequest, fmt.Sprintf("%s must be a boolean: %v", name, err))
	}
	*dst = b
	return nil
}
