package retry

import "time"

// FailoverPolicy is the server-side triple governing election timing (§4.7/§4.8).
type FailoverPolicy struct {
	LeaderTTL              time.Duration
	RefreshInterval        time.Duration
	ObserverResponsiveness time.Duration
}

// Preset is the closed set of named failover policies (§4.7).
type Preset string

const (
	Aggressive   Preset = "aggressive"
	Balanced     Preset = "balanced"
	Conservative Preset = "conservative"
)

// FailoverPresets returns the three documented presets.
func FailoverPresets() map[Preset]FailoverPolicy {
	return map[Preset]FailoverPolicy{
		Aggressive: {
			LeaderTTL:              2 * time.Second,
			RefreshInterval:        500 * time.Millisecond,
			ObserverResponsiveness: 500 * time.Millisecond,
		},
		Balanced: {
			LeaderTTL:              4 * time.Second,
			RefreshInterval:        time.Second + 333*time.Millisecond,
			ObserverResponsiveness: time.Second,
		},
		Conservative: {
			LeaderTTL:              8 * time.Second,
			RefreshInterval:        2*time.Second + 666*time.Millisecond,
			ObserverResponsiveness: 2 * time.Second,
		},
	}
}

// FailoverPolicyFor derives a FailoverPolicy from an explicit leader_ttl,
// refreshing every leader_ttl/3 so two refreshes can be missed before the
// lease expires (§4.7).
func FailoverPolicyFor(leaderTTL time.Duration) FailoverPolicy {
	return FailoverPolicy{
		LeaderTTL:              leaderTTL,
		RefreshInterval:        leaderTTL / 3,
		ObserverResponsiveness: leaderTTL / 4,
	}
}
