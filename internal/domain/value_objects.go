package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/xid"
)

var (
	serviceNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	semVerPattern      = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// ServiceName is a validated, lowercase DNS-compatible token.
type ServiceName string

// NewServiceName validates s and returns it as a ServiceName.
func NewServiceName(s string) (ServiceName, error) {
	if len(s) < 1 || len(s) > 63 {
		return "", NewError(ErrInvalidRequest, fmt.Sprintf("service_name length must be 1-63, got %d", len(s)))
	}
	if !serviceNamePattern.MatchString(s) {
		return "", NewError(ErrInvalidRequest, fmt.Sprintf("service_name %q must match ^[a-z][a-z0-9-]*$", s))
	}
	return ServiceName(s), nil
}

func (n ServiceName) String() string { return string(n) }

// SemVer is a validated `\d+.\d+.\d+` version string.
type SemVer string

// NewSemVer validates s and returns it as a SemVer.
func NewSemVer(s string) (SemVer, error) {
	if !semVerPattern.MatchString(s) {
		return "", NewError(ErrInvalidRequest, fmt.Sprintf("version %q must match \\d+.\\d+.\\d+", s))
	}
	return SemVer(s), nil
}

func (v SemVer) String() string { return string(v) }

// InstanceID uniquely identifies a service instance within its service.
type InstanceID string

// NewInstanceID validates id as non-empty and returns it.
func NewInstanceID(id string) (InstanceID, error) {
	if strings.TrimSpace(id) == "" {
		return "", NewError(ErrInvalidRequest, "instance_id cannot be empty")
	}
	return InstanceID(id), nil
}

func (i InstanceID) String() string { return string(i) }

// DeriveInstanceID produces the default `{service_name}-{8-hex}` form used
// when the caller does not supply one. The 8-hex suffix XORs a uuid4 random
// source (google/uuid, already used for envelope ids) with the trailing
// four bytes of an xid (pid byte + per-process counter), so two instances started in the same
// process on the same host in the same tick still diverge even if one
// entropy source collides.
func DeriveInstanceID(service ServiceName) InstanceID {
	suffix := xid.New().Bytes()
	id := uuid.New()

	var mixed [4]byte
	for i := range mixed {
		mixed[i] = id[i] ^ suffix[len(suffix)-len(mixed)+i]
	}
	return InstanceID(fmt.Sprintf("%s-%x", service, mixed[:]))
}

// Status is the lifecycle status of a ServiceInstance.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusStandby   Status = "STANDBY"
	StatusUnhealthy Status = "UNHEALTHY"
	StatusShutdown  Status = "SHUTDOWN"
)

// StickyStatus is the election-facing status of an instance participating
// in a sticky-active group.
type StickyStatus string

const (
	StickyActive   StickyStatus = "ACTIVE"
	StickyStandby  StickyStatus = "STANDBY"
	StickyElecting StickyStatus = "ELECTING"
)

// SelectionStrategy is the closed set of instance-selection strategies.
type SelectionStrategy string

const (
	RoundRobin SelectionStrategy = "ROUND_ROBIN"
	Random     SelectionStrategy = "RANDOM"
	Sticky     SelectionStrategy = "STICKY"
)

// SubscriptionMode dictates how a durable subscription fans out messages.
type SubscriptionMode string

const (
	ModeCompete   SubscriptionMode = "COMPETE"
	ModeBroadcast SubscriptionMode = "BROADCAST"
	ModeExclusive SubscriptionMode = "EXCLUSIVE"
)

// Priority is the command priority (§3).
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityNormal   Priority = "NORMAL"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)
