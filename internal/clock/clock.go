// Package clock provides an injectable time source, per §9's ports-and-
// adapters note applied to the one piece of ambient state ("now") that
// would otherwise make heartbeat/lease/TTL logic hard to test
// deterministically.
package clock

import "time"

// Clock is the time-source port. The concurrency model (§5) forbids
// components from calling time.Now directly so tests can control elapsed
// time for heartbeat/lease/TTL scenarios.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors time.Ticker so fakes can substitute a manually-driven channel.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// System is the real clock, backed by the standard library.
type System struct{}

// New returns the real, wall-clock Clock.
func New() Clock { return System{} }

func (System) Now() time.Time                       { return time.Now() }
func (System) Sleep(d time.Duration)                 { time.Sleep(d) }
func (System) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (System) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

type systemTicker struct{ t *time.Ticker }

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }
