// Package nettrace records the phases of one load as a timeline and checks
// them against budgets.
package nettrace

import "time"

type PhaseKind string

const (
	PhaseThrottle PhaseKind = "throttle"
	PhaseDNS      PhaseKind = "dns"
	PhaseConnect  PhaseKind = "connect"
	PhaseTLS      PhaseKind = "tls"
	PhaseReqHdrs  PhaseKind = "request_headers"
	PhaseTTFB     PhaseKind = "ttfb"
	PhaseTransfer PhaseKind = "transfer"
	PhaseTotal    PhaseKind = "total"
)

// PhaseMeta carries optional details about a phase.
type PhaseMeta struct {
	Addr   string
	Reused bool
	Cached bool
	Note   string
}

type Phase struct {
	Kind     PhaseKind
	Start    time.Time
	End      time.Time
	Duration time.Duration
	Err      string
	Meta     PhaseMeta
}

// Timeline is the ordered list of phases of one load.
type Timeline struct {
	Started   time.Time
	Completed time.Time
	Duration  time.Duration
	Phases    []Phase
	Err       string
}

func (tl *Timeline) Clone() *Timeline {
	if tl == nil {
		return nil
	}
	clone := *tl
	if len(tl.Phases) > 0 {
		clone.Phases = make([]Phase, len(tl.Phases))
		copy(clone.Phases, tl.Phases)
	}
	return &clone
}

// Durations sums the time spent per phase kind.
func (tl *Timeline) Durations() map[PhaseKind]time.Duration {
	return aggregateDurations(tl)
}

func aggregateDurations(tl *Timeline) map[PhaseKind]time.Duration {
	out := make(map[PhaseKind]time.Duration)
	if tl == nil {
		return out
	}
	for _, p := range tl.Phases {
		out[p.Kind] += p.Duration
	}
	return out
}
