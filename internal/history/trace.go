package history

import (
	"time"

	"github.com/unkn0wn-root/resload/internal/nettrace"
)

// TraceSummary is the stored form of a load's timeline. Only phase
// durations survive; Timeline lays them back out end to end.
type TraceSummary struct {
	Started  time.Time                `json:"started,omitempty"`
	Duration time.Duration            `json:"duration"`
	Error    string                   `json:"error,omitempty"`
	Phases   []TracePhase             `json:"phases,omitempty"`
	Limits   map[string]time.Duration `json:"limits,omitempty"`
	Breaches []TraceBreach            `json:"breaches,omitempty"`
	Slowest  string                   `json:"slowest,omitempty"`
}

type TracePhase struct {
	Kind     string        `json:"kind"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Addr     string        `json:"addr,omitempty"`
	Reused   bool          `json:"reused,omitempty"`
	Note     string        `json:"note,omitempty"`
}

type TraceBreach struct {
	Kind   string        `json:"kind"`
	Actual time.Duration `json:"actual"`
	Over   time.Duration `json:"over"`
}

const totalLimitKey = "total"

// NewTraceSummary flattens a report. Budget limits are kept under their
// phase name, the overall limit under "total".
func NewTraceSummary(rep *nettrace.Report) *TraceSummary {
	if rep == nil || rep.Timeline == nil {
		return nil
	}
	tl := rep.Timeline
	s := &TraceSummary{
		Started:  tl.Started,
		Duration: tl.Duration,
		Error:    tl.Err,
	}
	for _, p := range tl.Phases {
		s.Phases = append(s.Phases, TracePhase{
			Kind:     string(p.Kind),
			Duration: p.Duration,
			Error:    p.Err,
			Addr:     p.Meta.Addr,
			Reused:   p.Meta.Reused,
			Note:     p.Meta.Note,
		})
	}
	if kind, _, ok := rep.Slowest(); ok {
		s.Slowest = string(kind)
	}

	limits := make(map[string]time.Duration)
	if rep.Budget.Total > 0 {
		limits[totalLimitKey] = rep.Budget.Total
	}
	for kind, d := range rep.Budget.Phases {
		if d > 0 {
			limits[string(kind)] = d
		}
	}
	if len(limits) > 0 {
		s.Limits = limits
	}
	for _, br := range rep.Breaches {
		s.Breaches = append(s.Breaches, TraceBreach{
			Kind:   string(br.Kind),
			Actual: br.Actual,
			Over:   br.Over,
		})
	}
	return s
}

// OverBudget reports whether any limit was exceeded when the load ran.
func (s *TraceSummary) OverBudget() bool {
	return s != nil && len(s.Breaches) > 0
}

// Timeline rebuilds a timeline from the summary.
func (s *TraceSummary) Timeline() *nettrace.Timeline {
	if s == nil {
		return nil
	}
	tl := &nettrace.Timeline{
		Started:  s.Started,
		Duration: s.Duration,
		Err:      s.Error,
	}
	at := s.Started
	var sum time.Duration
	for _, p := range s.Phases {
		tl.Phases = append(tl.Phases, nettrace.Phase{
			Kind:     nettrace.PhaseKind(p.Kind),
			Start:    at,
			End:      at.Add(p.Duration),
			Duration: p.Duration,
			Err:      p.Error,
			Meta:     nettrace.PhaseMeta{Addr: p.Addr, Reused: p.Reused, Note: p.Note},
		})
		at = at.Add(p.Duration)
		sum += p.Duration
	}
	if tl.Duration <= 0 {
		tl.Duration = sum
	}
	tl.Completed = tl.Started.Add(tl.Duration)
	return tl
}

// Budget returns the limits the load was checked against.
func (s *TraceSummary) Budget() nettrace.Budget {
	var b nettrace.Budget
	if s == nil {
		return b
	}
	for name, d := range s.Limits {
		if name == totalLimitKey {
			b.Total = d
			continue
		}
		if b.Phases == nil {
			b.Phases = make(map[nettrace.PhaseKind]time.Duration)
		}
		b.Phases[nettrace.PhaseKind(name)] = d
	}
	return b
}
