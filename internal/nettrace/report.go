package nettrace

import "time"

// Report pairs a frozen timeline with the budget it was checked against.
type Report struct {
	Timeline *Timeline
	Budget   Budget
	Breaches []BudgetBreach
}

// NewReport evaluates budget against tl. An empty budget yields no
// breaches. Returns nil for a nil timeline.
func NewReport(tl *Timeline, budget Budget) *Report {
	if tl == nil {
		return nil
	}
	rep := &Report{Timeline: tl.Clone(), Budget: budget.Clone()}
	if !budget.Empty() {
		rep.Breaches = EvaluateBudget(rep.Timeline, rep.Budget).Breaches
	}
	return rep
}

// Empty reports whether the budget sets no limit at all.
func (b Budget) Empty() bool {
	return b.Total <= 0 && b.Tolerance <= 0 && len(b.Phases) == 0
}

func (r *Report) Breached() bool {
	return r != nil && len(r.Breaches) > 0
}

// Slowest returns the phase kind with the largest summed duration. The
// throttle phase counts like any other so a policy stall shows up here.
func (r *Report) Slowest() (PhaseKind, time.Duration, bool) {
	if r == nil || r.Timeline == nil || len(r.Timeline.Phases) == 0 {
		return "", 0, false
	}
	durations := aggregateDurations(r.Timeline)
	var (
		kind    PhaseKind
		longest time.Duration = -1
	)
	for _, p := range r.Timeline.Phases {
		if d := durations[p.Kind]; d > longest {
			kind, longest = p.Kind, d
		}
	}
	return kind, longest, true
}
