package nettrace

import "time"

// Budget sets limits on the whole load and on single phases. Tolerance is
// added to every limit before comparing.
type Budget struct {
	Total     time.Duration
	Tolerance time.Duration
	Phases    map[PhaseKind]time.Duration
}

func (b Budget) Clone() Budget {
	clone := Budget{Total: b.Total, Tolerance: b.Tolerance}
	if len(b.Phases) > 0 {
		clone.Phases = make(map[PhaseKind]time.Duration, len(b.Phases))
		for k, v := range b.Phases {
			clone.Phases[k] = v
		}
	}
	return clone
}

type BudgetBreach struct {
	Kind   PhaseKind
	Limit  time.Duration
	Actual time.Duration
	Over   time.Duration
}

type BudgetReport struct {
	Breaches []BudgetBreach
}

func (r BudgetReport) WithinLimit() bool {
	return len(r.Breaches) == 0
}

// EvaluateBudget compares a timeline with a budget. Total breaches come
// first, then phases in timeline order.
func EvaluateBudget(tl *Timeline, budget Budget) BudgetReport {
	var report BudgetReport
	if tl == nil {
		return report
	}
	check := func(kind PhaseKind, limit, actual time.Duration) {
		if limit <= 0 {
			return
		}
		if over := actual - (limit + budget.Tolerance); over > 0 {
			report.Breaches = append(report.Breaches, BudgetBreach{
				Kind:   kind,
				Limit:  limit,
				Actual: actual,
				Over:   over,
			})
		}
	}

	check(PhaseTotal, budget.Total, tl.Duration)
	durations := aggregateDurations(tl)
	seen := make(map[PhaseKind]bool)
	for _, p := range tl.Phases {
		if seen[p.Kind] {
			continue
		}
		seen[p.Kind] = true
		check(p.Kind, budget.Phases[p.Kind], durations[p.Kind])
	}
	return report
}
