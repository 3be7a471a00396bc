package nettrace

import (
	"sync"
	"time"
)

const incompleteMarker = "incomplete"

// Collector builds a Timeline from begin/end events. It is safe for
// concurrent use; transport callbacks arrive on their own goroutines.
type Collector struct {
	mu       sync.Mutex
	started  time.Time
	phases   []Phase
	open     map[PhaseKind]int
	timeline *Timeline
}

func NewCollector() *Collector {
	return &Collector{open: make(map[PhaseKind]int)}
}

// Begin opens a phase. A phase of the same kind that is still open is
// left as is.
func (c *Collector) Begin(kind PhaseKind, at time.Time) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.open[kind]; ok {
		return
	}
	if c.started.IsZero() || at.Before(c.started) {
		c.started = at
	}
	c.phases = append(c.phases, Phase{Kind: kind, Start: at})
	c.open[kind] = len(c.phases) - 1
}

// End closes the open phase of kind. Ending a phase that never began is
// a no-op.
func (c *Collector) End(kind PhaseKind, at time.Time, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.open[kind]
	if !ok {
		return
	}
	delete(c.open, kind)
	p := &c.phases[idx]
	p.End = at
	p.Duration = at.Sub(p.Start)
	if err != nil {
		p.Err = err.Error()
	}
}

// UpdateMeta edits the metadata of the open phase of kind.
func (c *Collector) UpdateMeta(kind PhaseKind, fn func(meta *PhaseMeta)) {
	if c == nil || fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx, ok := c.open[kind]; ok {
		fn(&c.phases[idx].Meta)
	}
}

// Complete closes dangling phases and freezes the timeline.
func (c *Collector) Complete(at time.Time) {
	c.finish(at, nil)
}

// Fail is Complete with a load level error.
func (c *Collector) Fail(at time.Time, err error) {
	c.finish(at, err)
}

func (c *Collector) finish(at time.Time, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timeline != nil {
		return
	}
	for kind, idx := range c.open {
		p := &c.phases[idx]
		p.End = at
		p.Duration = at.Sub(p.Start)
		p.Err = incompleteMarker
		delete(c.open, kind)
	}
	started := c.started
	if started.IsZero() {
		started = at
	}
	tl := &Timeline{
		Started:   started,
		Completed: at,
		Duration:  at.Sub(started),
		Phases:    append([]Phase(nil), c.phases...),
	}
	if err != nil {
		tl.Err = err.Error()
	}
	c.timeline = tl
}

// Timeline returns a copy of the frozen timeline, nil before Complete.
func (c *Collector) Timeline() *Timeline {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeline.Clone()
}
