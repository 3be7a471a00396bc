package nettrace

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type step struct {
	kind  PhaseKind
	start time.Duration
	end   time.Duration
}

func collect(t *testing.T, base time.Time, steps []step) *Collector {
	t.Helper()
	c := NewCollector()
	for _, s := range steps {
		c.Begin(s.kind, base.Add(s.start))
		c.End(s.kind, base.Add(s.end), nil)
	}
	return c
}

func TestCollectorBuildsTimeline(t *testing.T) {
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	c := collect(t, base, []step{
		{PhaseThrottle, 0, 3 * time.Millisecond},
		{PhaseDNS, 3 * time.Millisecond, 7 * time.Millisecond},
		{PhaseConnect, 7 * time.Millisecond, 19 * time.Millisecond},
		{PhaseTTFB, 19 * time.Millisecond, 40 * time.Millisecond},
		{PhaseTransfer, 40 * time.Millisecond, 52 * time.Millisecond},
	})
	if c.Timeline() != nil {
		t.Fatalf("timeline must stay nil until complete")
	}
	c.Complete(base.Add(55 * time.Millisecond))

	tl := c.Timeline()
	if len(tl.Phases) != 5 || tl.Phases[0].Kind != PhaseThrottle {
		t.Fatalf("unexpected phases %+v", tl.Phases)
	}
	if tl.Duration != 55*time.Millisecond || !tl.Started.Equal(base) {
		t.Fatalf("timeline bounds %v from %v", tl.Duration, tl.Started)
	}
	if got := tl.Durations()[PhaseConnect]; got != 12*time.Millisecond {
		t.Fatalf("connect took %v", got)
	}

	tl.Phases[0].Kind = PhaseTotal
	if c.Timeline().Phases[0].Kind != PhaseThrottle {
		t.Fatalf("Timeline must hand out copies")
	}
}

func TestCollectorMetaAndDuplicates(t *testing.T) {
	base := time.Unix(100, 0)
	c := NewCollector()
	c.Begin(PhaseConnect, base)
	c.Begin(PhaseConnect, base.Add(time.Millisecond))
	c.UpdateMeta(PhaseConnect, func(m *PhaseMeta) { m.Addr = "10.0.0.1:443"; m.Reused = true })
	c.End(PhaseConnect, base.Add(4*time.Millisecond), errors.New("reset"))
	c.End(PhaseTLS, base.Add(5*time.Millisecond), nil)
	c.UpdateMeta(PhaseTLS, func(m *PhaseMeta) { m.Cached = true })
	c.Complete(base.Add(5 * time.Millisecond))

	tl := c.Timeline()
	if len(tl.Phases) != 1 {
		t.Fatalf("second begin and stray end must be ignored, got %+v", tl.Phases)
	}
	p := tl.Phases[0]
	if p.Duration != 4*time.Millisecond || p.Err != "reset" {
		t.Fatalf("connect phase %+v", p)
	}
	if p.Meta.Addr != "10.0.0.1:443" || !p.Meta.Reused || p.Meta.Cached {
		t.Fatalf("connect meta %+v", p.Meta)
	}
}

func TestCollectorFailClosesOpenPhases(t *testing.T) {
	base := time.Unix(0, 0)
	c := NewCollector()
	c.Begin(PhaseTTFB, base)
	c.Fail(base.Add(8*time.Millisecond), errors.New("canceled"))
	c.Complete(base.Add(time.Second))

	tl := c.Timeline()
	if tl.Err != "canceled" || tl.Duration != 8*time.Millisecond {
		t.Fatalf("first finish must win, got %+v", tl)
	}
	if tl.Phases[0].Err != incompleteMarker || tl.Phases[0].Duration != 8*time.Millisecond {
		t.Fatalf("dangling phase %+v", tl.Phases[0])
	}
}

func TestCollectorConcurrentEvents(t *testing.T) {
	base := time.Unix(0, 0)
	c := NewCollector()
	kinds := []PhaseKind{PhaseDNS, PhaseConnect, PhaseTLS, PhaseReqHdrs}
	var wg sync.WaitGroup
	for i, kind := range kinds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			at := base.Add(time.Duration(i) * time.Millisecond)
			c.Begin(kind, at)
			c.End(kind, at.Add(time.Millisecond), nil)
		}()
	}
	wg.Wait()
	c.Complete(base.Add(10 * time.Millisecond))
	if got := len(c.Timeline().Phases); got != len(kinds) {
		t.Fatalf("expected %d phases, got %d", len(kinds), got)
	}
	if !c.Timeline().Started.Equal(base) {
		t.Fatalf("start must be the earliest begin")
	}
}

func TestNilCollectorIsInert(t *testing.T) {
	var c *Collector
	c.Begin(PhaseDNS, time.Now())
	c.End(PhaseDNS, time.Now(), nil)
	c.Complete(time.Now())
	if c.Timeline() != nil {
		t.Fatalf("nil collector produced a timeline")
	}
}
