package loader

import (
	"context"
	"sort"
	"sync"
	"time"
)

// CompletionHook runs after a registered load finished.
type CompletionHook func(res Result)

// Summary is a point in time view of a load.
type Summary struct {
	ID        uint64
	Session   string
	URL       string
	Stage     Stage
	BlockedBy string
	Bytes     int64
	StartedAt time.Time
	EndedAt   time.Time
	Result    *Result
}

// Host tracks in-flight loads and runs completion hooks for them.
type Host struct {
	mu      sync.RWMutex
	loads   map[uint64]*managedLoad
	onDone  []CompletionHook
	running sync.WaitGroup
}

type managedLoad struct {
	loader  *Loader
	hooks   []CompletionHook
	url     string
	started time.Time
}

func NewHost() *Host {
	return &Host{loads: make(map[uint64]*managedLoad)}
}

// OnComplete adds a hook run for every load registered afterwards.
func (h *Host) OnComplete(hook CompletionHook) {
	if hook == nil {
		return
	}
	h.mu.Lock()
	h.onDone = append(h.onDone, hook)
	h.mu.Unlock()
}

// Register starts watching l. It does not start the load.
func (h *Host) Register(l *Loader) Summary {
	if l == nil {
		return Summary{}
	}
	managed := &managedLoad{loader: l, url: l.req.URL.String(), started: time.Now()}

	h.mu.Lock()
	h.loads[l.req.ID] = managed
	managed.hooks = append(managed.hooks, h.onDone...)
	h.mu.Unlock()

	h.running.Add(1)
	go h.watch(managed)
	return managed.summary()
}

// Start registers l and starts it.
func (h *Host) Start(ctx context.Context, l *Loader) Summary {
	summary := h.Register(l)
	l.Start(ctx)
	return summary
}

func (h *Host) Cancel(id uint64) bool {
	h.mu.RLock()
	managed := h.loads[id]
	h.mu.RUnlock()
	if managed == nil {
		return false
	}
	managed.loader.Cancel()
	return true
}

// CancelAll cancels every in-flight load.
func (h *Host) CancelAll() {
	h.mu.RLock()
	loads := make([]*Loader, 0, len(h.loads))
	for _, managed := range h.loads {
		loads = append(loads, managed.loader)
	}
	h.mu.RUnlock()
	for _, l := range loads {
		l.Cancel()
	}
}

// List returns in-flight loads ordered by id.
func (h *Host) List() []Summary {
	h.mu.RLock()
	summaries := make([]Summary, 0, len(h.loads))
	for _, managed := range h.loads {
		summaries = append(summaries, managed.summary())
	}
	h.mu.RUnlock()
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries
}

func (h *Host) Get(id uint64) (Summary, bool) {
	h.mu.RLock()
	managed, ok := h.loads[id]
	h.mu.RUnlock()
	if !ok {
		return Summary{}, false
	}
	return managed.summary(), true
}

func (h *Host) AddCompletionHook(id uint64, hook CompletionHook) bool {
	if hook == nil {
		return false
	}
	h.mu.Lock()
	managed, ok := h.loads[id]
	if ok {
		managed.hooks = append(managed.hooks, hook)
	}
	h.mu.Unlock()
	return ok
}

// Wait blocks until every registered load and its hooks finished.
func (h *Host) Wait() {
	h.running.Wait()
}

func (h *Host) watch(managed *managedLoad) {
	defer h.running.Done()
	l := managed.loader
	<-l.Done()
	res := l.Result()

	h.mu.Lock()
	hooks := append([]CompletionHook(nil), managed.hooks...)
	delete(h.loads, l.req.ID)
	managed.hooks = nil
	h.mu.Unlock()

	for _, hook := range hooks {
		hook(res)
	}
}

func (m *managedLoad) summary() Summary {
	l := m.loader
	s := Summary{
		ID:        l.req.ID,
		Session:   l.session,
		Stage:     l.Stage(),
		BlockedBy: l.req.BlockedBy(),
		Bytes:     l.Bytes(),
		StartedAt: m.started,
	}
	select {
	case <-l.Done():
		res := l.result
		s.URL = res.URL
		s.EndedAt = res.Ended
		s.Result = &res
	default:
		s.URL = m.url
	}
	return s
}
