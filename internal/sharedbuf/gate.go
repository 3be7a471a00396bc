package sharedbuf

import "sync"

// Gate caps the bytes of pool memory all in-flight requests may hold at
// once. Each request asks exactly once, when it first needs a pool.
type Gate struct {
	mu       sync.Mutex
	capacity int64
	used     int64
}

// NewGate returns a gate allowing capacity bytes. capacity <= 0 disables
// the limit.
func NewGate(capacity int64) *Gate {
	return &Gate{capacity: capacity}
}

// Acquire reserves size bytes and reports whether the reservation fit.
func (g *Gate) Acquire(size int) bool {
	if g == nil {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.capacity > 0 && g.used+int64(size) > g.capacity {
		return false
	}
	g.used += int64(size)
	return true
}

// Release returns size bytes to the gate.
func (g *Gate) Release(size int) {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.used -= int64(size)
	if g.used < 0 {
		g.used = 0
	}
	g.mu.Unlock()
}

// Used reports the bytes currently reserved.
func (g *Gate) Used() int64 {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.used
}
