package sharedbuf

// allocation is one outstanding byte range of the pool.
type allocation struct {
	offset int
	size   int
}

// allocRing is a growable circular FIFO of allocations. The oldest entry
// sits at head.
type allocRing struct {
	items []allocation
	head  int
	count int
}

func newAllocRing(size int) *allocRing {
	if size <= 0 {
		size = 1
	}
	return &allocRing{items: make([]allocation, size)}
}

func (r *allocRing) len() int { return r.count }

// push appends the newest allocation, doubling capacity when full.
func (r *allocRing) push(a allocation) {
	if r.count == len(r.items) {
		grown := make([]allocation, len(r.items)*2)
		for i := 0; i < r.count; i++ {
			grown[i] = r.items[(r.head+i)%len(r.items)]
		}
		r.items = grown
		r.head = 0
	}
	r.items[(r.head+r.count)%len(r.items)] = a
	r.count++
}

// pop removes and returns the oldest allocation.
func (r *allocRing) pop() (allocation, bool) {
	if r.count == 0 {
		return allocation{}, false
	}
	a := r.items[r.head]
	r.items[r.head] = allocation{}
	r.head = (r.head + 1) % len(r.items)
	r.count--
	return a, true
}

// dropLast removes the newest allocation.
func (r *allocRing) dropLast() bool {
	if r.count == 0 {
		return false
	}
	r.items[(r.head+r.count-1)%len(r.items)] = allocation{}
	r.count--
	return true
}

func (r *allocRing) first() (allocation, bool) {
	if r.count == 0 {
		return allocation{}, false
	}
	return r.items[r.head], true
}

// last returns a pointer to the newest allocation so it can be trimmed.
func (r *allocRing) last() *allocation {
	if r.count == 0 {
		return nil
	}
	return &r.items[(r.head+r.count-1)%len(r.items)]
}

func (r *allocRing) reset() {
	for i := range r.items {
		r.items[i] = allocation{}
	}
	r.head = 0
	r.count = 0
}
