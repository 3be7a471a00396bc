// Package sharedbuf implements the fixed capacity byte pool a streaming
// handler reads into and a consumer reads out of. The handler that owns a
// Pool is its only mutator; consumers get a read only View.
package sharedbuf

import (
	"github.com/unkn0wn-root/resload/internal/errdef"
)

// alignment keeps every allocation after a shrink word aligned.
const alignment = 4

// Pool hands out byte ranges in ring order. Ranges are recycled strictly
// oldest first, and outstanding ranges never exceed the pool size.
type Pool struct {
	buf      []byte
	minAlloc int
	maxAlloc int
	allocs   *allocRing
	shared   bool
}

// New creates a pool of size bytes whose allocations are at least
// minAlloc and at most maxAlloc bytes.
func New(size, minAlloc, maxAlloc int) (*Pool, error) {
	if size <= 0 || minAlloc <= 0 || maxAlloc < minAlloc || minAlloc > size {
		return nil, errdef.New(errdef.CodeConfig, "invalid pool geometry size=%d min=%d max=%d", size, minAlloc, maxAlloc)
	}
	return &Pool{
		buf:      make([]byte, size),
		minAlloc: minAlloc,
		maxAlloc: maxAlloc,
		allocs:   newAllocRing(size / minAlloc),
	}, nil
}

func (p *Pool) Size() int { return len(p.buf) }

// CanAllocate reports whether at least minAlloc contiguous bytes are free.
func (p *Pool) CanAllocate() bool {
	if p.allocs.len() == 0 {
		return true
	}
	first, _ := p.allocs.first()
	last := p.allocs.last()
	lastEnd := last.offset + last.size
	if last.offset >= first.offset {
		return len(p.buf)-lastEnd >= p.minAlloc || first.offset >= p.minAlloc
	}
	return first.offset-lastEnd >= p.minAlloc
}

// Allocate reserves the largest free range up to maxAlloc bytes and
// returns its offset and the range itself.
func (p *Pool) Allocate() (int, []byte, error) {
	if !p.CanAllocate() {
		return 0, nil, errdef.New(errdef.CodeInternal, "allocate from a full pool")
	}

	var offset, avail int
	if p.allocs.len() == 0 {
		offset, avail = 0, len(p.buf)
	} else {
		first, _ := p.allocs.first()
		last := p.allocs.last()
		lastEnd := last.offset + last.size
		switch {
		case last.offset < first.offset:
			offset, avail = lastEnd, first.offset-lastEnd
		case len(p.buf)-lastEnd >= p.minAlloc:
			offset, avail = lastEnd, len(p.buf)-lastEnd
		default:
			offset, avail = 0, first.offset
		}
	}

	size := avail
	if size > p.maxAlloc {
		size = p.maxAlloc
	}
	p.allocs.push(allocation{offset: offset, size: size})
	return offset, p.buf[offset : offset+size : offset+size], nil
}

// LastAllocationOffset returns the offset of the newest allocation.
func (p *Pool) LastAllocationOffset() (int, error) {
	last := p.allocs.last()
	if last == nil {
		return 0, errdef.New(errdef.CodeInternal, "no outstanding allocation")
	}
	return last.offset, nil
}

// ShrinkLastAllocation trims the newest allocation to n bytes, rounded up
// to the pool alignment.
func (p *Pool) ShrinkLastAllocation(n int) error {
	last := p.allocs.last()
	if last == nil {
		return errdef.New(errdef.CodeInternal, "shrink without allocation")
	}
	if n < 0 || n > last.size {
		return errdef.New(errdef.CodeInternal, "shrink to %d bytes exceeds allocation of %d", n, last.size)
	}
	aligned := (n + alignment - 1) / alignment * alignment
	if aligned > last.size {
		aligned = last.size
	}
	last.size = aligned
	return nil
}

// ReleaseLastAllocation gives the newest allocation back without it ever
// being handed to a consumer.
func (p *Pool) ReleaseLastAllocation() error {
	if !p.allocs.dropLast() {
		return errdef.New(errdef.CodeInternal, "release with no outstanding allocation")
	}
	if p.allocs.len() == 0 {
		p.allocs.reset()
	}
	return nil
}

// RecycleLeastRecentlyAllocated returns the oldest outstanding range to
// the free space.
func (p *Pool) RecycleLeastRecentlyAllocated() error {
	if _, ok := p.allocs.pop(); !ok {
		return errdef.New(errdef.CodeInternal, "recycle with no outstanding allocation")
	}
	if p.allocs.len() == 0 {
		p.allocs.reset()
	}
	return nil
}

// Outstanding returns the number of live allocations and their total size.
func (p *Pool) Outstanding() (count, bytes int) {
	count = p.allocs.len()
	for i := 0; i < count; i++ {
		bytes += p.allocs.items[(p.allocs.head+i)%len(p.allocs.items)].size
	}
	return count, bytes
}

// Share returns the read only view consumers map. It may be called more
// than once; every call returns a view of the same memory.
func (p *Pool) Share() View {
	p.shared = true
	return View{buf: p.buf}
}

// Shared reports whether a view was handed out.
func (p *Pool) Shared() bool { return p.shared }
