// Package bytestream is a bounded byte queue between a writer on the IO
// actor and a reader on any goroutine.
package bytestream

import (
	"io"
	"sync"

	"github.com/unkn0wn-root/resload/internal/dispatch"
	"github.com/unkn0wn-root/resload/internal/errdef"
)

// DefaultCapacity bounds the queued bytes when none is given.
const DefaultCapacity = 256 * 1024

// Stream queues copies of written chunks. Write never blocks; once the
// queue is at capacity it reports so and calls back on the IO actor when
// the reader has made room.
type Stream struct {
	io       dispatch.Runner
	capacity int

	mu           sync.Mutex
	chunks       [][]byte
	queued       int
	closed       bool
	closeErr     error
	readerClosed bool
	onSpace      func()
	readable     chan struct{}
}

func New(capacity int, io dispatch.Runner) *Stream {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if io == nil {
		io = dispatch.Inline{}
	}
	return &Stream{io: io, capacity: capacity, readable: make(chan struct{}, 1)}
}

// Write queues a copy of p. more is false when the queue is full; onSpace
// is then posted to the IO actor once there is room again.
func (s *Stream) Write(p []byte, onSpace func()) (more bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readerClosed {
		return false, errdef.New(errdef.CodeConsumer, "stream reader closed")
	}
	if s.closed {
		return false, errdef.New(errdef.CodeInternal, "write after close")
	}
	if len(p) > 0 {
		s.chunks = append(s.chunks, append([]byte(nil), p...))
		s.queued += len(p)
		s.signal()
	}
	if s.queued < s.capacity {
		return true, nil
	}
	s.onSpace = onSpace
	return false, nil
}

// Close ends the stream. Readers drain what is queued, then get err, or
// io.EOF when err is nil.
func (s *Stream) Close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.closeErr = err
	s.onSpace = nil
	s.signal()
}

// Queued returns the bytes waiting for the reader.
func (s *Stream) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued
}

// Reader returns the read side of the stream.
func (s *Stream) Reader() io.ReadCloser { return reader{s} }

type reader struct{ s *Stream }

func (r reader) Read(p []byte) (int, error) { return r.s.read(p) }

func (r reader) Close() error {
	r.s.closeReader()
	return nil
}

func (s *Stream) read(p []byte) (int, error) {
	for {
		s.mu.Lock()
		if len(s.chunks) > 0 {
			n := 0
			for n < len(p) && len(s.chunks) > 0 {
				c := copy(p[n:], s.chunks[0])
				n += c
				if c == len(s.chunks[0]) {
					s.chunks[0] = nil
					s.chunks = s.chunks[1:]
				} else {
					s.chunks[0] = s.chunks[0][c:]
				}
			}
			s.queued -= n
			fn := s.takeSpace()
			s.mu.Unlock()
			s.post(fn)
			return n, nil
		}
		if s.closed {
			err := s.closeErr
			s.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return 0, err
		}
		if s.readerClosed {
			s.mu.Unlock()
			return 0, io.ErrClosedPipe
		}
		s.mu.Unlock()
		<-s.readable
	}
}

func (s *Stream) closeReader() {
	s.mu.Lock()
	s.readerClosed = true
	s.chunks = nil
	s.queued = 0
	fn := s.takeSpace()
	s.signal()
	s.mu.Unlock()
	s.post(fn)
}

// takeSpace runs with mu held.
func (s *Stream) takeSpace() func() {
	if s.onSpace == nil || s.queued >= s.capacity {
		return nil
	}
	fn := s.onSpace
	s.onSpace = nil
	return fn
}

func (s *Stream) post(fn func()) {
	if fn != nil {
		s.io.Post(fn)
	}
}

func (s *Stream) signal() {
	select {
	case s.readable <- struct{}{}:
	default:
	}
}
