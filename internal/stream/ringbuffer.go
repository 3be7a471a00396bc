package stream

import "sync"

// ringBuffer keeps the most recent messages a sink handled.
type ringBuffer struct {
	mu    sync.Mutex
	items []Message
	size  int
	count int
	head  int
}

// newRingBuffer allocates a fixed-size circular buffer for messages.
func newRingBuffer(size int) *ringBuffer {
	if size <= 0 {
		size = 1
	}

	return &ringBuffer{
		items: make([]Message, size),
		size:  size,
	}
}

// append stores a message, evicting the oldest when capacity is reached.
// Payload bytes are dropped so the log never pins chunk copies.
func (r *ringBuffer) append(msg Message) {
	msg.Data = nil
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < r.size {
		idx := (r.head + r.count) % r.size
		r.items[idx] = msg
		r.count++
		return
	}

	r.items[r.head] = msg
	r.head = (r.head + 1) % r.size
}

// snapshot returns the messages in chronological order.
func (r *ringBuffer) snapshot() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return nil
	}

	out := make([]Message, r.count)
	for i := 0; i < r.count; i++ {
		idx := (r.head + i) % r.size
		out[i] = r.items[idx]
	}
	return out
}

// mailbox is an unbounded FIFO drained by one goroutine, so producers on
// the IO actor never block on a slow consumer.
type mailbox struct {
	mu     sync.Mutex
	queue  []Message
	closed bool
	wake   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (m *mailbox) push(msg Message) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// close stops accepting messages; queued ones are still delivered.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// next blocks until a message is available. ok is false once the mailbox
// is closed and drained, or stop fires.
func (m *mailbox) next(stop <-chan struct{}) (Message, bool) {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			msg := m.queue[0]
			m.queue[0] = Message{}
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return msg, true
		}
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return Message{}, false
		}
		select {
		case <-m.wake:
		case <-stop:
			return Message{}, false
		}
	}
}
