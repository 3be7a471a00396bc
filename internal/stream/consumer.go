package stream

import (
	"io"
	"sync"

	"github.com/unkn0wn-root/resload/internal/errdef"
	"github.com/unkn0wn-root/resload/internal/resource"
	"github.com/unkn0wn-root/resload/internal/sharedbuf"
)

const recentMessages = 64

// Consumer is an in-process sink. A goroutine copies every announced
// chunk out of the shared view into w and acknowledges it.
type Consumer struct {
	w     io.Writer
	inbox *mailbox
	log   *ringBuffer

	mu      sync.Mutex
	acker   Acker
	view    sharedbuf.View
	head    resource.FrozenHead
	status  resource.Status
	written int64
	err     error

	stop chan struct{}
	done chan struct{}
}

// NewConsumer starts a consumer writing bodies to w.
func NewConsumer(w io.Writer) *Consumer {
	if w == nil {
		w = io.Discard
	}
	c := &Consumer{
		w:     w,
		inbox: newMailbox(),
		log:   newRingBuffer(recentMessages),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *Consumer) Bind(a Acker) {
	c.mu.Lock()
	c.acker = a
	c.mu.Unlock()
}

func (c *Consumer) ResponseStarted(head resource.FrozenHead) error {
	c.mu.Lock()
	c.head = head
	c.mu.Unlock()
	return c.send(responseMessage(head))
}

func (c *Consumer) Redirected(rd *resource.Redirect, head resource.FrozenHead) error {
	return c.send(redirectMessage(rd, head))
}

func (c *Consumer) SetDataBuffer(view sharedbuf.View) error {
	c.mu.Lock()
	c.view = view
	c.mu.Unlock()
	return c.send(Message{Type: MessageDataBuffer, Size: view.Len()})
}

func (c *Consumer) DataReceived(d DataReceived) error {
	return c.send(dataMessage(d))
}

func (c *Consumer) Completed(status resource.Status) {
	c.send(completedMessage(status))
	c.inbox.close()
}

// Close abandons the stream. Later sink calls report the consumer gone.
func (c *Consumer) Close() {
	c.fail(errdef.New(errdef.CodeConsumer, "consumer closed"))
}

// Done is closed after the completion message was handled or the
// consumer failed.
func (c *Consumer) Done() <-chan struct{} { return c.done }

// Err returns the failure that stopped the consumer, if any.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Status returns the completion status once Done is closed.
func (c *Consumer) Status() resource.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Consumer) Head() resource.FrozenHead {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// Written returns the body bytes written so far.
func (c *Consumer) Written() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written
}

// Recent returns the latest handled messages, oldest first.
func (c *Consumer) Recent() []Message { return c.log.snapshot() }

func (c *Consumer) send(msg Message) error {
	if err := c.Err(); err != nil {
		return err
	}
	if !c.inbox.push(msg) {
		return errdef.New(errdef.CodeConsumer, "consumer already completed")
	}
	return nil
}

func (c *Consumer) run() {
	defer close(c.done)
	for {
		msg, ok := c.inbox.next(c.stop)
		if !ok {
			return
		}
		c.log.append(msg)
		switch msg.Type {
		case MessageData:
			if err := c.write(msg); err != nil {
				c.fail(err)
				return
			}
		case MessageCompleted:
			c.mu.Lock()
			c.status = StatusOf(msg)
			c.mu.Unlock()
			return
		}
	}
}

func (c *Consumer) write(msg Message) error {
	c.mu.Lock()
	view, acker := c.view, c.acker
	c.mu.Unlock()

	n, err := view.WriteRange(c.w, msg.Offset, msg.Size)
	if err != nil {
		return errdef.Wrap(errdef.CodeConsumer, err, "write chunk")
	}
	c.mu.Lock()
	c.written += int64(n)
	c.mu.Unlock()
	if acker != nil {
		acker.Ack()
	}
	return nil
}

func (c *Consumer) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
		close(c.stop)
	}
	c.mu.Unlock()
	c.inbox.close()
}
