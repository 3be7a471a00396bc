package navigation

import (
	"io"
	"sync"

	"github.com/unkn0wn-root/resload/internal/resource"
)

// WriterCore proceeds with every navigation and copies each body to w.
type WriterCore struct {
	w io.Writer

	mu      sync.Mutex
	copying sync.WaitGroup
	heads   []resource.FrozenHead
	status  resource.Status
	written int64
	err     error
	done    chan struct{}
}

func NewWriterCore(w io.Writer) *WriterCore {
	if w == nil {
		w = io.Discard
	}
	return &WriterCore{w: w, done: make(chan struct{})}
}

func (c *WriterCore) RequestRedirected(nav *Navigation, _ *resource.Redirect, _ resource.FrozenHead) {
	nav.Proceed()
}

func (c *WriterCore) ResponseStarted(nav *Navigation) {
	c.mu.Lock()
	c.heads = append(c.heads, nav.Head)
	c.mu.Unlock()

	c.copying.Add(1)
	go func() {
		defer c.copying.Done()
		defer nav.Body.Close()
		n, err := io.Copy(c.w, nav.Body)
		c.mu.Lock()
		c.written += n
		if err != nil && c.err == nil {
			c.err = err
		}
		c.mu.Unlock()
	}()
	nav.Proceed()
}

func (c *WriterCore) Completed(_ *Navigation, status resource.Status) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	go func() {
		c.copying.Wait()
		close(c.done)
	}()
}

// Done is closed after completion once the body copy has finished.
func (c *WriterCore) Done() <-chan struct{} { return c.done }

func (c *WriterCore) Status() resource.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the copy error, including the stream's failure status.
func (c *WriterCore) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *WriterCore) Written() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written
}

// Head returns the most recent response head.
func (c *WriterCore) Head() resource.FrozenHead {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.heads) == 0 {
		return resource.FrozenHead{}
	}
	return c.heads[len(c.heads)-1]
}
