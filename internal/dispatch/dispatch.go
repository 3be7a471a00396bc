// Package dispatch moves work between the two actors of a load: the IO
// actor that owns requests and handler chains, and the UI actor that owns
// policy decisions. Work crosses actors only as posted closures.
package dispatch

import (
	"context"
	"sync"
)

// Runner executes posted tasks, one at a time, in posting order.
type Runner interface {
	Post(task func())
}

// Threads names the two cooperating actors.
type Threads struct {
	IO Runner
	UI Runner
}

// Loop is a goroutine backed Runner. Its queue is unbounded so Post never
// blocks, not even from a task running on the loop itself. Tasks posted
// after the loop stops are dropped.
type Loop struct {
	name string
	wake chan struct{}
	done chan struct{}

	mu      sync.Mutex
	queue   []func()
	stopped bool
}

// NewLoop creates a loop; call Run to start draining it.
func NewLoop(name string) *Loop {
	return &Loop{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Start runs the loop on a new goroutine until ctx is done.
func Start(ctx context.Context, name string) *Loop {
	l := NewLoop(name)
	go l.Run(ctx)
	return l
}

func (l *Loop) Name() string { return l.name }

// Post appends task to the queue.
func (l *Loop) Post(task func()) {
	if task == nil {
		return
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drains tasks in posting order until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()
	for {
		task, ok := l.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-l.wake:
			}
			continue
		}
		if ctx.Err() != nil {
			return
		}
		task()
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	task := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return task, true
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
