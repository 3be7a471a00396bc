package throttle

import (
	"sync"
	"time"

	"github.com/unkn0wn-root/resload/internal/resource"
)

// TimeoutThrottle cancels a request whose response has not started within
// the configured time.
type TimeoutThrottle struct {
	Base
	timeout time.Duration

	mu        sync.Mutex
	timer     *time.Timer
	responded bool
}

func NewTimeoutThrottle(timeout time.Duration) *TimeoutThrottle {
	return &TimeoutThrottle{timeout: timeout}
}

// TimeoutFactory returns nil when timeout is not positive.
func TimeoutFactory(timeout time.Duration) Factory {
	if timeout <= 0 {
		return nil
	}
	return func(*resource.Request) Throttle {
		return NewTimeoutThrottle(timeout)
	}
}

func (t *TimeoutThrottle) Name() string { return "timeout" }

func (t *TimeoutThrottle) WillStartRequest(*resource.Request) bool {
	c := t.Controller()
	t.mu.Lock()
	t.timer = time.AfterFunc(t.timeout, func() {
		t.mu.Lock()
		fire := !t.responded
		t.mu.Unlock()
		if fire {
			c.CancelWithError(resource.ErrTimedOut)
		}
	})
	t.mu.Unlock()
	return false
}

func (t *TimeoutThrottle) WillProcessResponse(*resource.Request, *resource.ResponseHead) bool {
	t.mu.Lock()
	t.responded = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
	return false
}
