package throttle

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/unkn0wn-root/resload/internal/resource"
)

// RateThrottle spaces request starts with a token bucket shared by every
// request of a pipeline.
type RateThrottle struct {
	Base
	limiter *rate.Limiter
	after   func(time.Duration, func()) *time.Timer
}

// RateFactory returns a Factory whose throttles draw from one limiter of
// perSecond tokens with the given burst. perSecond <= 0 disables limiting.
func RateFactory(perSecond float64, burst int) Factory {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(*resource.Request) Throttle {
		return NewRateThrottle(limiter)
	}
}

func NewRateThrottle(limiter *rate.Limiter) *RateThrottle {
	return &RateThrottle{limiter: limiter, after: time.AfterFunc}
}

func (r *RateThrottle) Name() string { return "rate" }

func (r *RateThrottle) WillStartRequest(*resource.Request) bool {
	res := r.limiter.Reserve()
	if !res.OK() {
		r.Controller().CancelWithError(resource.ErrInsufficientResources)
		return false
	}
	delay := res.Delay()
	if delay <= 0 {
		return false
	}
	c := r.Controller()
	r.after(delay, c.Resume)
	return true
}
