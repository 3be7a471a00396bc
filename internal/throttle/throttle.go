// Package throttle runs gatekeepers in front of a handler chain. Each
// Throttle may defer a checkpoint and later resume or cancel the request
// through the controller it is given.
package throttle

import (
	"github.com/unkn0wn-root/resload/internal/handler"
	"github.com/unkn0wn-root/resload/internal/resource"
)

// Throttle inspects one request at the four gated checkpoints. Returning
// true defers the checkpoint until the throttle calls Resume (or a cancel
// method) on its controller. A throttle may also cancel synchronously from
// inside a call.
type Throttle interface {
	Name() string
	SetController(c handler.Controller)

	WillStartRequest(req *resource.Request) (deferred bool)
	WillStartUsingNetwork(req *resource.Request) (deferred bool)
	WillRedirectRequest(req *resource.Request, rd *resource.Redirect) (deferred bool)
	WillProcessResponse(req *resource.Request, head *resource.ResponseHead) (deferred bool)
}

// Factory builds the throttle for one request. Throttles hold per request
// state, so every request gets its own instances.
type Factory func(req *resource.Request) Throttle

// Base supplies pass-through checkpoints and controller plumbing.
type Base struct {
	controller handler.Controller
}

func (b *Base) SetController(c handler.Controller) { b.controller = c }

// Controller returns the controller handed to the throttle.
func (b *Base) Controller() handler.Controller { return b.controller }

func (b *Base) WillStartRequest(*resource.Request) bool      { return false }
func (b *Base) WillStartUsingNetwork(*resource.Request) bool { return false }

func (b *Base) WillRedirectRequest(*resource.Request, *resource.Redirect) bool {
	return false
}

func (b *Base) WillProcessResponse(*resource.Request, *resource.ResponseHead) bool {
	return false
}
