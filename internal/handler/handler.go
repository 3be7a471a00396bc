// Package handler defines the checkpoint interface every stage of a load
// implements, the controller a stage uses to steer its own request, and
// Layered, the forwarding base all decorating stages embed.
package handler

import (
	"net/url"

	"github.com/unkn0wn-root/resload/internal/resource"
)

// Controller lets a handler resume or abort the request it deferred.
// Implementations may be called from any goroutine.
type Controller interface {
	Resume()
	Cancel()
	CancelAndIgnore()
	CancelWithError(code resource.NetError)
}

// Handler observes one in-flight fetch. Checkpoints fire in the order
//
//	WillStart -> [OnBeforeNetworkStart] -> [OnRequestRedirected]* ->
//	OnResponseStarted -> [OnWillRead/OnReadCompleted]* -> OnResponseCompleted
//
// A non nil error is terminal: the caller cancels the request and fires no
// further checkpoint other than OnResponseCompleted. Returning defer=true
// pauses the sequence until the handler calls Resume or one of the cancel
// methods on its controller.
type Handler interface {
	SetController(c Controller)

	WillStart(u *url.URL) (deferred bool, err error)
	OnBeforeNetworkStart(u *url.URL) (deferred bool, err error)
	OnRequestRedirected(rd *resource.Redirect, head *resource.ResponseHead) (deferred bool, err error)
	OnResponseStarted(head *resource.ResponseHead) (deferred bool, err error)

	// OnWillRead returns the buffer the next read lands in. minSize < 0
	// lets the handler pick its preferred size; the capacity is len(buf).
	OnWillRead(minSize int) (buf []byte, err error)

	// OnReadCompleted reports n bytes written to the last buffer. n == 0
	// marks the end of the body. defer=true is backpressure.
	OnReadCompleted(n int) (deferred bool, err error)

	// OnResponseCompleted fires exactly once per request. A handler may
	// defer it to hold the request open until it calls Resume.
	OnResponseCompleted(status resource.Status) (deferred bool)

	OnDataDownloaded(n int)
}

// UnsetMinSize asks OnWillRead for the handler's preferred buffer size.
const UnsetMinSize = -1
