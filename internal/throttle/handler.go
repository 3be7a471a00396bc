package throttle

import (
	"log"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/resload/internal/dispatch"
	"github.com/unkn0wn-root/resload/internal/errdef"
	"github.com/unkn0wn-root/resload/internal/handler"
	"github.com/unkn0wn-root/resload/internal/resource"
)

type stage int

const (
	deferredNone stage = iota
	deferredStart
	deferredNetworkStart
	deferredRedirect
	deferredResponse
)

func (s stage) String() string {
	switch s {
	case deferredStart:
		return "start"
	case deferredNetworkStart:
		return "network start"
	case deferredRedirect:
		return "redirect"
	case deferredResponse:
		return "response"
	default:
		return "none"
	}
}

// Handler runs its throttles, in order, before forwarding each gated
// checkpoint. It is the controller its throttles see; its child sees the
// embedded Layered and talks straight to the upstream controller.
type Handler struct {
	handler.Layered

	req       *resource.Request
	throttles []Throttle
	io        dispatch.Runner
	logger    *log.Logger

	deferred  stage
	nextIndex int
	blockedAt time.Time
	blocked   time.Duration

	// snapshot of the deferred checkpoint's input
	deferredURL      *url.URL
	deferredRedirect *resource.Redirect
	deferredHead     *resource.ResponseHead

	cancelledByThrottle atomic.Bool
}

// Options configures a Handler.
type Options struct {
	IO     dispatch.Runner
	Logger *log.Logger
}

// NewHandler wraps next with throttles. The throttles are bound to the
// handler immediately.
func NewHandler(next handler.Handler, req *resource.Request, throttles []Throttle, opts Options) *Handler {
	h := &Handler{
		Layered:   handler.NewLayered(next),
		req:       req,
		throttles: throttles,
		io:        opts.IO,
		logger:    opts.Logger,
	}
	if h.io == nil {
		h.io = dispatch.Inline{}
	}
	if h.logger == nil {
		h.logger = log.Default()
	}
	for _, t := range throttles {
		t.SetController(h)
	}
	return h
}

// FromFactories instantiates one throttle per factory for req.
func FromFactories(req *resource.Request, factories []Factory) []Throttle {
	out := make([]Throttle, 0, len(factories))
	for _, f := range factories {
		if f == nil {
			continue
		}
		if t := f(req); t != nil {
			out = append(out, t)
		}
	}
	return out
}

func (h *Handler) SetController(c handler.Controller) {
	h.Attach(c, &h.Layered)
}

// CancelledByThrottle reports whether one of the throttles cancelled the
// request.
func (h *Handler) CancelledByThrottle() bool { return h.cancelledByThrottle.Load() }

// BlockedFor returns the total time the request spent deferred by
// throttles.
func (h *Handler) BlockedFor() time.Duration { return h.blocked }

func (h *Handler) WillStart(u *url.URL) (bool, error) {
	for h.nextIndex < len(h.throttles) {
		t := h.throttles[h.nextIndex]
		h.nextIndex++
		deferred := t.WillStartRequest(h.req)
		if err := h.checkCancelled(t); err != nil {
			return false, err
		}
		if deferred {
			h.onDefer(deferredStart, t)
			h.deferredURL = u
			return true, nil
		}
	}
	h.nextIndex = 0
	return h.Next().WillStart(u)
}

func (h *Handler) OnBeforeNetworkStart(u *url.URL) (bool, error) {
	for h.nextIndex < len(h.throttles) {
		t := h.throttles[h.nextIndex]
		h.nextIndex++
		deferred := t.WillStartUsingNetwork(h.req)
		if err := h.checkCancelled(t); err != nil {
			return false, err
		}
		if deferred {
			h.onDefer(deferredNetworkStart, t)
			h.deferredURL = u
			return true, nil
		}
	}
	h.nextIndex = 0
	return h.Next().OnBeforeNetworkStart(u)
}

func (h *Handler) OnRequestRedirected(rd *resource.Redirect, head *resource.ResponseHead) (bool, error) {
	for h.nextIndex < len(h.throttles) {
		t := h.throttles[h.nextIndex]
		h.nextIndex++
		deferred := t.WillRedirectRequest(h.req, rd)
		if err := h.checkCancelled(t); err != nil {
			return false, err
		}
		if deferred {
			h.onDefer(deferredRedirect, t)
			h.deferredRedirect = rd
			h.deferredHead = head
			return true, nil
		}
	}
	h.nextIndex = 0
	return h.Next().OnRequestRedirected(rd, head)
}

func (h *Handler) OnResponseStarted(head *resource.ResponseHead) (bool, error) {
	for h.nextIndex < len(h.throttles) {
		t := h.throttles[h.nextIndex]
		h.nextIndex++
		deferred := t.WillProcessResponse(h.req, head)
		if err := h.checkCancelled(t); err != nil {
			return false, err
		}
		if deferred {
			h.onDefer(deferredResponse, t)
			h.deferredHead = head
			return true, nil
		}
	}
	h.nextIndex = 0
	return h.Next().OnResponseStarted(head)
}

// Resume continues the deferred checkpoint on the IO actor, starting with
// the throttle after the one that deferred.
func (h *Handler) Resume() {
	h.io.Post(h.resumeDeferred)
}

func (h *Handler) Cancel() {
	h.cancelledByThrottle.Store(true)
	h.Layered.Cancel()
}

func (h *Handler) CancelAndIgnore() {
	h.cancelledByThrottle.Store(true)
	h.Layered.CancelAndIgnore()
}

func (h *Handler) CancelWithError(code resource.NetError) {
	h.cancelledByThrottle.Store(true)
	h.Layered.CancelWithError(code)
}

func (h *Handler) resumeDeferred() {
	if h.cancelledByThrottle.Load() {
		return
	}
	st := h.deferred
	if st == deferredNone {
		h.logger.Printf("request %d: throttle resume with nothing deferred", h.req.ID)
		return
	}
	h.deferred = deferredNone
	h.req.LogBlockedBy("")
	h.blocked += time.Since(h.blockedAt)

	var (
		deferred bool
		err      error
	)
	switch st {
	case deferredStart:
		u := h.deferredURL
		h.deferredURL = nil
		deferred, err = h.WillStart(u)
	case deferredNetworkStart:
		u := h.deferredURL
		h.deferredURL = nil
		deferred, err = h.OnBeforeNetworkStart(u)
	case deferredRedirect:
		rd, head := h.deferredRedirect, h.deferredHead
		h.deferredRedirect, h.deferredHead = nil, nil
		deferred, err = h.OnRequestRedirected(rd, head)
	case deferredResponse:
		head := h.deferredHead
		h.deferredHead = nil
		deferred, err = h.OnResponseStarted(head)
	}

	switch {
	case err != nil:
		if !h.cancelledByThrottle.Load() {
			h.Layered.CancelWithError(errdef.NetErrorOf(err))
		}
	case !deferred:
		h.Layered.Resume()
	}
}

func (h *Handler) onDefer(st stage, t Throttle) {
	h.deferred = st
	h.blockedAt = time.Now()
	h.req.LogBlockedBy(t.Name())
	h.logger.Printf("request %d blocked by throttle %q at %s", h.req.ID, t.Name(), st)
}

func (h *Handler) checkCancelled(t Throttle) error {
	if !h.cancelledByThrottle.Load() {
		return nil
	}
	h.nextIndex = 0
	return errdef.New(errdef.CodeThrottle, "request %d cancelled by throttle %q", h.req.ID, t.Name())
}
