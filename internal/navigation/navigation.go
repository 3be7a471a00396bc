// Package navigation hands a response body off to a UI side consumer
// through a bounded byte stream.
package navigation

import (
	"io"
	"log"
	"net/url"
	"sync"

	"github.com/unkn0wn-root/resload/internal/bytestream"
	"github.com/unkn0wn-root/resload/internal/dispatch"
	"github.com/unkn0wn-root/resload/internal/errdef"
	"github.com/unkn0wn-root/resload/internal/handler"
	"github.com/unkn0wn-root/resload/internal/resource"
)

const defaultReadSize = 32 * 1024

// Core receives navigation events on the UI actor. ResponseStarted and
// RequestRedirected hold the request until the core calls Proceed or
// Cancel on the navigation.
type Core interface {
	ResponseStarted(nav *Navigation)
	RequestRedirected(nav *Navigation, rd *resource.Redirect, head resource.FrozenHead)
	Completed(nav *Navigation, status resource.Status)
}

// Navigation is the UI side handle of one request.
type Navigation struct {
	ID  uint64
	URL *url.URL

	// Head and Body are set once the response has started.
	Head resource.FrozenHead
	Body io.ReadCloser

	mu      sync.Mutex
	waiting bool
	h       *Handler
}

// Proceed lets a held request continue.
func (n *Navigation) Proceed() {
	if n.take() {
		n.h.io.Post(n.h.proceed)
	}
}

// Cancel aborts a held request.
func (n *Navigation) Cancel() {
	if n.take() {
		n.h.io.Post(n.h.cancel)
	}
}

func (n *Navigation) hold() {
	n.mu.Lock()
	n.waiting = true
	n.mu.Unlock()
}

func (n *Navigation) take() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.waiting {
		return false
	}
	n.waiting = false
	return true
}

// Options configures a Handler.
type Options struct {
	Threads dispatch.Threads
	// Capacity bounds the bytes queued for the core's reader.
	Capacity int
	ReadSize int
	Logger   *log.Logger
}

// Handler is a terminal handler feeding a Core.
type Handler struct {
	req      *resource.Request
	core     Core
	io       dispatch.Runner
	ui       dispatch.Runner
	capacity int
	readSize int
	logger   *log.Logger

	controller handler.Controller
	nav        *Navigation
	stream     *bytestream.Stream
	buf        []byte
	completed  bool
}

func New(req *resource.Request, core Core, opts Options) *Handler {
	h := &Handler{
		req:      req,
		core:     core,
		io:       opts.Threads.IO,
		ui:       opts.Threads.UI,
		capacity: opts.Capacity,
		readSize: opts.ReadSize,
		logger:   opts.Logger,
	}
	if h.io == nil {
		h.io = dispatch.Inline{}
	}
	if h.ui == nil {
		h.ui = dispatch.Inline{}
	}
	if h.readSize <= 0 {
		h.readSize = defaultReadSize
	}
	if h.logger == nil {
		h.logger = log.Default()
	}
	u := *req.URL
	h.nav = &Navigation{ID: req.ID, URL: &u, h: h}
	return h
}

func (h *Handler) SetController(c handler.Controller) { h.controller = c }

func (h *Handler) WillStart(*url.URL) (bool, error) {
	if h.core == nil {
		return false, errdef.New(errdef.CodeConsumer, "request %d has no navigation core", h.req.ID)
	}
	return false, nil
}

func (h *Handler) OnBeforeNetworkStart(*url.URL) (bool, error) { return false, nil }

func (h *Handler) OnRequestRedirected(rd *resource.Redirect, head *resource.ResponseHead) (bool, error) {
	nav, core := h.nav, h.core
	target, frozen := rd.Clone(), head.Freeze()
	nav.hold()
	h.req.LogBlockedBy("navigation")
	h.ui.Post(func() { core.RequestRedirected(nav, target, frozen) })
	return true, nil
}

func (h *Handler) OnResponseStarted(head *resource.ResponseHead) (bool, error) {
	h.stream = bytestream.New(h.capacity, h.io)
	h.nav.Head = head.Freeze()
	h.nav.Body = h.stream.Reader()
	nav, core := h.nav, h.core
	nav.hold()
	h.req.LogBlockedBy("navigation")
	h.ui.Post(func() { core.ResponseStarted(nav) })
	return true, nil
}

func (h *Handler) OnWillRead(minSize int) ([]byte, error) {
	if h.stream == nil {
		return nil, errdef.New(errdef.CodeInternal, "read before response started")
	}
	size := h.readSize
	if minSize > size {
		size = minSize
	}
	if len(h.buf) < size {
		h.buf = make([]byte, size)
	}
	return h.buf, nil
}

func (h *Handler) OnReadCompleted(n int) (bool, error) {
	if h.stream == nil {
		return false, errdef.New(errdef.CodeInternal, "read before response started")
	}
	if n == 0 {
		return false, nil
	}
	if n > len(h.buf) {
		return false, errdef.New(errdef.CodeInternal, "read of %d bytes overflows buffer of %d", n, len(h.buf))
	}
	more, err := h.stream.Write(h.buf[:n], h.onSpace)
	if err != nil {
		return false, err
	}
	if !more {
		h.req.LogBlockedBy("navigation")
		return true, nil
	}
	return false, nil
}

func (h *Handler) OnResponseCompleted(status resource.Status) bool {
	if h.completed {
		return false
	}
	h.completed = true
	h.nav.take()
	if h.stream != nil {
		h.stream.Close(status.Err())
	}
	nav, core := h.nav, h.core
	if core != nil {
		h.ui.Post(func() { core.Completed(nav, status) })
	}
	return false
}

func (h *Handler) OnDataDownloaded(int) {}

func (h *Handler) onSpace() {
	if h.completed {
		return
	}
	h.req.LogBlockedBy("")
	h.controller.Resume()
}

func (h *Handler) proceed() {
	if h.completed {
		return
	}
	h.req.LogBlockedBy("")
	h.controller.Resume()
}

func (h *Handler) cancel() {
	if h.completed {
		return
	}
	h.logger.Printf("request %d: navigation cancelled by core", h.req.ID)
	h.controller.Cancel()
}
