// Package buffered holds back the start of a response until its content
// type is settled, picks the handler that should consume it, and replays
// what it held back to that handler.
package buffered

import (
	"log"

	"github.com/unkn0wn-root/resload/internal/dispatch"
	"github.com/unkn0wn-root/resload/internal/errdef"
	"github.com/unkn0wn-root/resload/internal/handler"
	"github.com/unkn0wn-root/resload/internal/resource"
	"github.com/unkn0wn-root/resload/internal/sniff"
)

type state int

const (
	stateStarting state = iota
	stateBuffering
	stateProcessing
	stateReplaying
	stateStreaming
)

func (s state) String() string {
	switch s {
	case stateStarting:
		return "starting"
	case stateBuffering:
		return "buffering"
	case stateProcessing:
		return "processing"
	case stateReplaying:
		return "replaying"
	case stateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Selector chooses the handler that consumes a response once its type is
// final. Returning nil or current keeps the current handler. A
// replacement sees the response from OnResponseStarted on.
type Selector interface {
	Select(req *resource.Request, head *resource.ResponseHead, current handler.Handler) (handler.Handler, error)
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(req *resource.Request, head *resource.ResponseHead, current handler.Handler) (handler.Handler, error)

func (f SelectorFunc) Select(req *resource.Request, head *resource.ResponseHead, current handler.Handler) (handler.Handler, error) {
	return f(req, head, current)
}

// Options configures a Handler.
type Options struct {
	Selector Selector

	// Window is the sniffing window; zero means sniff.DefaultWindow.
	Window int

	// DisableSniffing settles types from headers alone.
	DisableSniffing bool

	IO     dispatch.Runner
	Logger *log.Logger
}

// Handler sniffs the body prefix when the declared type is missing or
// generic, then replays the response start and the buffered bytes to the
// selected handler. Everything after the replay passes straight through.
type Handler struct {
	handler.Layered

	req      *resource.Request
	selector Selector
	sniffer  sniff.Sniffer
	sniffing bool
	io       dispatch.Runner
	logger   *log.Logger

	state state
	head  *resource.ResponseHead

	buf       []byte
	bytesRead int
	eof       bool

	// replay progress
	responseSent bool
	replayPos    int
	eofSent      bool
}

func New(next handler.Handler, req *resource.Request, opts Options) *Handler {
	h := &Handler{
		Layered:  handler.NewLayered(next),
		req:      req,
		selector: opts.Selector,
		sniffer:  sniff.Sniffer{Window: opts.Window},
		sniffing: !opts.DisableSniffing,
		io:       opts.IO,
		logger:   opts.Logger,
	}
	if h.io == nil {
		h.io = dispatch.Inline{}
	}
	if h.logger == nil {
		h.logger = log.Default()
	}
	return h
}

func (h *Handler) SetController(c handler.Controller) {
	h.Attach(c, h)
}

func (h *Handler) bufferSize() int {
	w := h.sniffer.Window
	if w <= 0 {
		w = sniff.DefaultWindow
	}
	return 2 * w
}

func (h *Handler) OnResponseStarted(head *resource.ResponseHead) (bool, error) {
	if h.state != stateStarting {
		return false, errdef.New(errdef.CodeInternal, "response started in state %s", h.state)
	}
	h.head = head
	if h.sniffing && sniff.ShouldSniff(head) {
		h.state = stateBuffering
		return false, nil
	}
	sniff.Finalize(head)
	if head.Charset == "" {
		head.Charset = sniff.DetectCharset(nil, head.MimeType)
	}
	h.state = stateProcessing
	return h.processResponse()
}

func (h *Handler) OnWillRead(minSize int) ([]byte, error) {
	switch h.state {
	case stateBuffering:
		if h.buf == nil {
			h.buf = make([]byte, h.bufferSize())
		}
		if minSize > len(h.buf)-h.bytesRead {
			grown := make([]byte, h.bytesRead+minSize)
			copy(grown, h.buf[:h.bytesRead])
			h.buf = grown
		}
		return h.buf[h.bytesRead:], nil
	case stateProcessing, stateReplaying:
		return nil, errdef.New(errdef.CodeInternal, "read requested while %s", h.state)
	default:
		return h.Next().OnWillRead(minSize)
	}
}

func (h *Handler) OnReadCompleted(n int) (bool, error) {
	switch h.state {
	case stateBuffering:
	case stateProcessing, stateReplaying:
		return false, errdef.New(errdef.CodeInternal, "read completed while %s", h.state)
	default:
		return h.Next().OnReadCompleted(n)
	}

	if n < 0 || h.bytesRead+n > len(h.buf) {
		return false, errdef.New(errdef.CodeInternal, "read of %d bytes overflows sniff buffer", n)
	}
	h.bytesRead += n
	if n == 0 {
		h.eof = true
	}
	mimeType, done := h.sniffer.Sniff(h.head.MimeType, h.buf[:h.bytesRead], h.eof)
	if !done {
		return false, nil
	}
	sniff.Apply(h.head, mimeType, h.buf[:h.bytesRead])
	h.state = stateProcessing
	return h.processResponse()
}

// OnResponseCompleted ends buffering and replay before forwarding.
func (h *Handler) OnResponseCompleted(status resource.Status) bool {
	h.state = stateStreaming
	return h.Next().OnResponseCompleted(status)
}

// Resume continues an interrupted replay, or passes through once the
// replay is over. It always runs on the IO actor.
func (h *Handler) Resume() {
	h.io.Post(func() {
		if h.state != stateReplaying {
			h.Layered.Resume()
			return
		}
		deferred, err := h.replay()
		switch {
		case err != nil:
			h.Layered.CancelWithError(errdef.NetErrorOf(err))
		case !deferred:
			h.Layered.Resume()
		}
	})
}

func (h *Handler) processResponse() (bool, error) {
	if err := h.selectHandler(); err != nil {
		return false, err
	}
	h.state = stateReplaying
	return h.replay()
}

func (h *Handler) selectHandler() error {
	if h.selector == nil {
		return nil
	}
	current := h.Next()
	next, err := h.selector.Select(h.req, h.head, current)
	if err != nil {
		return err
	}
	if next == nil || next == current {
		return nil
	}
	h.logger.Printf("request %d: %s goes to a new handler", h.req.ID, h.head.MimeType)
	current.OnResponseCompleted(resource.Canceled(resource.ErrAborted))
	h.ReplaceNext(next, h)
	return nil
}

// replay delivers the response start, the buffered bytes and a buffered
// end of body, picking up wherever a deferral stopped it.
func (h *Handler) replay() (bool, error) {
	next := h.Next()
	if !h.responseSent {
		h.responseSent = true
		deferred, err := next.OnResponseStarted(h.head)
		if err != nil || deferred {
			return deferred, err
		}
	}
	for h.replayPos < h.bytesRead {
		dst, err := next.OnWillRead(handler.UnsetMinSize)
		if err != nil {
			return false, err
		}
		if len(dst) == 0 {
			return false, errdef.New(errdef.CodeInternal, "downstream offered an empty buffer")
		}
		n := copy(dst, h.buf[h.replayPos:h.bytesRead])
		h.replayPos += n
		deferred, err := next.OnReadCompleted(n)
		if err != nil || deferred {
			return deferred, err
		}
	}
	if h.eof && !h.eofSent {
		h.eofSent = true
		if _, err := next.OnWillRead(handler.UnsetMinSize); err != nil {
			return false, err
		}
		deferred, err := next.OnReadCompleted(0)
		if err != nil || deferred {
			return deferred, err
		}
	}
	h.state = stateStreaming
	h.buf = nil
	return false, nil
}
