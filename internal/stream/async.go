package stream

import (
	"log"
	"net/url"

	"github.com/unkn0wn-root/resload/internal/dispatch"
	"github.com/unkn0wn-root/resload/internal/errdef"
	"github.com/unkn0wn-root/resload/internal/handler"
	"github.com/unkn0wn-root/resload/internal/resource"
	"github.com/unkn0wn-root/resload/internal/sharedbuf"
)

// Default pool geometry.
const (
	DefaultBufferSize = 512 * 1024
	DefaultMinAlloc   = 4 * 1024
	DefaultMaxAlloc   = 32 * 1024
)

// Geometry sizes a request's pool.
type Geometry struct {
	Size     int
	MinAlloc int
	MaxAlloc int
}

func (g Geometry) withDefaults() Geometry {
	if g.Size <= 0 {
		g.Size = DefaultBufferSize
	}
	if g.MinAlloc <= 0 {
		g.MinAlloc = DefaultMinAlloc
	}
	if g.MaxAlloc <= 0 {
		g.MaxAlloc = DefaultMaxAlloc
	}
	if g.MinAlloc > g.Size {
		g.MinAlloc = g.Size
	}
	if g.MaxAlloc < g.MinAlloc {
		g.MaxAlloc = g.MinAlloc
	}
	return g
}

// Options configures an AsyncHandler.
type Options struct {
	Geometry Geometry
	// Gate bounds pool memory across requests; nil means unbounded.
	Gate   *sharedbuf.Gate
	IO     dispatch.Runner
	Logger *log.Logger
}

// AsyncHandler is a terminal handler that reads the body into a pool it
// shares with a Sink. It defers reading while the pool is full and
// resumes once the sink has acknowledged enough chunks.
type AsyncHandler struct {
	req      *resource.Request
	sink     Sink
	geometry Geometry
	gate     *sharedbuf.Gate
	io       dispatch.Runner
	logger   *log.Logger

	controller handler.Controller

	pool        *sharedbuf.Pool
	gateChecked bool
	reserved    bool
	sentBuffer  bool
	inflight    int
	deferred    bool
	completed   bool
	bytes       int64
}

// NewAsyncHandler binds sink to the new handler.
func NewAsyncHandler(req *resource.Request, sink Sink, opts Options) *AsyncHandler {
	h := &AsyncHandler{
		req:      req,
		sink:     sink,
		geometry: opts.Geometry.withDefaults(),
		gate:     opts.Gate,
		io:       opts.IO,
		logger:   opts.Logger,
	}
	if h.io == nil {
		h.io = dispatch.Inline{}
	}
	if h.logger == nil {
		h.logger = log.Default()
	}
	if sink != nil {
		sink.Bind(h)
	}
	return h
}

func (h *AsyncHandler) SetController(c handler.Controller) { h.controller = c }

func (h *AsyncHandler) WillStart(*url.URL) (bool, error) {
	if h.sink == nil {
		return false, errdef.New(errdef.CodeConsumer, "request %d has no consumer", h.req.ID)
	}
	return false, nil
}

func (h *AsyncHandler) OnBeforeNetworkStart(*url.URL) (bool, error) { return false, nil }

func (h *AsyncHandler) OnRequestRedirected(rd *resource.Redirect, head *resource.ResponseHead) (bool, error) {
	if err := h.sinkOrErr().Redirected(rd.Clone(), head.Freeze()); err != nil {
		return false, errdef.Wrap(errdef.CodeConsumer, err, "deliver redirect")
	}
	return false, nil
}

func (h *AsyncHandler) OnResponseStarted(head *resource.ResponseHead) (bool, error) {
	if err := h.sinkOrErr().ResponseStarted(head.Freeze()); err != nil {
		return false, errdef.Wrap(errdef.CodeConsumer, err, "deliver response")
	}
	return false, nil
}

func (h *AsyncHandler) OnWillRead(minSize int) ([]byte, error) {
	if err := h.ensurePool(); err != nil {
		return nil, err
	}
	if !h.pool.CanAllocate() {
		return nil, errdef.New(errdef.CodeInternal, "read requested while the shared buffer is full")
	}
	_, buf, err := h.pool.Allocate()
	if err != nil {
		return nil, err
	}
	if minSize > len(buf) {
		if err := h.pool.ReleaseLastAllocation(); err != nil {
			return nil, err
		}
		return nil, errdef.New(errdef.CodeInternal, "read of %d bytes exceeds chunk of %d", minSize, len(buf))
	}
	return buf, nil
}

func (h *AsyncHandler) OnReadCompleted(n int) (bool, error) {
	if h.pool == nil {
		return false, errdef.New(errdef.CodeInternal, "read completed without a buffer")
	}
	if n == 0 {
		return false, h.pool.ReleaseLastAllocation()
	}
	if err := h.pool.ShrinkLastAllocation(n); err != nil {
		return false, err
	}
	offset, err := h.pool.LastAllocationOffset()
	if err != nil {
		return false, err
	}

	sink := h.sinkOrErr()
	if !h.sentBuffer {
		if err := sink.SetDataBuffer(h.pool.Share()); err != nil {
			return false, errdef.Wrap(errdef.CodeConsumer, err, "share buffer")
		}
		h.sentBuffer = true
	}
	if err := sink.DataReceived(DataReceived{Offset: offset, Length: n, EncodedLength: n}); err != nil {
		return false, errdef.Wrap(errdef.CodeConsumer, err, "deliver data")
	}
	h.inflight++
	h.bytes += int64(n)

	if !h.pool.CanAllocate() {
		h.deferred = true
		h.req.LogBlockedBy("stream")
		return true, nil
	}
	return false, nil
}

func (h *AsyncHandler) OnResponseCompleted(status resource.Status) bool {
	if h.completed {
		return false
	}
	h.completed = true
	h.deferred = false
	if h.sink != nil {
		h.sink.Completed(status)
	}
	h.maybeRelease()
	return false
}

func (h *AsyncHandler) OnDataDownloaded(int) {}

// Ack recycles the oldest chunk on the IO actor and resumes a read that
// was waiting for space.
func (h *AsyncHandler) Ack() {
	h.io.Post(h.onAck)
}

// Bytes returns the body bytes handed to the sink.
func (h *AsyncHandler) Bytes() int64 { return h.bytes }

// Inflight returns the chunks the sink has not acknowledged yet.
func (h *AsyncHandler) Inflight() int { return h.inflight }

func (h *AsyncHandler) onAck() {
	if h.pool == nil || h.inflight == 0 {
		h.logger.Printf("request %d: unexpected chunk ack", h.req.ID)
		return
	}
	if err := h.pool.RecycleLeastRecentlyAllocated(); err != nil {
		h.logger.Printf("request %d: recycle: %v", h.req.ID, err)
		return
	}
	h.inflight--
	if h.completed {
		h.maybeRelease()
		return
	}
	if h.deferred && h.pool.CanAllocate() {
		h.deferred = false
		h.req.LogBlockedBy("")
		if h.controller != nil {
			h.controller.Resume()
		}
	}
}

// ensurePool creates the pool on first use. The gate is asked once; a
// refusal cancels the request for good.
func (h *AsyncHandler) ensurePool() error {
	if h.pool != nil {
		return nil
	}
	if h.gateChecked {
		return errdef.New(errdef.CodeResource, "request %d was refused a shared buffer", h.req.ID)
	}
	h.gateChecked = true
	if !h.gate.Acquire(h.geometry.Size) {
		h.logger.Printf("request %d: insufficient resources for a %d byte buffer", h.req.ID, h.geometry.Size)
		if h.controller != nil {
			h.controller.CancelWithError(resource.ErrInsufficientResources)
		}
		return errdef.New(errdef.CodeResource, "request %d was refused a shared buffer", h.req.ID)
	}
	h.reserved = true
	pool, err := sharedbuf.New(h.geometry.Size, h.geometry.MinAlloc, h.geometry.MaxAlloc)
	if err != nil {
		h.gate.Release(h.geometry.Size)
		h.reserved = false
		return err
	}
	h.pool = pool
	return nil
}

func (h *AsyncHandler) maybeRelease() {
	if h.reserved && h.inflight == 0 {
		h.reserved = false
		h.gate.Release(h.geometry.Size)
	}
}

func (h *AsyncHandler) sinkOrErr() Sink {
	if h.sink == nil {
		return goneSink{}
	}
	return h.sink
}

// goneSink stands in for a missing consumer.
type goneSink struct{}

func (goneSink) Bind(Acker) {}

func (goneSink) ResponseStarted(resource.FrozenHead) error { return errConsumerGone }

func (goneSink) Redirected(*resource.Redirect, resource.FrozenHead) error { return errConsumerGone }

func (goneSink) SetDataBuffer(sharedbuf.View) error { return errConsumerGone }

func (goneSink) DataReceived(DataReceived) error { return errConsumerGone }

func (goneSink) Completed(resource.Status) {}

var errConsumerGone = errdef.New(errdef.CodeConsumer, "consumer is gone")
