// Package loader drives one request through a handler chain: it runs the
// checkpoints on the IO actor in order, performs the network exchange on
// worker goroutines, and is the controller of the outermost handler.
package loader

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/resload/internal/dispatch"
	"github.com/unkn0wn-root/resload/internal/errdef"
	"github.com/unkn0wn-root/resload/internal/handler"
	"github.com/unkn0wn-root/resload/internal/nettrace"
	"github.com/unkn0wn-root/resload/internal/resource"
)

// Stage is where a load currently stands.
type Stage int32

const (
	StageIdle Stage = iota
	StageStart
	StageNetworkStart
	StageOpening
	StageRedirect
	StageResponse
	StageRead
	StageEOF
	StageFinish
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageStart:
		return "start"
	case StageNetworkStart:
		return "network_start"
	case StageOpening:
		return "opening"
	case StageRedirect:
		return "redirect"
	case StageResponse:
		return "response"
	case StageRead:
		return "read"
	case StageEOF:
		return "eof"
	case StageFinish:
		return "finish"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Result describes a finished load.
type Result struct {
	ID        uint64
	Session   string
	Method    string
	URL       string
	Redirects []string
	Status    resource.Status
	Head      resource.FrozenHead
	Bytes     int64
	BlockedBy string
	Started   time.Time
	Ended     time.Time
	Timeline  *nettrace.Timeline
	// Err is the transport or checkpoint failure behind a failed status.
	Err error
}

// Options configures a Loader.
type Options struct {
	Transport Transport
	IO        dispatch.Runner
	Logger    *log.Logger
}

// Loader owns one request. All handler calls happen on the IO runner;
// the controller methods may be called from any goroutine.
type Loader struct {
	req       *resource.Request
	outer     handler.Handler
	transport Transport
	io        dispatch.Runner
	logger    *log.Logger
	session   string
	collector *nettrace.Collector

	stage atomic.Int32
	bytes atomic.Int64

	// IO actor state
	ctx         context.Context
	cancelCtx   context.CancelFunc
	started     time.Time
	deferred    bool
	resp        *Response
	head        resource.FrozenHead
	buf         []byte
	reading     bool
	pendingEOF  bool
	redirect    *resource.Redirect
	redirectAck chan error
	completed   bool
	status      resource.Status
	failure     error

	mu           sync.Mutex
	cancelled    bool
	cancelStatus resource.Status

	done   chan struct{}
	result Result
}

func New(req *resource.Request, outer handler.Handler, opts Options) *Loader {
	l := &Loader{
		req:       req,
		outer:     outer,
		transport: opts.Transport,
		io:        opts.IO,
		logger:    opts.Logger,
		session:   uuid.NewString(),
		collector: nettrace.NewCollector(),
		done:      make(chan struct{}),
	}
	if l.io == nil {
		l.io = dispatch.Inline{}
	}
	if l.logger == nil {
		l.logger = log.Default()
	}
	outer.SetController(l)
	return l
}

func (l *Loader) Request() *resource.Request { return l.req }

// Session is a random id correlating logs, history and traces.
func (l *Loader) Session() string { return l.session }

func (l *Loader) Stage() Stage { return Stage(l.stage.Load()) }

// Bytes returns the body bytes handed to the chain so far.
func (l *Loader) Bytes() int64 { return l.bytes.Load() }

// Done is closed after OnResponseCompleted fired and was not deferred.
func (l *Loader) Done() <-chan struct{} { return l.done }

// Result is valid once Done is closed.
func (l *Loader) Result() Result {
	<-l.done
	return l.result
}

// Wait blocks until the load finished or ctx is done.
func (l *Loader) Wait(ctx context.Context) (Result, error) {
	select {
	case <-l.done:
		return l.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Start begins the load. Cancelling ctx cancels the request.
func (l *Loader) Start(ctx context.Context) {
	l.ctx, l.cancelCtx = context.WithCancel(ctx)
	go func() {
		select {
		case <-l.ctx.Done():
			if ctx.Err() != nil {
				l.CancelWithError(NetErrorOf(ctx.Err()))
			}
		case <-l.done:
		}
	}()
	l.io.Post(l.start)
}

// Controller

func (l *Loader) Resume() { l.io.Post(l.resume) }

func (l *Loader) Cancel() { l.requestCancel(resource.Canceled(resource.ErrAborted)) }

func (l *Loader) CancelAndIgnore() {
	st := resource.Canceled(resource.ErrAborted)
	st.Ignored = true
	l.requestCancel(st)
}

func (l *Loader) CancelWithError(code resource.NetError) {
	l.requestCancel(resource.Canceled(code))
}

// requestCancel records the first reason and aborts the network work.
// The chain learns about it on the IO actor.
func (l *Loader) requestCancel(st resource.Status) {
	l.mu.Lock()
	if l.cancelled {
		l.mu.Unlock()
		return
	}
	l.cancelled = true
	l.cancelStatus = st
	l.mu.Unlock()
	if l.cancelCtx != nil {
		l.cancelCtx()
	}
	l.io.Post(l.processCancel)
}

func (l *Loader) cancelRequested() (resource.Status, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancelStatus, l.cancelled
}

// Everything below runs on the IO actor.

func (l *Loader) setStage(s Stage) { l.stage.Store(int32(s)) }

func (l *Loader) start() {
	l.started = time.Now()
	l.collector.Begin(nettrace.PhaseThrottle, l.started)
	l.setStage(StageStart)
	if l.stopIfCancelled() {
		return
	}
	deferred, err := l.outer.WillStart(l.req.URL)
	if l.afterCheckpoint(deferred, err) {
		return
	}
	l.networkStart()
}

func (l *Loader) networkStart() {
	l.setStage(StageNetworkStart)
	if l.stopIfCancelled() {
		return
	}
	deferred, err := l.outer.OnBeforeNetworkStart(l.req.URL)
	if l.afterCheckpoint(deferred, err) {
		return
	}
	l.open()
}

func (l *Loader) open() {
	l.setStage(StageOpening)
	if l.stopIfCancelled() {
		return
	}
	if l.transport == nil {
		l.fail(resource.Failed(resource.ErrInvalidArgument), errdef.New(errdef.CodeConfig, "no transport"))
		return
	}
	l.collector.End(nettrace.PhaseThrottle, time.Now(), nil)
	ctx, req := l.ctx, l.req
	hooks := Hooks{Redirect: l.waitRedirect, Trace: l.collector}
	go func() {
		resp, err := l.transport.Open(ctx, req, hooks)
		l.io.Post(func() { l.opened(resp, err) })
	}()
}

// waitRedirect runs on the transport goroutine and parks it until the
// chain has decided.
func (l *Loader) waitRedirect(rd *resource.Redirect, head *resource.ResponseHead) error {
	ack := make(chan error, 1)
	l.io.Post(func() { l.redirected(rd, head, ack) })
	select {
	case err := <-ack:
		return err
	case <-l.ctx.Done():
		return resource.ErrAborted
	}
}

func (l *Loader) redirected(rd *resource.Redirect, head *resource.ResponseHead, ack chan error) {
	if l.completed {
		ack <- resource.ErrAborted
		return
	}
	l.setStage(StageRedirect)
	l.redirect, l.redirectAck = rd, ack
	if l.stopIfCancelled() {
		return
	}
	deferred, err := l.outer.OnRequestRedirected(rd, head)
	if l.afterCheckpoint(deferred, err) {
		return
	}
	l.followRedirect()
}

func (l *Loader) followRedirect() {
	ack := l.redirectAck
	l.req.FollowRedirect(l.redirect)
	l.redirect, l.redirectAck = nil, nil
	l.setStage(StageOpening)
	if ack != nil {
		ack <- nil
	}
}

func (l *Loader) opened(resp *Response, err error) {
	if l.completed {
		if resp != nil {
			resp.Body.Close()
		}
		return
	}
	if l.stopIfCancelledWith(resp) {
		return
	}
	if err != nil {
		l.fail(resource.Failed(NetErrorOf(err)), err)
		return
	}
	l.resp = resp
	l.head = resp.Head.Freeze()
	l.collector.Begin(nettrace.PhaseTransfer, time.Now())
	l.setStage(StageResponse)
	deferred, cerr := l.outer.OnResponseStarted(resp.Head)
	if l.afterCheckpoint(deferred, cerr) {
		return
	}
	l.readNext()
}

func (l *Loader) readNext() {
	l.setStage(StageRead)
	if l.stopIfCancelled() {
		return
	}
	buf, err := l.outer.OnWillRead(handler.UnsetMinSize)
	if err != nil {
		l.checkpointFailed(err)
		return
	}
	if len(buf) == 0 {
		l.checkpointFailed(errdef.New(errdef.CodeInternal, "handler supplied an empty read buffer"))
		return
	}
	l.buf = buf
	l.readInto(buf)
}

func (l *Loader) readInto(buf []byte) {
	l.reading = true
	body := l.resp.Body
	go func() {
		n, err := body.Read(buf)
		l.io.Post(func() { l.readDone(n, err) })
	}()
}

func (l *Loader) readDone(n int, rerr error) {
	l.reading = false
	if l.completed {
		return
	}
	if l.stopIfCancelled() {
		return
	}
	if n > len(l.buf) {
		l.checkpointFailed(errdef.New(errdef.CodeInternal, "read %d bytes into a %d byte buffer", n, len(l.buf)))
		return
	}

	if n == 0 {
		switch {
		case rerr == nil:
			l.readInto(l.buf)
		case errors.Is(rerr, io.EOF):
			l.endOfBody(false)
		default:
			l.fail(resource.Failed(NetErrorOf(rerr)), rerr)
		}
		return
	}

	l.bytes.Add(int64(n))
	if rerr != nil && !errors.Is(rerr, io.EOF) {
		l.failure = rerr
	}
	l.pendingEOF = rerr != nil
	deferred, err := l.outer.OnReadCompleted(n)
	if l.afterCheckpoint(deferred, err) {
		return
	}
	l.afterRead()
}

func (l *Loader) afterRead() {
	switch {
	case l.failure != nil:
		l.fail(resource.Failed(NetErrorOf(l.failure)), l.failure)
	case l.pendingEOF:
		l.endOfBody(true)
	default:
		l.readNext()
	}
}

// endOfBody reports the end of the body with a zero byte read. A fresh
// buffer is requested first unless the last one is still unanswered.
func (l *Loader) endOfBody(needBuffer bool) {
	l.setStage(StageEOF)
	l.pendingEOF = false
	if l.stopIfCancelled() {
		return
	}
	if needBuffer {
		if _, err := l.outer.OnWillRead(handler.UnsetMinSize); err != nil {
			l.checkpointFailed(err)
			return
		}
	}
	deferred, err := l.outer.OnReadCompleted(0)
	if l.afterCheckpoint(deferred, err) {
		return
	}
	l.complete(resource.Success(), nil)
}

func (l *Loader) resume() {
	if l.completed && l.Stage() != StageFinish {
		return
	}
	if !l.deferred {
		l.logger.Printf("request %d: resume without a deferred checkpoint at %s", l.req.ID, l.Stage())
		return
	}
	l.deferred = false
	if l.Stage() != StageFinish && l.stopIfCancelled() {
		return
	}
	switch l.Stage() {
	case StageStart:
		l.networkStart()
	case StageNetworkStart:
		l.open()
	case StageRedirect:
		l.followRedirect()
	case StageResponse:
		l.readNext()
	case StageRead:
		l.afterRead()
	case StageEOF:
		l.complete(resource.Success(), nil)
	case StageFinish:
		l.finish()
	}
}

// afterCheckpoint handles a checkpoint outcome and reports whether the
// caller must stop.
func (l *Loader) afterCheckpoint(deferred bool, err error) bool {
	if err != nil {
		l.checkpointFailed(err)
		return true
	}
	if _, ok := l.cancelRequested(); ok {
		l.processCancel()
		return true
	}
	if deferred {
		l.deferred = true
		return true
	}
	return false
}

func (l *Loader) checkpointFailed(err error) {
	code := errdef.NetErrorOf(err)
	l.logger.Printf("request %d: %s checkpoint failed: %v", l.req.ID, l.Stage(), err)
	l.failure = err
	l.requestCancel(resource.Canceled(code))
	l.processCancel()
}

func (l *Loader) stopIfCancelled() bool {
	return l.stopIfCancelledWith(nil)
}

func (l *Loader) stopIfCancelledWith(resp *Response) bool {
	if _, ok := l.cancelRequested(); !ok {
		return false
	}
	if resp != nil {
		resp.Body.Close()
	}
	l.processCancel()
	return true
}

// processCancel completes a cancelled request once no read is in flight.
// An in-flight read is unblocked by closing the body; its completion
// comes back through readDone.
func (l *Loader) processCancel() {
	st, ok := l.cancelRequested()
	if !ok || l.completed {
		return
	}
	if l.reading {
		l.resp.Body.Close()
		return
	}
	if ack := l.redirectAck; ack != nil {
		l.redirect, l.redirectAck = nil, nil
		ack <- st.Code
	}
	l.complete(st, l.failure)
}

func (l *Loader) fail(st resource.Status, err error) {
	l.logger.Printf("request %d: %s failed: %v", l.req.ID, l.req, err)
	l.complete(st, err)
}

// complete fires OnResponseCompleted exactly once.
func (l *Loader) complete(st resource.Status, err error) {
	if l.completed {
		return
	}
	l.completed = true
	l.status = st
	if err != nil && !st.IsSuccess() {
		l.failure = err
	}
	if l.resp != nil {
		l.resp.Body.Close()
	}
	if l.cancelCtx != nil {
		l.cancelCtx()
	}
	l.setStage(StageFinish)
	l.deferred = false
	if l.outer.OnResponseCompleted(st) {
		l.deferred = true
		l.req.LogBlockedBy("completion")
		return
	}
	l.finish()
}

func (l *Loader) finish() {
	if l.Stage() == StageDone {
		return
	}
	l.setStage(StageDone)
	now := time.Now()
	if l.status.IsSuccess() {
		l.collector.End(nettrace.PhaseTransfer, now, nil)
		l.collector.Complete(now)
	} else {
		l.collector.Fail(now, l.status.Err())
	}
	redirects := l.req.RedirectChain()
	urls := make([]string, 0, len(redirects))
	for _, u := range redirects {
		urls = append(urls, u.String())
	}
	var failure error
	if !l.status.IsSuccess() {
		failure = l.failure
		if failure == nil {
			failure = l.status.Err()
		}
	}
	l.result = Result{
		ID:        l.req.ID,
		Session:   l.session,
		Method:    l.req.Method,
		URL:       l.req.URL.String(),
		Redirects: urls,
		Status:    l.status,
		Head:      l.head,
		Bytes:     l.bytes.Load(),
		BlockedBy: l.req.BlockedBy(),
		Started:   l.started,
		Ended:     now,
		Timeline:  l.collector.Timeline(),
		Err:       failure,
	}
	close(l.done)
}
