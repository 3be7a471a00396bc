package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"testing"
	"testing/iotest"
	"time"

	"github.com/unkn0wn-root/resload/internal/dispatch"
	"github.com/unkn0wn-root/resload/internal/errdef"
	"github.com/unkn0wn-root/resload/internal/handler/handlertest"
	"github.com/unkn0wn-root/resload/internal/nettrace"
	"github.com/unkn0wn-root/resload/internal/resource"
)

type fakeTransport struct {
	head      *resource.ResponseHead
	body      io.ReadCloser
	err       error
	redirects []*resource.Redirect
}

func (f *fakeTransport) Open(_ context.Context, _ *resource.Request, hooks Hooks) (*Response, error) {
	for _, rd := range f.redirects {
		if err := hooks.Redirect(rd, &resource.ResponseHead{Header: http.Header{}}); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Response{Head: f.head.Clone(), Body: f.body}, nil
}

func textHead() *resource.ResponseHead {
	return &resource.ResponseHead{StatusCode: 200, MimeType: "text/plain", Header: http.Header{}}
}

func newTestLoader(t *testing.T, rawURL string, rec *handlertest.Recorder, tr Transport) *Loader {
	t.Helper()
	req, err := resource.NewRequest(http.MethodGet, rawURL)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return New(req, rec, Options{
		Transport: tr,
		IO:        dispatch.Start(ctx, "io"),
		Logger:    log.New(io.Discard, "", 0),
	})
}

func waitResult(t *testing.T, l *Loader) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := l.Wait(ctx)
	if err != nil {
		t.Fatalf("load did not finish: %v", err)
	}
	return res
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLoadOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "hello world")
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport(TransportOptions{FollowRedirects: true, UserAgent: "resload-test"})
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	rec := handlertest.NewRecorder(4)
	l := newTestLoader(t, srv.URL+"/hello", rec, tr)
	l.Start(context.Background())
	res := waitResult(t, l)

	if !res.Status.IsSuccess() {
		t.Fatalf("status = %v (%v)", res.Status, res.Err)
	}
	if string(rec.Body()) != "hello world" || res.Bytes != 11 {
		t.Fatalf("body %q bytes %d", rec.Body(), res.Bytes)
	}
	names := rec.Names()
	if len(names) < 5 || names[0] != "start" || names[1] != "network" || names[2] != "response(text/plain)" {
		t.Fatalf("unexpected events %v", names)
	}
	if tail := names[len(names)-2:]; tail[0] != "read(0)" || tail[1] != "completed(success)" {
		t.Fatalf("body must end with a zero read then completion: %v", names)
	}
	if rec.Count("completed") != 1 {
		t.Fatalf("completion fired %d times", rec.Count("completed"))
	}
	if res.Head.StatusCode() != 200 || res.Session == "" {
		t.Fatalf("result %+v", res)
	}
	if res.Timeline == nil || res.Timeline.Durations()[nettrace.PhaseTransfer] <= 0 {
		t.Fatalf("expected transfer phase in %+v", res.Timeline)
	}
}

func TestRedirectWaitsForChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/a" {
			http.Redirect(w, r, "/b", http.StatusFound)
			return
		}
		io.WriteString(w, "landed")
	}))
	defer srv.Close()

	tr, err := NewHTTPTransport(TransportOptions{FollowRedirects: true})
	if err != nil {
		t.Fatalf("transport: %v", err)
	}
	rec := handlertest.NewRecorder(64)
	rec.DeferRedirect = true
	l := newTestLoader(t, srv.URL+"/a", rec, tr)
	l.Start(context.Background())

	waitUntil(t, func() bool { return rec.Count("redirect") == 1 })
	if l.Stage() != StageRedirect {
		t.Fatalf("stage = %s", l.Stage())
	}
	rec.Controller().Resume()
	res := waitResult(t, l)

	if !res.Status.IsSuccess() || string(rec.Body()) != "landed" {
		t.Fatalf("status %v body %q", res.Status, rec.Body())
	}
	if len(res.Redirects) != 2 || !strings.HasSuffix(res.URL, "/b") {
		t.Fatalf("redirect chain %v url %s", res.Redirects, res.URL)
	}
}

func TestRedirectLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.Path+"x", http.StatusFound)
	}))
	defer srv.Close()

	tr, _ := NewHTTPTransport(TransportOptions{FollowRedirects: true, MaxRedirects: 2})
	rec := handlertest.NewRecorder(64)
	l := newTestLoader(t, srv.URL+"/r", rec, tr)
	l.Start(context.Background())
	res := waitResult(t, l)
	if res.Status.Kind != resource.StatusFailed || res.Status.Code != resource.ErrTooManyRedirects {
		t.Fatalf("status = %v", res.Status)
	}
	if rec.Count("redirect") != 2 {
		t.Fatalf("chain saw %d redirects", rec.Count("redirect"))
	}
}

func TestCancelWhileResponseDeferred(t *testing.T) {
	rec := handlertest.NewRecorder(8)
	rec.DeferResponse = true
	l := newTestLoader(t, "https://example.com/", rec, &fakeTransport{head: textHead(), body: io.NopCloser(strings.NewReader("body"))})
	l.Start(context.Background())

	waitUntil(t, func() bool { return rec.Count("response") == 1 })
	l.CancelWithError(resource.ErrAborted)
	l.Cancel()
	res := waitResult(t, l)

	if res.Status.Kind != resource.StatusCanceled || res.Status.Code != resource.ErrAborted {
		t.Fatalf("status = %v", res.Status)
	}
	if rec.Count("completed") != 1 || rec.Count("read") != 0 {
		t.Fatalf("unexpected events %v", rec.Names())
	}
	rec.Controller().Resume()
	time.Sleep(10 * time.Millisecond)
	if rec.Count("read") != 0 {
		t.Fatalf("resume after cancel must be ignored")
	}
}

func TestCancelDrainsInFlightRead(t *testing.T) {
	pr, pw := io.Pipe()
	go pw.Write([]byte("abc"))
	rec := handlertest.NewRecorder(8)
	l := newTestLoader(t, "https://example.com/", rec, &fakeTransport{head: textHead(), body: pr})
	l.Start(context.Background())

	waitUntil(t, func() bool { return rec.Count("read") == 1 })
	l.CancelAndIgnore()
	res := waitResult(t, l)

	if res.Status.Kind != resource.StatusCanceled || !res.Status.Ignored {
		t.Fatalf("status = %v", res.Status)
	}
	if got := rec.Names(); got[len(got)-1] != "completed(canceled ERR_ABORTED (ignored))" || rec.Count("read") != 1 {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestCheckpointErrorCancelsWithMappedCode(t *testing.T) {
	rec := handlertest.NewRecorder(8)
	rec.FailResponse = errdef.New(errdef.CodeThrottle, "blocked")
	l := newTestLoader(t, "https://example.com/", rec, &fakeTransport{head: textHead(), body: io.NopCloser(strings.NewReader("x"))})
	l.Start(context.Background())
	res := waitResult(t, l)
	if res.Status.Code != resource.ErrBlockedByClient || !errdef.Is(res.Err, errdef.CodeThrottle) {
		t.Fatalf("status %v err %v", res.Status, res.Err)
	}
}

func TestTransportFailure(t *testing.T) {
	refused := &net.OpError{Op: "dial", Err: fmt.Errorf("connect: %w", syscall.ECONNREFUSED)}
	rec := handlertest.NewRecorder(8)
	l := newTestLoader(t, "https://example.com/", rec, &fakeTransport{err: errdef.Wrap(errdef.CodeNetwork, refused, "perform request")})
	l.Start(context.Background())
	res := waitResult(t, l)
	if res.Status.Kind != resource.StatusFailed || res.Status.Code != resource.ErrConnectionRefused {
		t.Fatalf("status = %v", res.Status)
	}
	if got := rec.Names(); len(got) != 3 || got[2] != "completed(failed ERR_CONNECTION_REFUSED)" {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestDeferredReadsResumeInOrder(t *testing.T) {
	rec := handlertest.NewRecorder(8)
	rec.DeferRead = true
	body := io.NopCloser(iotest.OneByteReader(strings.NewReader("abc")))
	l := newTestLoader(t, "https://example.com/", rec, &fakeTransport{head: textHead(), body: body})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		seen := 0
		for {
			select {
			case <-l.Done():
				return
			case <-time.After(time.Millisecond):
			}
			if n := rec.Count("read"); n > seen {
				seen = n
				rec.Controller().Resume()
			}
		}
	}()
	l.Start(context.Background())
	res := waitResult(t, l)
	wg.Wait()

	if !res.Status.IsSuccess() || string(rec.Body()) != "abc" || res.Bytes != 3 {
		t.Fatalf("status %v body %q bytes %d", res.Status, rec.Body(), res.Bytes)
	}
	if rec.Count("completed") != 1 {
		t.Fatalf("completion fired %d times", rec.Count("completed"))
	}
}

func TestDeferredCompletionHoldsResult(t *testing.T) {
	rec := handlertest.NewRecorder(8)
	rec.DeferCompletion = true
	l := newTestLoader(t, "https://example.com/", rec, &fakeTransport{head: textHead(), body: io.NopCloser(strings.NewReader("x"))})
	l.Start(context.Background())

	waitUntil(t, func() bool { return rec.Count("completed") == 1 })
	select {
	case <-l.Done():
		t.Fatalf("deferred completion must hold the load open")
	case <-time.After(10 * time.Millisecond):
	}
	rec.Controller().Resume()
	if res := waitResult(t, l); !res.Status.IsSuccess() {
		t.Fatalf("status = %v", res.Status)
	}
}

func TestContextCancelAbortsLoad(t *testing.T) {
	rec := handlertest.NewRecorder(8)
	rec.DeferStart = true
	l := newTestLoader(t, "https://example.com/", rec, &fakeTransport{head: textHead(), body: io.NopCloser(strings.NewReader("x"))})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	l.Start(ctx)
	res := waitResult(t, l)
	if res.Status.Code != resource.ErrTimedOut || rec.Count("network") != 0 {
		t.Fatalf("status %v events %v", res.Status, rec.Names())
	}
}

func TestNetErrorOf(t *testing.T) {
	cases := []struct {
		err  error
		want resource.NetError
	}{
		{context.DeadlineExceeded, resource.ErrTimedOut},
		{context.Canceled, resource.ErrAborted},
		{&net.DNSError{Err: "no such host", Name: "nope.invalid"}, resource.ErrNameNotResolved},
		{fmt.Errorf("dial: %w", syscall.ECONNREFUSED), resource.ErrConnectionRefused},
		{errdef.Wrap(errdef.CodeNetwork, &url.Error{Op: "Get", URL: "x", Err: resource.ErrTooManyRedirects}, "perform"), resource.ErrTooManyRedirects},
		{io.ErrUnexpectedEOF, resource.ErrConnectionReset},
		{errors.New("boom"), resource.ErrFailed},
	}
	for _, tc := range cases {
		if got := NetErrorOf(tc.err); got != tc.want {
			t.Fatalf("NetErrorOf(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
