package navigation

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/unkn0wn-root/resload/internal/dispatch"
	"github.com/unkn0wn-root/resload/internal/handler/handlertest"
	"github.com/unkn0wn-root/resload/internal/resource"
)

type recordingCore struct {
	started    []*Navigation
	redirects  []string
	completed  []resource.Status
	autoResume bool
}

func (c *recordingCore) ResponseStarted(nav *Navigation) {
	c.started = append(c.started, nav)
	if c.autoResume {
		nav.Proceed()
	}
}

func (c *recordingCore) RequestRedirected(nav *Navigation, rd *resource.Redirect, _ resource.FrozenHead) {
	c.redirects = append(c.redirects, rd.NewURL.String())
	nav.Proceed()
}

func (c *recordingCore) Completed(_ *Navigation, st resource.Status) {
	c.completed = append(c.completed, st)
}

type navFixture struct {
	io, ui *dispatch.Queue
	core   *recordingCore
	ctrl   *handlertest.Controller
	h      *Handler
}

func newNavFixture(t *testing.T, capacity int) *navFixture {
	t.Helper()
	req, err := resource.NewRequest(http.MethodGet, "https://example.com/page")
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	f := &navFixture{io: dispatch.NewQueue(), ui: dispatch.NewQueue(), core: &recordingCore{}, ctrl: &handlertest.Controller{}}
	f.h = New(req, f.core, Options{
		Threads:  dispatch.Threads{IO: f.io, UI: f.ui},
		Capacity: capacity,
		ReadSize: 8,
		Logger:   log.New(io.Discard, "", 0),
	})
	f.h.SetController(f.ctrl)
	return f
}

func (f *navFixture) pump() {
	for f.io.RunUntilIdle()+f.ui.RunUntilIdle() > 0 {
	}
}

func (f *navFixture) read(t *testing.T, data string) bool {
	t.Helper()
	buf, err := f.h.OnWillRead(-1)
	if err != nil {
		t.Fatalf("OnWillRead: %v", err)
	}
	deferred, err := f.h.OnReadCompleted(copy(buf, data))
	if err != nil {
		t.Fatalf("OnReadCompleted: %v", err)
	}
	return deferred
}

func TestResponseStartedPostsToUIAndWaits(t *testing.T) {
	f := newNavFixture(t, 64)
	deferred, err := f.h.OnResponseStarted(&resource.ResponseHead{StatusCode: 200, MimeType: "text/html", Header: http.Header{}})
	if err != nil || !deferred {
		t.Fatalf("response must wait for the core: deferred=%v err=%v", deferred, err)
	}
	if len(f.core.started) != 0 {
		t.Fatalf("core must be notified on the UI actor")
	}
	f.ui.RunUntilIdle()
	if len(f.core.started) != 1 || f.core.started[0].Head.MimeType() != "text/html" {
		t.Fatalf("core saw %+v", f.core.started)
	}
	nav := f.core.started[0]
	nav.Proceed()
	nav.Proceed()
	f.io.RunUntilIdle()
	if f.ctrl.ResumeCount() != 1 {
		t.Fatalf("proceed resumes exactly once, got %d", f.ctrl.ResumeCount())
	}
}

func TestFullStreamDefersUntilReaderDrains(t *testing.T) {
	f := newNavFixture(t, 8)
	f.core.autoResume = true
	f.h.OnResponseStarted(&resource.ResponseHead{StatusCode: 200, Header: http.Header{}})
	f.pump()
	resumes := f.ctrl.ResumeCount()

	if f.read(t, "abcd") {
		t.Fatalf("half full stream must not defer")
	}
	if !f.read(t, "efgh") {
		t.Fatalf("full stream must defer")
	}
	if f.h.req.BlockedBy() != "navigation" {
		t.Fatalf("blocked by %q", f.h.req.BlockedBy())
	}
	body := f.core.started[0].Body
	buf := make([]byte, 8)
	if n, _ := body.Read(buf); n != 8 {
		t.Fatalf("reader got %d bytes", n)
	}
	f.io.RunUntilIdle()
	if f.ctrl.ResumeCount() != resumes+1 {
		t.Fatalf("draining the stream must resume the read")
	}

	f.h.OnResponseCompleted(resource.Success())
	f.pump()
	if _, err := body.Read(buf); err != io.EOF {
		t.Fatalf("expected EOF after success, got %v", err)
	}
	if len(f.core.completed) != 1 || !f.core.completed[0].IsSuccess() {
		t.Fatalf("core completion %v", f.core.completed)
	}
}

func TestCancelClosesStreamWithStatus(t *testing.T) {
	f := newNavFixture(t, 64)
	f.core.autoResume = true
	f.h.OnResponseStarted(&resource.ResponseHead{Header: http.Header{}})
	f.pump()
	f.read(t, "part")
	f.h.OnResponseCompleted(resource.Canceled(resource.ErrAborted))
	f.h.OnResponseCompleted(resource.Canceled(resource.ErrAborted))
	f.pump()

	got, err := io.ReadAll(f.core.started[0].Body)
	if string(got) != "part" || !errors.Is(err, resource.ErrAborted) {
		t.Fatalf("read %q %v", got, err)
	}
	if len(f.core.completed) != 1 {
		t.Fatalf("completion must reach the core once, got %d", len(f.core.completed))
	}
}

func TestRedirectWaitsForCore(t *testing.T) {
	f := newNavFixture(t, 64)
	target, _ := url.Parse("https://example.com/next")
	deferred, err := f.h.OnRequestRedirected(&resource.Redirect{StatusCode: 302, NewURL: target}, &resource.ResponseHead{Header: http.Header{}})
	if err != nil || !deferred {
		t.Fatalf("redirect must wait: deferred=%v err=%v", deferred, err)
	}
	f.pump()
	if len(f.core.redirects) != 1 || f.core.redirects[0] != target.String() {
		t.Fatalf("core redirects %v", f.core.redirects)
	}
	if f.ctrl.ResumeCount() != 1 {
		t.Fatalf("core proceed must resume the redirect")
	}
}

func TestWriterCoreCopiesBody(t *testing.T) {
	var out bytes.Buffer
	core := NewWriterCore(&out)
	req, _ := resource.NewRequest(http.MethodGet, "https://example.com/")
	ctrl := &handlertest.Controller{}
	ioQueue := dispatch.NewQueue()
	h := New(req, core, Options{Threads: dispatch.Threads{IO: ioQueue}, Capacity: 4, ReadSize: 4})
	h.SetController(ctrl)

	if deferred, _ := h.OnResponseStarted(&resource.ResponseHead{StatusCode: 200, MimeType: "text/plain", Header: http.Header{}}); !deferred {
		t.Fatalf("response must be held for the core")
	}
	ioQueue.RunUntilIdle()
	if ctrl.ResumeCount() != 1 {
		t.Fatalf("writer core proceeds immediately")
	}
	for _, chunk := range []string{"abc", "def", "g"} {
		resumes := ctrl.ResumeCount()
		buf, _ := h.OnWillRead(-1)
		deferred, err := h.OnReadCompleted(copy(buf, chunk))
		if err != nil {
			t.Fatalf("OnReadCompleted: %v", err)
		}
		if !deferred {
			continue
		}
		deadline := time.Now().Add(2 * time.Second)
		for ctrl.ResumeCount() == resumes {
			if time.Now().After(deadline) {
				t.Fatalf("reader never drained")
			}
			ioQueue.RunUntilIdle()
			time.Sleep(time.Millisecond)
		}
	}
	h.OnResponseCompleted(resource.Success())
	select {
	case <-core.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("writer core did not finish")
	}
	if out.String() != "abcdefg" || core.Written() != 7 || core.Err() != nil {
		t.Fatalf("out %q written %d err %v", out.String(), core.Written(), core.Err())
	}
	if core.Head().MimeType() != "text/plain" || !core.Status().IsSuccess() {
		t.Fatalf("head %q status %v", core.Head().MimeType(), core.Status())
	}
}
