package throttle

import (
	"bytes"
	"log"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/unkn0wn-root/resload/internal/dispatch"
	"github.com/unkn0wn-root/resload/internal/errdef"
	"github.com/unkn0wn-root/resload/internal/handler/handlertest"
	"github.com/unkn0wn-root/resload/internal/resource"
)

// fakeThrottle records calls into a shared log and defers or cancels at
// the configured stages.
type fakeThrottle struct {
	Base
	name     string
	calls    *[]string
	deferAt  map[string]bool
	cancelAt map[string]resource.NetError
}

func newFake(name string, calls *[]string) *fakeThrottle {
	return &fakeThrottle{
		name:     name,
		calls:    calls,
		deferAt:  map[string]bool{},
		cancelAt: map[string]resource.NetError{},
	}
}

func (f *fakeThrottle) Name() string { return f.name }

func (f *fakeThrottle) hit(stage string) bool {
	*f.calls = append(*f.calls, f.name+"."+stage)
	if code, ok := f.cancelAt[stage]; ok {
		f.Controller().CancelWithError(code)
		return false
	}
	if f.deferAt[stage] {
		delete(f.deferAt, stage)
		return true
	}
	return false
}

func (f *fakeThrottle) WillStartRequest(*resource.Request) bool { return f.hit("start") }

func (f *fakeThrottle) WillStartUsingNetwork(*resource.Request) bool { return f.hit("network") }

func (f *fakeThrottle) WillRedirectRequest(*resource.Request, *resource.Redirect) bool {
	return f.hit("redirect")
}

func (f *fakeThrottle) WillProcessResponse(*resource.Request, *resource.ResponseHead) bool {
	return f.hit("response")
}

type fixture struct {
	queue    *dispatch.Queue
	rec      *handlertest.Recorder
	upstream *handlertest.Controller
	handler  *Handler
	req      *resource.Request
	logs     *bytes.Buffer
}

func newFixture(t *testing.T, throttles ...Throttle) *fixture {
	t.Helper()
	req, err := resource.NewRequest(http.MethodGet, "https://example.com/a")
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	f := &fixture{
		queue:    dispatch.NewQueue(),
		rec:      handlertest.NewRecorder(0),
		upstream: &handlertest.Controller{},
		req:      req,
		logs:     &bytes.Buffer{},
	}
	f.handler = NewHandler(f.rec, req, throttles, Options{IO: f.queue, Logger: log.New(f.logs, "", 0)})
	f.handler.SetController(f.upstream)
	return f
}

func TestResumeRunsOnlyLaterThrottles(t *testing.T) {
	var calls []string
	t1 := newFake("t1", &calls)
	t2 := newFake("t2", &calls)
	t1.deferAt["start"] = true
	f := newFixture(t, t1, t2)

	deferred, err := f.handler.WillStart(f.req.URL)
	if err != nil || !deferred {
		t.Fatalf("WillStart = %v, %v; want deferred", deferred, err)
	}
	if f.req.BlockedBy() != "t1" {
		t.Fatalf("expected request blocked by t1, got %q", f.req.BlockedBy())
	}
	if !strings.Contains(f.logs.String(), `blocked by throttle "t1" at start`) {
		t.Fatalf("expected block to be logged, got %q", f.logs.String())
	}
	if f.rec.Count("start") != 0 {
		t.Fatalf("downstream must not see a deferred start")
	}

	t1.Controller().Resume()
	if f.rec.Count("start") != 0 {
		t.Fatalf("resume must run on the IO actor")
	}
	f.queue.RunUntilIdle()

	want := []string{"t1.start", "t2.start"}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("throttle calls = %v, want %v", calls, want)
	}
	if f.rec.Count("start") != 1 {
		t.Fatalf("downstream should see exactly one start, got %d", f.rec.Count("start"))
	}
	if f.upstream.ResumeCount() != 1 {
		t.Fatalf("upstream should be resumed once, got %d", f.upstream.ResumeCount())
	}
	if f.req.BlockedBy() != "" {
		t.Fatalf("blocked marker should be cleared, got %q", f.req.BlockedBy())
	}
}

func TestCursorResumesAtNextIndexForEveryPosition(t *testing.T) {
	const n = 4
	for k := 0; k < n; k++ {
		var calls []string
		throttles := make([]Throttle, n)
		for i := range throttles {
			fake := newFake(string(rune('a'+i)), &calls)
			if i == k {
				fake.deferAt["response"] = true
			}
			throttles[i] = fake
		}
		f := newFixture(t, throttles...)
		head := &resource.ResponseHead{MimeType: "text/html", Header: http.Header{}}

		deferred, err := f.handler.OnResponseStarted(head)
		if err != nil || !deferred {
			t.Fatalf("k=%d: expected deferral, got %v %v", k, deferred, err)
		}
		f.handler.Resume()
		f.queue.RunUntilIdle()

		if len(calls) != n {
			t.Fatalf("k=%d: every throttle should run exactly once, got %v", k, calls)
		}
		seen := map[string]bool{}
		for _, c := range calls {
			if seen[c] {
				t.Fatalf("k=%d: %s ran twice", k, c)
			}
			seen[c] = true
		}
		if got, ok := f.rec.Last("response"); !ok || got.Mime != "text/html" {
			t.Fatalf("k=%d: downstream should get the snapshotted head, got %+v", k, got)
		}
	}
}

func TestSynchronousCancelUnwinds(t *testing.T) {
	var calls []string
	t1 := newFake("t1", &calls)
	t2 := newFake("t2", &calls)
	t1.cancelAt["start"] = resource.ErrBlockedByClient
	f := newFixture(t, t1, t2)

	deferred, err := f.handler.WillStart(f.req.URL)
	if deferred || !errdef.Is(err, errdef.CodeThrottle) {
		t.Fatalf("expected throttle error, got %v %v", deferred, err)
	}
	if !f.handler.CancelledByThrottle() {
		t.Fatalf("cancelled-by-throttle flag not set")
	}
	if len(calls) != 1 || f.rec.Count("start") != 0 {
		t.Fatalf("nothing after the cancelling throttle may run: calls=%v", calls)
	}
	cancels := f.upstream.CancelCalls()
	if len(cancels) != 1 || cancels[0].Code != resource.ErrBlockedByClient {
		t.Fatalf("upstream cancels = %v", cancels)
	}
}

func TestResumeAfterThrottleCancelIsIgnored(t *testing.T) {
	var calls []string
	t1 := newFake("t1", &calls)
	t2 := newFake("t2", &calls)
	t1.deferAt["network"] = true
	f := newFixture(t, t1, t2)

	if deferred, _ := f.handler.OnBeforeNetworkStart(f.req.URL); !deferred {
		t.Fatalf("expected deferral")
	}
	t1.Controller().CancelWithError(resource.ErrBlockedByClient)
	t1.Controller().Resume()
	f.queue.RunUntilIdle()

	if f.rec.Count("network") != 0 || len(calls) != 1 {
		t.Fatalf("a cancelled request must not continue: calls=%v", calls)
	}
	if f.upstream.ResumeCount() != 0 {
		t.Fatalf("upstream must not be resumed after a cancel")
	}
}

func TestChildCancelDoesNotMarkThrottle(t *testing.T) {
	f := newFixture(t)
	f.rec.Controller().Cancel()
	if f.handler.CancelledByThrottle() {
		t.Fatalf("a downstream cancel is not a throttle cancel")
	}
	if len(f.upstream.CancelCalls()) != 1 {
		t.Fatalf("downstream cancel should reach upstream")
	}
}

func TestRedirectDeferralKeepsSnapshot(t *testing.T) {
	var calls []string
	t1 := newFake("t1", &calls)
	t1.deferAt["redirect"] = true
	f := newFixture(t, t1)

	target, _ := url.Parse("https://example.com/b")
	rd := &resource.Redirect{StatusCode: 302, NewMethod: http.MethodGet, NewURL: target}
	if deferred, _ := f.handler.OnRequestRedirected(rd, &resource.ResponseHead{StatusCode: 302}); !deferred {
		t.Fatalf("expected deferral")
	}
	f.handler.Resume()
	f.queue.RunUntilIdle()

	got, ok := f.rec.Last("redirect")
	if !ok || got.URL != "https://example.com/b" {
		t.Fatalf("downstream redirect = %+v", got)
	}
}

func TestDownstreamDeferralWaitsForChild(t *testing.T) {
	var calls []string
	t1 := newFake("t1", &calls)
	t1.deferAt["start"] = true
	f := newFixture(t, t1)
	f.rec.DeferStart = true

	f.handler.WillStart(f.req.URL)
	f.handler.Resume()
	f.queue.RunUntilIdle()

	if f.upstream.ResumeCount() != 0 {
		t.Fatalf("upstream resumed while the child still defers")
	}
	f.rec.Controller().Resume()
	if f.upstream.ResumeCount() != 1 {
		t.Fatalf("child resume should pass straight through")
	}
}
