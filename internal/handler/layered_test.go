package handler_test

import (
	"net/url"
	"testing"

	"github.com/unkn0wn-root/resload/internal/handler"
	"github.com/unkn0wn-root/resload/internal/handler/handlertest"
	"github.com/unkn0wn-root/resload/internal/resource"
)

type upperMime struct {
	handler.Layered
	seen int
}

func (u *upperMime) OnResponseStarted(head *resource.ResponseHead) (bool, error) {
	u.seen++
	head.MimeType = "text/html"
	return u.Layered.OnResponseStarted(head)
}

func TestLayeredForwardsEveryCheckpoint(t *testing.T) {
	rec := handlertest.NewRecorder(16)
	h := &upperMime{Layered: handler.NewLayered(rec)}
	ctrl := &handlertest.Controller{}
	h.SetController(ctrl)

	u, _ := url.Parse("https://example.com/")
	if _, err := h.WillStart(u); err != nil {
		t.Fatalf("will start: %v", err)
	}
	if _, err := h.OnBeforeNetworkStart(u); err != nil {
		t.Fatalf("network start: %v", err)
	}
	if _, err := h.OnResponseStarted(&resource.ResponseHead{}); err != nil {
		t.Fatalf("response: %v", err)
	}
	buf, err := h.OnWillRead(handler.UnsetMinSize)
	if err != nil || len(buf) != 16 {
		t.Fatalf("will read: %v len=%d", err, len(buf))
	}
	copy(buf, "hello")
	if _, err := h.OnReadCompleted(5); err != nil {
		t.Fatalf("read: %v", err)
	}
	h.OnResponseCompleted(resource.Success())

	want := []string{"start", "network", "response(text/html)", "read(5)", "completed(success)"}
	got := rec.Names()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if string(rec.Body()) != "hello" {
		t.Fatalf("unexpected body %q", rec.Body())
	}
	if h.seen != 1 {
		t.Fatalf("override not used")
	}
}

func TestLayeredInterposesAsChildController(t *testing.T) {
	rec := handlertest.NewRecorder(0)
	h := &upperMime{Layered: handler.NewLayered(rec)}
	ctrl := &handlertest.Controller{}
	h.SetController(ctrl)

	child := rec.Controller()
	if child == handler.Controller(ctrl) {
		t.Fatalf("child must see the layer, not the outer controller")
	}
	child.Resume()
	child.CancelWithError(resource.ErrTimedOut)
	child.CancelAndIgnore()

	if ctrl.ResumeCount() != 1 {
		t.Fatalf("expected resume to reach outer controller")
	}
	cancels := ctrl.CancelCalls()
	if len(cancels) != 2 || cancels[0].Code != resource.ErrTimedOut || !cancels[1].Ignored {
		t.Fatalf("unexpected cancels %+v", cancels)
	}
}
