// Package handlertest provides a terminal handler that records every
// checkpoint it sees, for use in tests of decorating handlers.
package handlertest

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/unkn0wn-root/resload/internal/handler"
	"github.com/unkn0wn-root/resload/internal/resource"
)

// Event is one recorded checkpoint.
type Event struct {
	Name   string
	URL    string
	Bytes  int
	Mime   string
	Status resource.Status
}

func (e Event) String() string {
	switch e.Name {
	case "read":
		return fmt.Sprintf("read(%d)", e.Bytes)
	case "response":
		return "response(" + e.Mime + ")"
	case "completed":
		return "completed(" + e.Status.String() + ")"
	default:
		return e.Name
	}
}

// Recorder is a terminal handler. Defer* fields make the matching
// checkpoint defer once per call while set; Fail* fields make it fail.
type Recorder struct {
	mu sync.Mutex

	BufferSize int

	DeferStart      bool
	DeferRedirect   bool
	DeferResponse   bool
	DeferRead       bool
	DeferCompletion bool
	FailResponse    error
	FailRead        error

	controller handler.Controller
	events     []Event
	buf        []byte
	received   []byte
}

// NewRecorder returns a recorder handing out buffers of bufferSize bytes.
func NewRecorder(bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	return &Recorder{BufferSize: bufferSize}
}

func (r *Recorder) SetController(c handler.Controller) {
	r.mu.Lock()
	r.controller = c
	r.mu.Unlock()
}

// Controller returns the controller the recorder was handed.
func (r *Recorder) Controller() handler.Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controller
}

func (r *Recorder) WillStart(u *url.URL) (bool, error) {
	r.record(Event{Name: "start", URL: u.String()})
	return r.DeferStart, nil
}

func (r *Recorder) OnBeforeNetworkStart(u *url.URL) (bool, error) {
	r.record(Event{Name: "network", URL: u.String()})
	return false, nil
}

func (r *Recorder) OnRequestRedirected(rd *resource.Redirect, _ *resource.ResponseHead) (bool, error) {
	target := ""
	if rd != nil && rd.NewURL != nil {
		target = rd.NewURL.String()
	}
	r.record(Event{Name: "redirect", URL: target})
	return r.DeferRedirect, nil
}

func (r *Recorder) OnResponseStarted(head *resource.ResponseHead) (bool, error) {
	r.record(Event{Name: "response", Mime: head.MimeType})
	if r.FailResponse != nil {
		return false, r.FailResponse
	}
	return r.DeferResponse, nil
}

func (r *Recorder) OnWillRead(minSize int) ([]byte, error) {
	size := r.BufferSize
	if minSize > size {
		size = minSize
	}
	r.mu.Lock()
	if len(r.buf) != size {
		r.buf = make([]byte, size)
	}
	buf := r.buf
	r.mu.Unlock()
	r.record(Event{Name: "willread", Bytes: size})
	return buf, nil
}

func (r *Recorder) OnReadCompleted(n int) (bool, error) {
	r.mu.Lock()
	if n > 0 {
		r.received = append(r.received, r.buf[:n]...)
	}
	r.mu.Unlock()
	r.record(Event{Name: "read", Bytes: n})
	if r.FailRead != nil {
		return false, r.FailRead
	}
	return r.DeferRead, nil
}

func (r *Recorder) OnResponseCompleted(status resource.Status) bool {
	r.record(Event{Name: "completed", Status: status})
	return r.DeferCompletion
}

func (r *Recorder) OnDataDownloaded(n int) {
	r.record(Event{Name: "downloaded", Bytes: n})
}

// Events returns a copy of the recorded checkpoints.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns the checkpoint names, skipping "willread".
func (r *Recorder) Names() []string {
	var out []string
	for _, evt := range r.Events() {
		if evt.Name == "willread" {
			continue
		}
		out = append(out, evt.String())
	}
	return out
}

// Count returns how many times the named checkpoint fired.
func (r *Recorder) Count(name string) int {
	n := 0
	for _, evt := range r.Events() {
		if evt.Name == name {
			n++
		}
	}
	return n
}

// Body returns every byte delivered through OnReadCompleted.
func (r *Recorder) Body() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.received...)
}

// Last returns the most recent event of the given name.
func (r *Recorder) Last(name string) (Event, bool) {
	events := r.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Name == name {
			return events[i], true
		}
	}
	return Event{}, false
}

func (r *Recorder) record(evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Controller records every call it receives.
type Controller struct {
	mu      sync.Mutex
	Resumes int
	Cancels []resource.Status
}

func (c *Controller) Resume() {
	c.mu.Lock()
	c.Resumes++
	c.mu.Unlock()
}

func (c *Controller) Cancel() {
	c.add(resource.Canceled(resource.ErrAborted))
}

func (c *Controller) CancelAndIgnore() {
	st := resource.Canceled(resource.ErrAborted)
	st.Ignored = true
	c.add(st)
}

func (c *Controller) CancelWithError(code resource.NetError) {
	c.add(resource.Canceled(code))
}

// ResumeCount returns the number of Resume calls so far.
func (c *Controller) ResumeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Resumes
}

// CancelCalls returns a copy of the recorded cancels.
func (c *Controller) CancelCalls() []resource.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]resource.Status(nil), c.Cancels...)
}

func (c *Controller) add(st resource.Status) {
	c.mu.Lock()
	c.Cancels = append(c.Cancels, st)
	c.mu.Unlock()
}
