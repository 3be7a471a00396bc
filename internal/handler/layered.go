package handler

import (
	"net/url"

	"github.com/unkn0wn-root/resload/internal/resource"
)

// Layered wraps exactly one downstream handler and forwards every
// checkpoint to it. Decorators embed Layered and override the checkpoints
// they intercept.
//
// Layered is also the controller its child sees: resume and cancel calls
// from the child pass through it to the controller Layered itself was
// given. A decorator that must observe its child's Resume passes itself
// to Attach instead.
type Layered struct {
	next       Handler
	controller Controller
}

// NewLayered wraps next.
func NewLayered(next Handler) Layered {
	return Layered{next: next}
}

// Next returns the wrapped handler.
func (l *Layered) Next() Handler { return l.next }

// ReplaceNext swaps the wrapped handler and wires it to self. Callers own
// notifying the old handler before dropping it.
func (l *Layered) ReplaceNext(next Handler, self Controller) {
	l.next = next
	if next != nil && l.controller != nil {
		next.SetController(self)
	}
}

// Controller returns the controller handed to this layer.
func (l *Layered) Controller() Controller { return l.controller }

func (l *Layered) SetController(c Controller) {
	l.Attach(c, l)
}

// Attach stores c as this layer's controller and gives self to the child.
func (l *Layered) Attach(c Controller, self Controller) {
	l.controller = c
	if l.next != nil {
		l.next.SetController(self)
	}
}

func (l *Layered) WillStart(u *url.URL) (bool, error) {
	return l.next.WillStart(u)
}

func (l *Layered) OnBeforeNetworkStart(u *url.URL) (bool, error) {
	return l.next.OnBeforeNetworkStart(u)
}

func (l *Layered) OnRequestRedirected(rd *resource.Redirect, head *resource.ResponseHead) (bool, error) {
	return l.next.OnRequestRedirected(rd, head)
}

func (l *Layered) OnResponseStarted(head *resource.ResponseHead) (bool, error) {
	return l.next.OnResponseStarted(head)
}

func (l *Layered) OnWillRead(minSize int) ([]byte, error) {
	return l.next.OnWillRead(minSize)
}

func (l *Layered) OnReadCompleted(n int) (bool, error) {
	return l.next.OnReadCompleted(n)
}

func (l *Layered) OnResponseCompleted(status resource.Status) bool {
	return l.next.OnResponseCompleted(status)
}

func (l *Layered) OnDataDownloaded(n int) {
	l.next.OnDataDownloaded(n)
}

// Controller side: forward to the controller this layer was given.

func (l *Layered) Resume() {
	if l.controller != nil {
		l.controller.Resume()
	}
}

func (l *Layered) Cancel() {
	if l.controller != nil {
		l.controller.Cancel()
	}
}

func (l *Layered) CancelAndIgnore() {
	if l.controller != nil {
		l.controller.CancelAndIgnore()
	}
}

func (l *Layered) CancelWithError(code resource.NetError) {
	if l.controller != nil {
		l.controller.CancelWithError(code)
	}
}
