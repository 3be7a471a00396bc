package errdef

import (
	"errors"
	"fmt"
	"testing"

	"github.com/unkn0wn-root/resload/internal/resource"
)

func TestWrapNilReturnsNil(t *testing.T) {
	if err := Wrap(CodeNetwork, nil, "read body"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestCodeOfAndIs(t *testing.T) {
	err := Wrap(CodeResource, errors.New("pool refused"), "init buffer for request %d", 3)
	if got := CodeOf(err); got != CodeResource {
		t.Fatalf("expected resource code, got %s", got)
	}
	if !Is(fmt.Errorf("outer: %w", err), CodeResource) {
		t.Fatalf("expected Is to see through fmt wrapping")
	}
	if Is(err, CodeInternal) {
		t.Fatalf("unexpected internal code match")
	}
	if got := err.Error(); got != "resource: init buffer for request 3: pool refused" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestNetErrorOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want resource.NetError
	}{
		{"nil", nil, resource.OK},
		{"internal", New(CodeInternal, "read past buffer"), resource.ErrUnexpected},
		{"resource", New(CodeResource, "no pool"), resource.ErrInsufficientResources},
		{"throttle", New(CodeThrottle, "denied"), resource.ErrBlockedByClient},
		{"consumer", New(CodeConsumer, "sink gone"), resource.ErrAborted},
		{"plain", errors.New("boom"), resource.ErrFailed},
		{"explicit", Wrap(CodeNetwork, resource.ErrTimedOut, "headers"), resource.ErrTimedOut},
	}
	for _, tc := range cases {
		if got := NetErrorOf(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestErrorFormatting(t *testing.T) {
	cases := []struct {
		err  *Error
		want string
	}{
		{&Error{Code: CodeSniff}, "sniff"},
		{&Error{Code: CodeSniff, Message: "window full"}, "sniff: window full"},
		{&Error{Code: CodeSniff, Err: errors.New("eof")}, "sniff: eof"},
	}
	for _, tc := range cases {
		if got := tc.err.Error(); got != tc.want {
			t.Fatalf("Error() = %q, want %q", got, tc.want)
		}
	}
	if got := New("", "no code"); got.Error() != "unknown: no code" {
		t.Fatalf("empty code must become unknown, got %q", got)
	}
}
