// Package errdef tags errors with a coarse category. The loader turns the
// category of a failed checkpoint into the network error that ends the
// load.
package errdef

import (
	"errors"
	"fmt"
	"strings"

	"github.com/unkn0wn-root/resload/internal/resource"
)

type Code string

const (
	CodeUnknown    Code = "unknown"
	CodeConfig     Code = "config"
	CodeNetwork    Code = "network"
	CodeResource   Code = "resource"
	CodeInternal   Code = "internal"
	CodeThrottle   Code = "throttle"
	CodeConsumer   Code = "consumer"
	CodeSniff      Code = "sniff"
	CodeHistory    Code = "history"
	CodeFilesystem Code = "filesystem"
	CodeScript     Code = "script"
	CodeTelemetry  Code = "telemetry"
)

// netErrors lists codes with a dedicated network error. Everything else
// ends a load with ErrFailed.
var netErrors = map[Code]resource.NetError{
	CodeInternal:   resource.ErrUnexpected,
	CodeResource:   resource.ErrInsufficientResources,
	CodeThrottle:   resource.ErrBlockedByClient,
	CodeConsumer:   resource.ErrAborted,
	CodeFilesystem: resource.ErrFileNoSpace,
}

// NetError is the completion error for a load that failed with c.
func (c Code) NetError() resource.NetError {
	if ne, ok := netErrors[c]; ok {
		return ne
	}
	return resource.ErrFailed
}

type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error renders "code: message: cause", leaving out empty parts.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	parts := []string{string(e.Code)}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wrap tags err with code. A nil err stays nil so call sites can wrap
// unconditionally.
func Wrap(code Code, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Code: orUnknown(code), Message: sprintf(format, args), Err: err}
}

func New(code Code, format string, args ...any) error {
	return &Error{Code: orUnknown(code), Message: sprintf(format, args)}
}

// CodeOf returns the outermost code in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// NetErrorOf picks the network error that ends a load failed by err. A
// resource.NetError in the chain wins over the code mapping.
func NetErrorOf(err error) resource.NetError {
	if err == nil {
		return resource.OK
	}
	var ne resource.NetError
	if errors.As(err, &ne) && ne != resource.OK {
		return ne
	}
	return CodeOf(err).NetError()
}

func sprintf(format string, args []any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

func orUnknown(code Code) Code {
	if code == "" {
		return CodeUnknown
	}
	return code
}
