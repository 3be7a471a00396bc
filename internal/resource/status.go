package resource

import "fmt"

type StatusKind int

const (
	StatusSuccess StatusKind = iota
	StatusCanceled
	StatusFailed
	StatusAborted
)

func (k StatusKind) String() string {
	switch k {
	case StatusSuccess:
		return "success"
	case StatusCanceled:
		return "canceled"
	case StatusFailed:
		return "failed"
	case StatusAborted:
		return "aborted"
	default:
		return fmt.Sprintf("status(%d)", int(k))
	}
}

// Status is the terminal outcome delivered with OnResponseCompleted.
type Status struct {
	Kind StatusKind
	Code NetError
	// Ignored is set when the cancel came from CancelAndIgnore: another
	// party owns the response and no error should be surfaced.
	Ignored bool
}

func Success() Status {
	return Status{Kind: StatusSuccess}
}

func Canceled(code NetError) Status {
	if code == OK {
		code = ErrAborted
	}
	return Status{Kind: StatusCanceled, Code: code}
}

func Failed(code NetError) Status {
	if code == OK {
		code = ErrFailed
	}
	return Status{Kind: StatusFailed, Code: code}
}

func (s Status) IsSuccess() bool {
	return s.Kind == StatusSuccess
}

// Err converts the status to an error, nil on success.
func (s Status) Err() error {
	if s.IsSuccess() {
		return nil
	}
	return s.Code
}

func (s Status) String() string {
	if s.IsSuccess() {
		return s.Kind.String()
	}
	out := s.Kind.String() + " " + s.Code.String()
	if s.Ignored {
		out += " (ignored)"
	}
	return out
}
