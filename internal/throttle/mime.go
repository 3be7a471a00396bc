package throttle

import (
	"net/http"
	"strings"

	"github.com/unkn0wn-root/resload/internal/resource"
)

// MimeThrottle refuses responses whose declared type is blocked. A match
// on a HEAD request is dropped quietly since there is no body to refuse.
type MimeThrottle struct {
	Base
	blocked []string
}

func NewMimeThrottle(blocked []string) *MimeThrottle {
	out := make([]string, 0, len(blocked))
	for _, b := range blocked {
		if b = strings.ToLower(strings.TrimSpace(b)); b != "" {
			out = append(out, b)
		}
	}
	return &MimeThrottle{blocked: out}
}

// MimeFactory returns nil when nothing is blocked.
func MimeFactory(blocked []string) Factory {
	if len(blocked) == 0 {
		return nil
	}
	return func(*resource.Request) Throttle {
		return NewMimeThrottle(blocked)
	}
}

func (m *MimeThrottle) Name() string { return "mime" }

func (m *MimeThrottle) WillProcessResponse(req *resource.Request, head *resource.ResponseHead) bool {
	if head == nil || !MatchMime(m.blocked, head.MimeType) {
		return false
	}
	if req.Method == http.MethodHead {
		m.Controller().CancelAndIgnore()
		return false
	}
	m.Controller().CancelWithError(resource.ErrBlockedByResponse)
	return false
}

// MatchMime reports whether mimeType matches one of patterns, which may be
// exact types or "type/*". Any other "*" is literal. The mime registry of
// the pipeline uses the same rules.
func MatchMime(patterns []string, mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == mimeType {
			return true
		}
		if major, ok := strings.CutSuffix(p, "/*"); ok && !strings.Contains(major, "/") {
			if t, _, _ := strings.Cut(mimeType, "/"); t == major {
				return true
			}
		}
	}
	return false
}
