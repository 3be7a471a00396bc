package throttle

import (
	"strings"

	"github.com/unkn0wn-root/resload/internal/resource"
)

// RedirectThrottle bounds the redirect chain and optionally refuses
// https to http downgrades.
type RedirectThrottle struct {
	Base
	limit     int
	httpsOnly bool
	seen      int
}

func NewRedirectThrottle(limit int, httpsOnly bool) *RedirectThrottle {
	return &RedirectThrottle{limit: limit, httpsOnly: httpsOnly}
}

func RedirectFactory(limit int, httpsOnly bool) Factory {
	return func(*resource.Request) Throttle {
		return NewRedirectThrottle(limit, httpsOnly)
	}
}

func (r *RedirectThrottle) Name() string { return "redirect" }

func (r *RedirectThrottle) WillRedirectRequest(req *resource.Request, rd *resource.Redirect) bool {
	r.seen++
	if r.limit >= 0 && r.seen > r.limit {
		r.Controller().CancelWithError(resource.ErrTooManyRedirects)
		return false
	}
	if r.httpsOnly && rd != nil && rd.NewURL != nil &&
		strings.EqualFold(req.URL.Scheme, "https") && strings.EqualFold(rd.NewURL.Scheme, "http") {
		r.Controller().CancelWithError(resource.ErrUnsafeRedirect)
		return false
	}
	return false
}
