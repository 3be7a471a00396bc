package resource

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
)

type Priority int

const (
	PriorityIdle Priority = iota
	PriorityLowest
	PriorityLow
	PriorityMedium
	PriorityHighest
)

var nextRequestID atomic.Uint64

// Request identifies one fetch. It is owned by the loader; handlers keep
// a non owning pointer and only touch it on the IO actor.
type Request struct {
	ID       uint64
	URL      *url.URL
	Method   string
	Header   http.Header
	Priority Priority

	chain []*url.URL

	mu        sync.Mutex
	blockedBy string
}

// NewRequest parses rawURL and assigns the next request id.
func NewRequest(method, rawURL string) (*Request, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, err
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		ID:       nextRequestID.Add(1),
		URL:      u,
		Method:   strings.ToUpper(method),
		Header:   make(http.Header),
		Priority: PriorityMedium,
		chain:    []*url.URL{u},
	}, nil
}

// FollowRedirect moves the request to the redirect target.
func (r *Request) FollowRedirect(rd *Redirect) {
	if rd == nil || rd.NewURL == nil {
		return
	}
	r.URL = rd.NewURL
	if rd.NewMethod != "" {
		r.Method = rd.NewMethod
	}
	r.chain = append(r.chain, rd.NewURL)
}

// RedirectChain returns every URL the request visited, original first.
func (r *Request) RedirectChain() []*url.URL {
	out := make([]*url.URL, len(r.chain))
	copy(out, r.chain)
	return out
}

// LogBlockedBy records which component is holding the request. An empty
// name clears the marker.
func (r *Request) LogBlockedBy(name string) {
	r.mu.Lock()
	r.blockedBy = name
	r.mu.Unlock()
}

func (r *Request) BlockedBy() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blockedBy
}

func (r *Request) String() string {
	if r == nil || r.URL == nil {
		return ""
	}
	return r.Method + " " + r.URL.String()
}
