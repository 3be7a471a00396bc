package resource

import (
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ResponseHead is the mutable response metadata handlers may rewrite in
// place (the sniffing handler overwrites MimeType). It must be frozen
// before it leaves the IO actor.
type ResponseHead struct {
	StatusCode    int
	Status        string
	Proto         string
	Header        http.Header
	MimeType      string
	Charset       string
	ContentLength int64
	RequestStart  time.Time
	ResponseStart time.Time
}

// NewResponseHead derives a head from an HTTP response, parsing the
// declared content type into MimeType and Charset.
func NewResponseHead(resp *http.Response, requestStart time.Time) *ResponseHead {
	head := &ResponseHead{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Proto:         resp.Proto,
		Header:        resp.Header.Clone(),
		ContentLength: resp.ContentLength,
		RequestStart:  requestStart,
		ResponseStart: time.Now(),
	}
	if head.Header == nil {
		head.Header = make(http.Header)
	}
	head.MimeType, head.Charset = ParseContentType(head.Header.Get("Content-Type"))
	return head
}

// ParseContentType lower-cases the media type and extracts the charset
// parameter. Unparseable values are returned trimmed.
func ParseContentType(value string) (mimeType, charsetLabel string) {
	if strings.TrimSpace(value) == "" {
		return "", ""
	}
	mType, params, err := mime.ParseMediaType(value)
	if err != nil {
		if idx := strings.IndexByte(value, ';'); idx >= 0 {
			value = value[:idx]
		}
		return strings.ToLower(strings.TrimSpace(value)), ""
	}
	return strings.ToLower(mType), strings.ToLower(params["charset"])
}

// NoSniff reports whether the server opted out of content sniffing.
func (h *ResponseHead) NoSniff() bool {
	if h == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(h.Header.Get("X-Content-Type-Options")), "nosniff")
}

// IsAttachment reports a Content-Disposition of "attachment".
func (h *ResponseHead) IsAttachment() bool {
	if h == nil {
		return false
	}
	disp := h.Header.Get("Content-Disposition")
	if disp == "" {
		return false
	}
	kind, _, err := mime.ParseMediaType(disp)
	if err != nil {
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(disp)), "attachment")
	}
	return kind == "attachment"
}

// Filename returns the Content-Disposition filename parameter, if any.
func (h *ResponseHead) Filename() string {
	if h == nil {
		return ""
	}
	_, params, err := mime.ParseMediaType(h.Header.Get("Content-Disposition"))
	if err != nil {
		return ""
	}
	return params["filename"]
}

// Clone returns a deep copy.
func (h *ResponseHead) Clone() *ResponseHead {
	if h == nil {
		return nil
	}
	clone := *h
	clone.Header = h.Header.Clone()
	return &clone
}

// Freeze converts the head to an immutable value safe to hand to
// another actor.
func (h *ResponseHead) Freeze() FrozenHead {
	return FrozenHead{head: h.Clone()}
}

// FrozenHead is a read only snapshot of a ResponseHead. Accessors return
// copies so receivers cannot mutate shared state.
type FrozenHead struct {
	head *ResponseHead
}

func (f FrozenHead) Valid() bool         { return f.head != nil }
func (f FrozenHead) StatusCode() int     { return f.get().StatusCode }
func (f FrozenHead) Status() string      { return f.get().Status }
func (f FrozenHead) Proto() string       { return f.get().Proto }
func (f FrozenHead) MimeType() string    { return f.get().MimeType }
func (f FrozenHead) Charset() string     { return f.get().Charset }
func (f FrozenHead) Length() int64       { return f.get().ContentLength }
func (f FrozenHead) Header() http.Header { return f.get().Header.Clone() }

// Thaw returns a fresh mutable copy.
func (f FrozenHead) Thaw() *ResponseHead {
	return f.head.Clone()
}

func (f FrozenHead) get() *ResponseHead {
	if f.head == nil {
		return &ResponseHead{}
	}
	return f.head
}

// Redirect describes one redirect hop.
type Redirect struct {
	StatusCode int
	NewMethod  string
	NewURL     *url.URL
	FirstParty *url.URL
}

// Clone copies the redirect, including its URLs.
func (r *Redirect) Clone() *Redirect {
	if r == nil {
		return nil
	}
	clone := *r
	if r.NewURL != nil {
		u := *r.NewURL
		clone.NewURL = &u
	}
	if r.FirstParty != nil {
		u := *r.FirstParty
		clone.FirstParty = &u
	}
	return &clone
}
