package pipeline

import (
	"strings"

	"github.com/unkn0wn-root/resload/internal/errdef"
	"github.com/unkn0wn-root/resload/internal/handler"
	"github.com/unkn0wn-root/resload/internal/resource"
	"github.com/unkn0wn-root/resload/internal/throttle"
)

// Factory builds the terminal handler for one request.
type Factory func(req *resource.Request) handler.Handler

// Registry maps final mime types to terminal handlers. Patterns are exact
// ("text/html") or a whole top level type ("image/*"); exact wins.
type Registry struct {
	exact     map[string]Factory
	wildcard  map[string]Factory
	download  Factory
	downloads []string
}

func NewRegistry() *Registry {
	return &Registry{
		exact:    make(map[string]Factory),
		wildcard: make(map[string]Factory),
	}
}

// Register binds pattern to f, replacing an earlier binding.
func (r *Registry) Register(pattern string, f Factory) error {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	major, minor, ok := strings.Cut(pattern, "/")
	if !ok || major == "" || minor == "" || major == "*" {
		return errdef.New(errdef.CodeConfig, "invalid mime pattern %q", pattern)
	}
	if f == nil {
		return errdef.New(errdef.CodeConfig, "nil handler factory for %q", pattern)
	}
	if minor == "*" {
		r.wildcard[major] = f
	} else {
		r.exact[pattern] = f
	}
	return nil
}

// SetDownload names the factory for attachments and for the given mime
// patterns.
func (r *Registry) SetDownload(f Factory, patterns ...string) {
	r.download = f
	r.downloads = append([]string(nil), patterns...)
}

// Lookup returns the factory for mimeType, or nil.
func (r *Registry) Lookup(mimeType string) Factory {
	mimeType = strings.ToLower(mimeType)
	if f, ok := r.exact[mimeType]; ok {
		return f
	}
	if major, _, ok := strings.Cut(mimeType, "/"); ok {
		if f, ok := r.wildcard[major]; ok {
			return f
		}
	}
	return nil
}

// Select chooses the terminal handler once the response type is final.
// Attachments and download types go to the download factory; types
// without a binding keep the current handler.
func (r *Registry) Select(req *resource.Request, head *resource.ResponseHead, current handler.Handler) (handler.Handler, error) {
	if r.download != nil && (head.IsAttachment() || throttle.MatchMime(r.downloads, head.MimeType)) {
		return r.download(req), nil
	}
	if f := r.Lookup(head.MimeType); f != nil {
		return f(req), nil
	}
	return current, nil
}
