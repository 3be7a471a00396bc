// Package sniff decides the effective content type of a response from its
// declared headers and the first bytes of its body.
package sniff

import (
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html/charset"

	"github.com/unkn0wn-root/resload/internal/resource"
)

// DefaultWindow is the number of body bytes the sniffer needs before it
// commits to a type without waiting for the end of the body.
const DefaultWindow = 512

const (
	MimeTextPlain   = "text/plain"
	MimeOctetStream = "application/octet-stream"
)

// Declared types that carry no useful information.
var genericTypes = map[string]struct{}{
	"":                    {},
	"unknown/unknown":     {},
	"application/unknown": {},
	"*/*":                 {},
}

// 95% printable runes counts as text.
const printableThreshold = 0.95

// ShouldSniff reports whether the body has to be inspected before the
// type is known.
func ShouldSniff(head *resource.ResponseHead) bool {
	if head == nil || head.NoSniff() {
		return false
	}
	if _, ok := genericTypes[head.MimeType]; ok {
		return true
	}
	return head.MimeType == MimeTextPlain
}

// Finalize settles the type of a head that is not going to be sniffed.
func Finalize(head *resource.ResponseHead) {
	if head == nil {
		return
	}
	if _, generic := genericTypes[head.MimeType]; !generic {
		return
	}
	if head.NoSniff() && head.MimeType == "" {
		head.MimeType = MimeTextPlain
		return
	}
	head.MimeType = MimeOctetStream
}

// Sniffer inspects body prefixes. The zero value uses DefaultWindow.
type Sniffer struct {
	Window int
}

func (s Sniffer) window() int {
	if s.Window <= 0 {
		return DefaultWindow
	}
	return s.Window
}

// Sniff returns the effective type for a body that starts with data.
// done is false while fewer than Window bytes are known and more may
// follow; the caller should retry with a longer prefix.
func (s Sniffer) Sniff(declared string, data []byte, eof bool) (mimeType string, done bool) {
	window := s.window()
	if len(data) < window && !eof {
		return "", false
	}
	if len(data) > window {
		data = data[:window]
	}
	if declared == MimeTextPlain {
		if looksBinary(data) {
			return MimeOctetStream, true
		}
		return MimeTextPlain, true
	}
	if len(data) == 0 {
		return MimeOctetStream, true
	}
	detected, _ := resource.ParseContentType(http.DetectContentType(data))
	if detected == "" {
		return MimeOctetStream, true
	}
	return detected, true
}

// DetectCharset returns the charset label for a text body, preferring a
// declared label, then a BOM or meta tag, then a guess.
func DetectCharset(data []byte, contentType string) string {
	mimeType, declared := resource.ParseContentType(contentType)
	if declared != "" {
		return declared
	}
	if !isText(mimeType) {
		return ""
	}
	_, name, certain := charset.DetermineEncoding(data, contentType)
	// The fallback guess is windows-1252; plain ASCII reads the same as utf-8.
	if !certain && name == "windows-1252" && utf8.Valid(data) {
		return "utf-8"
	}
	return strings.ToLower(name)
}

// Apply writes a sniffed type and a detected charset into head.
func Apply(head *resource.ResponseHead, mimeType string, prefix []byte) {
	if head == nil {
		return
	}
	head.MimeType = mimeType
	if head.Charset == "" {
		head.Charset = DetectCharset(prefix, mimeType)
	}
}

func isText(mimeType string) bool {
	if strings.HasPrefix(mimeType, "text/") {
		return true
	}
	return strings.Contains(mimeType, "xml") || strings.Contains(mimeType, "json") ||
		strings.Contains(mimeType, "javascript")
}

// looksBinary flags data a text/plain label should not be trusted for.
func looksBinary(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	printable := 0
	total := 0
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			// A multi-byte rune cut at the window edge is not binary.
			if !utf8.FullRune(data) {
				break
			}
			return true
		}
		data = data[size:]
		total++
		if r == 0 {
			return true
		}
		if r == '\n' || r == '\r' || r == '\t' || r == '\f' || unicode.IsGraphic(r) {
			printable++
		}
	}
	if total == 0 {
		return false
	}
	return float64(printable)/float64(total) < printableThreshold
}
