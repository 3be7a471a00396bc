package resource

import (
	"net/http"
	"testing"
)

func TestNewRequestAssignsIncreasingIDs(t *testing.T) {
	a, err := NewRequest("", "https://example.com/a")
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	b, err := NewRequest("post", "https://example.com/b")
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if b.ID <= a.ID {
		t.Fatalf("expected increasing ids, got %d then %d", a.ID, b.ID)
	}
	if a.Method != http.MethodGet || b.Method != http.MethodPost {
		t.Fatalf("unexpected methods %q %q", a.Method, b.Method)
	}
}

func TestFreezeDetachesHeaders(t *testing.T) {
	head := &ResponseHead{StatusCode: 200, Header: http.Header{"Content-Type": {"text/html"}}, MimeType: "text/html"}
	frozen := head.Freeze()
	head.Header.Set("Content-Type", "application/json")
	head.MimeType = "application/json"

	if frozen.MimeType() != "text/html" {
		t.Fatalf("frozen mime changed: %q", frozen.MimeType())
	}
	got := frozen.Header()
	got.Set("Content-Type", "image/png")
	if frozen.Header().Get("Content-Type") != "text/html" {
		t.Fatalf("frozen header mutated through accessor")
	}
}

func TestParseContentType(t *testing.T) {
	mimeType, cs := ParseContentType("Text/HTML; charset=UTF-8")
	if mimeType != "text/html" || cs != "utf-8" {
		t.Fatalf("unexpected parse %q %q", mimeType, cs)
	}
	mimeType, _ = ParseContentType("text/plain;;;")
	if mimeType != "text/plain" {
		t.Fatalf("expected fallback parse, got %q", mimeType)
	}
}

func TestAttachmentAndNoSniff(t *testing.T) {
	head := &ResponseHead{Header: http.Header{}}
	head.Header.Set("Content-Disposition", `attachment; filename="report.pdf"`)
	head.Header.Set("X-Content-Type-Options", "NoSniff")
	if !head.IsAttachment() {
		t.Fatalf("expected attachment")
	}
	if head.Filename() != "report.pdf" {
		t.Fatalf("unexpected filename %q", head.Filename())
	}
	if !head.NoSniff() {
		t.Fatalf("expected nosniff")
	}
}

func TestStatusErr(t *testing.T) {
	if Success().Err() != nil {
		t.Fatalf("success must not carry an error")
	}
	st := Canceled(OK)
	if st.Code != ErrAborted {
		t.Fatalf("expected default aborted code, got %v", st.Code)
	}
	if st.Err().Error() != "net::ERR_ABORTED" {
		t.Fatalf("unexpected error text %q", st.Err())
	}
}
