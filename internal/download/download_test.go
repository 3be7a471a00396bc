package download

import (
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/unkn0wn-root/resload/internal/resource"
)

func newHandler(t *testing.T, rawURL string) (*Handler, string) {
	t.Helper()
	req, err := resource.NewRequest(http.MethodGet, rawURL)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	dir := t.TempDir()
	return New(req, dir, log.New(io.Discard, "", 0)), dir
}

func feed(t *testing.T, h *Handler, chunks ...string) {
	t.Helper()
	for _, c := range chunks {
		buf, err := h.OnWillRead(-1)
		if err != nil {
			t.Fatalf("OnWillRead: %v", err)
		}
		if _, err := h.OnReadCompleted(copy(buf, c)); err != nil {
			t.Fatalf("OnReadCompleted: %v", err)
		}
	}
}

func TestDownloadUsesDispositionName(t *testing.T) {
	h, dir := newHandler(t, "https://example.com/files/get?id=1")
	head := &resource.ResponseHead{Header: http.Header{}}
	head.Header.Set("Content-Disposition", `attachment; filename="report.pdf"`)
	if _, err := h.OnResponseStarted(head); err != nil {
		t.Fatalf("OnResponseStarted: %v", err)
	}
	feed(t, h, "%PDF-", "1.7")
	h.OnResponseCompleted(resource.Success())

	want := filepath.Join(dir, "report.pdf")
	if h.Path() != want {
		t.Fatalf("path = %q, want %q", h.Path(), want)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "%PDF-1.7" {
		t.Fatalf("file %q %v", data, err)
	}
	if h.Written() != 8 {
		t.Fatalf("written = %d", h.Written())
	}
}

func TestDownloadPicksFreeName(t *testing.T) {
	h, dir := newHandler(t, "https://example.com/a/data.bin")
	if err := os.WriteFile(filepath.Join(dir, "data.bin"), []byte("old"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	h.OnResponseStarted(&resource.ResponseHead{Header: http.Header{}})
	feed(t, h, "new")
	h.OnResponseCompleted(resource.Success())
	if h.Path() != filepath.Join(dir, "data (1).bin") {
		t.Fatalf("path = %q", h.Path())
	}
}

func TestFailedDownloadRemovesPartialFile(t *testing.T) {
	h, dir := newHandler(t, "https://example.com/big.iso")
	h.OnResponseStarted(&resource.ResponseHead{Header: http.Header{}})
	feed(t, h, "partial")
	h.OnResponseCompleted(resource.Canceled(resource.ErrAborted))

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 || h.Path() != "" {
		t.Fatalf("expected no files, got %d (path %q)", len(entries), h.Path())
	}
}

func TestFileNameSanitizes(t *testing.T) {
	u, _ := url.Parse("https://example.com/")
	cases := []struct {
		disposition string
		want        string
	}{
		{`attachment; filename="../../etc/passwd"`, "passwd"},
		{`attachment; filename="..\\evil.txt"`, "evil.txt"},
		{`attachment; filename=".hidden"`, "hidden"},
		{`attachment; filename="a:b?.txt"`, "a_b_.txt"},
		{"", fallbackName},
	}
	for _, tc := range cases {
		head := &resource.ResponseHead{Header: http.Header{}}
		if tc.disposition != "" {
			head.Header.Set("Content-Disposition", tc.disposition)
		}
		if got := FileName(head, u); got != tc.want {
			t.Fatalf("FileName(%q) = %q, want %q", tc.disposition, got, tc.want)
		}
	}
}
