// Package download stores response bodies as files.
package download

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/unkn0wn-root/resload/internal/errdef"
	"github.com/unkn0wn-root/resload/internal/handler"
	"github.com/unkn0wn-root/resload/internal/resource"
)

const (
	defaultReadSize = 32 * 1024
	fallbackName    = "download"
	partSuffix      = ".part"
)

// Handler is a terminal handler writing the body to a file in Dir. The
// body lands in a partial file that is renamed on success and removed on
// failure.
type Handler struct {
	req      *resource.Request
	dir      string
	readSize int
	logger   *log.Logger

	controller handler.Controller
	file       *os.File
	name       string
	finalPath  string
	buf        []byte
	written    int64
	completed  bool
}

func New(req *resource.Request, dir string, logger *log.Logger) *Handler {
	if dir == "" {
		dir = "."
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{req: req, dir: dir, readSize: defaultReadSize, logger: logger}
}

func (h *Handler) SetController(c handler.Controller) { h.controller = c }

func (h *Handler) WillStart(*url.URL) (bool, error) { return false, nil }

func (h *Handler) OnBeforeNetworkStart(*url.URL) (bool, error) { return false, nil }

func (h *Handler) OnRequestRedirected(*resource.Redirect, *resource.ResponseHead) (bool, error) {
	return false, nil
}

func (h *Handler) OnResponseStarted(head *resource.ResponseHead) (bool, error) {
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return false, errdef.Wrap(errdef.CodeFilesystem, err, "create download dir")
	}
	h.name = FileName(head, h.req.URL)
	f, err := os.CreateTemp(h.dir, "."+h.name+"-*"+partSuffix)
	if err != nil {
		return false, errdef.Wrap(errdef.CodeFilesystem, err, "create partial file")
	}
	h.file = f
	return false, nil
}

func (h *Handler) OnWillRead(minSize int) ([]byte, error) {
	if h.file == nil {
		return nil, errdef.New(errdef.CodeInternal, "read before response started")
	}
	size := h.readSize
	if minSize > size {
		size = minSize
	}
	if len(h.buf) < size {
		h.buf = make([]byte, size)
	}
	return h.buf, nil
}

func (h *Handler) OnReadCompleted(n int) (bool, error) {
	if h.file == nil {
		return false, errdef.New(errdef.CodeInternal, "read before response started")
	}
	if n > len(h.buf) {
		return false, errdef.New(errdef.CodeInternal, "read of %d bytes overflows buffer of %d", n, len(h.buf))
	}
	if n == 0 {
		return false, nil
	}
	if _, err := h.file.Write(h.buf[:n]); err != nil {
		return false, errdef.Wrap(errdef.CodeFilesystem, err, "write %s", h.file.Name())
	}
	h.written += int64(n)
	return false, nil
}

func (h *Handler) OnResponseCompleted(status resource.Status) bool {
	if h.completed {
		return false
	}
	h.completed = true
	if h.file == nil {
		return false
	}
	partial := h.file.Name()
	closeErr := h.file.Close()
	h.file = nil
	if !status.IsSuccess() || closeErr != nil {
		if err := os.Remove(partial); err != nil && !os.IsNotExist(err) {
			h.logger.Printf("request %d: remove partial download: %v", h.req.ID, err)
		}
		return false
	}
	dest, err := uniquePath(h.dir, h.name)
	if err == nil {
		err = os.Rename(partial, dest)
	}
	if err != nil {
		h.logger.Printf("request %d: finish download: %v", h.req.ID, err)
		_ = os.Remove(partial)
		return false
	}
	h.finalPath = dest
	return false
}

func (h *Handler) OnDataDownloaded(int) {}

// Path returns the stored file once the download succeeded.
func (h *Handler) Path() string { return h.finalPath }

func (h *Handler) Written() int64 { return h.written }

// FileName picks a safe file name from Content-Disposition, then the last
// URL path segment.
func FileName(head *resource.ResponseHead, u *url.URL) string {
	name := sanitize(head.Filename())
	if name == "" && u != nil {
		name = sanitize(path.Base(u.Path))
	}
	if name == "" {
		name = fallbackName
	}
	return name
}

func sanitize(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = path.Base(name)
	switch name {
	case ".", "/", "..":
		return ""
	}
	name = strings.TrimLeft(name, ".")
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(`<>:"|?*`, r) {
			return '_'
		}
		return r
	}, name)
}

// uniquePath returns dir/name, or dir/base (n).ext for the first free n.
func uniquePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	candidate := filepath.Join(dir, name)
	for i := 1; i < 1000; i++ {
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
	}
	return "", errdef.New(errdef.CodeFilesystem, "no free name for %s", name)
}
