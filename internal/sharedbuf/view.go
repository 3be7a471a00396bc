package sharedbuf

import (
	"io"

	"github.com/unkn0wn-root/resload/internal/errdef"
)

// View is the read only side of a Pool. Readers copy bytes out; the range
// they read stays valid until they acknowledge it.
type View struct {
	buf []byte
}

func (v View) Len() int { return len(v.buf) }

// ReadAt implements io.ReaderAt.
func (v View) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(v.buf)) {
		return 0, errdef.New(errdef.CodeInternal, "view offset %d out of range", off)
	}
	n := copy(p, v.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Copy returns a copy of length bytes at offset.
func (v View) Copy(offset, length int) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > len(v.buf) {
		return nil, errdef.New(errdef.CodeInternal, "view range [%d,%d) out of bounds", offset, offset+length)
	}
	out := make([]byte, length)
	copy(out, v.buf[offset:offset+length])
	return out, nil
}

// WriteRange writes length bytes at offset to w.
func (v View) WriteRange(w io.Writer, offset, length int) (int, error) {
	if offset < 0 || length < 0 || offset+length > len(v.buf) {
		return 0, errdef.New(errdef.CodeInternal, "view range [%d,%d) out of bounds", offset, offset+length)
	}
	return w.Write(v.buf[offset : offset+length])
}
