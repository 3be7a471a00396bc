package history

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/resload/internal/loader"
	"github.com/unkn0wn-root/resload/internal/nettrace"
)

const defaultMaxEntries = 200

// Entry is one finished load.
type Entry struct {
	ID         string        `json:"id"`
	ExecutedAt time.Time     `json:"executedAt"`
	Session    string        `json:"session,omitempty"`
	Method     string        `json:"method"`
	URL        string        `json:"url"`
	FinalURL   string        `json:"finalUrl,omitempty"`
	Redirects  int           `json:"redirects,omitempty"`
	Status     string        `json:"status"`
	NetError   int           `json:"netError,omitempty"`
	StatusCode int           `json:"statusCode,omitempty"`
	MimeType   string        `json:"mimeType,omitempty"`
	Bytes      int64         `json:"bytes"`
	BlockedBy  string        `json:"blockedBy,omitempty"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	Trace      *TraceSummary `json:"trace,omitempty"`
}

// Recorder persists entries. Entries and ByURL return newest first.
type Recorder interface {
	Append(Entry) error
	Entries() ([]Entry, error)
	Delete(id string) (bool, error)
	ByURL(url string) ([]Entry, error)
	Close() error
}

// FromResult converts a finished load. The budget, if any, is evaluated
// against the load's timeline.
func FromResult(res loader.Result, budget nettrace.Budget) Entry {
	entry := Entry{
		ID:         uuid.NewString(),
		ExecutedAt: res.Started,
		Session:    res.Session,
		Method:     res.Method,
		URL:        res.URL,
		Redirects:  len(res.Redirects),
		Status:     res.Status.String(),
		NetError:   int(res.Status.Code),
		StatusCode: res.Head.StatusCode(),
		MimeType:   res.Head.MimeType(),
		Bytes:      res.Bytes,
		BlockedBy:  res.BlockedBy,
	}
	if n := len(res.Redirects); n > 0 {
		entry.FinalURL = res.Redirects[n-1]
	}
	if !res.Ended.IsZero() && !res.Started.IsZero() {
		entry.Duration = res.Ended.Sub(res.Started)
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	if res.Timeline != nil {
		entry.Trace = NewTraceSummary(nettrace.NewReport(res.Timeline, budget))
	}
	return entry
}

// Open picks the store by extension: .db and .sqlite use SQLite,
// anything else a JSON file.
func Open(path string, maxEntries int) (Recorder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQL(path, maxEntries)
	default:
		s := NewStore(path, maxEntries)
		if err := s.Load(); err != nil {
			return nil, err
		}
		return s, nil
	}
}
