package history

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/unkn0wn-root/resload/internal/errdef"
)

// Store keeps a bounded entry list in a JSON file. The file is loaded
// lazily and rewritten whole on every change.
type Store struct {
	mu      sync.Mutex
	path    string
	limit   int
	entries []Entry
	loaded  bool
}

func NewStore(path string, maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Store{path: path, limit: maxEntries}
}

// Load reads the file now instead of on first use. A missing or empty
// file is an empty history.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLoaded()
}

func (s *Store) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		data = nil
	case err != nil:
		return errdef.Wrap(errdef.CodeHistory, err, "read history")
	}
	var entries []Entry
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			return errdef.Wrap(errdef.CodeHistory, err, "parse history %s", s.path)
		}
	}
	slices.SortStableFunc(entries, compareEntries)
	s.entries = entries
	s.loaded = true
	return nil
}

func (s *Store) Append(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	next := append([]Entry{entry}, s.entries...)
	slices.SortStableFunc(next, compareEntries)
	if len(next) > s.limit {
		next = next[:s.limit]
	}
	return s.save(next)
}

func (s *Store) Entries() ([]Entry, error) {
	return s.filter(func(Entry) bool { return true })
}

// ByURL returns entries that requested url or were redirected to it.
func (s *Store) ByURL(url string) ([]Entry, error) {
	if url == "" {
		return s.Entries()
	}
	return s.filter(func(e Entry) bool { return e.URL == url || e.FinalURL == url })
}

func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return false, err
	}
	idx := slices.IndexFunc(s.entries, func(e Entry) bool { return e.ID == id })
	if idx < 0 {
		return false, nil
	}
	if err := s.save(slices.Delete(slices.Clone(s.entries), idx, idx+1)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) filter(keep func(Entry) bool) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// save writes entries through a temp file and only then adopts them, so
// a failed write leaves memory and disk in agreement.
func (s *Store) save(entries []Entry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errdef.Wrap(errdef.CodeFilesystem, err, "create history dir")
	}
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errdef.Wrap(errdef.CodeHistory, err, "encode history")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errdef.Wrap(errdef.CodeFilesystem, err, "write %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errdef.Wrap(errdef.CodeFilesystem, err, "replace %s", s.path)
	}
	s.entries = entries
	return nil
}

// compareEntries sorts newest first. Entries without a timestamp sink to
// the end and ties fall back to id.
func compareEntries(a, b Entry) int {
	az, bz := a.ExecutedAt.IsZero(), b.ExecutedAt.IsZero()
	switch {
	case az && !bz:
		return 1
	case bz && !az:
		return -1
	case !az && !a.ExecutedAt.Equal(b.ExecutedAt):
		return b.ExecutedAt.Compare(a.ExecutedAt)
	}
	return strings.Compare(b.ID, a.ID)
}
