package history

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/unkn0wn-root/resload/internal/errdef"
)

const schema = `
CREATE TABLE IF NOT EXISTS loads (
	id          TEXT PRIMARY KEY,
	executed_at INTEGER NOT NULL,
	session     TEXT NOT NULL DEFAULT '',
	method      TEXT NOT NULL,
	url         TEXT NOT NULL,
	final_url   TEXT NOT NULL DEFAULT '',
	redirects   INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	net_error   INTEGER NOT NULL DEFAULT 0,
	status_code INTEGER NOT NULL DEFAULT 0,
	mime_type   TEXT NOT NULL DEFAULT '',
	bytes       INTEGER NOT NULL DEFAULT 0,
	blocked_by  TEXT NOT NULL DEFAULT '',
	duration    INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	trace       TEXT
);
CREATE INDEX IF NOT EXISTS loads_url ON loads(url);
CREATE INDEX IF NOT EXISTS loads_executed ON loads(executed_at);
`

const columns = `id, executed_at, session, method, url, final_url, redirects, status,
	net_error, status_code, mime_type, bytes, blocked_by, duration, error, trace`

// SQLStore keeps entries in a SQLite database.
type SQLStore struct {
	db         *sql.DB
	maxEntries int
}

// OpenSQL opens or creates the database at path.
func OpenSQL(path string, maxEntries int) (*SQLStore, error) {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errdef.Wrap(errdef.CodeFilesystem, err, "create history dir")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeHistory, err, "open history db")
	}
	// One connection keeps an in-memory database alive and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errdef.Wrap(errdef.CodeHistory, err, "create history schema")
	}
	return &SQLStore{db: db, maxEntries: maxEntries}, nil
}

func (s *SQLStore) Append(entry Entry) error {
	var trace any
	if entry.Trace != nil {
		data, err := json.Marshal(entry.Trace)
		if err != nil {
			return errdef.Wrap(errdef.CodeHistory, err, "encode trace")
		}
		trace = string(data)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return errdef.Wrap(errdef.CodeHistory, err, "begin")
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO loads (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ExecutedAt.UnixNano(), entry.Session, entry.Method, entry.URL, entry.FinalURL,
		entry.Redirects, entry.Status, entry.NetError, entry.StatusCode, entry.MimeType, entry.Bytes,
		entry.BlockedBy, int64(entry.Duration), entry.Error, trace)
	if err != nil {
		return errdef.Wrap(errdef.CodeHistory, err, "insert entry")
	}
	_, err = tx.Exec(`DELETE FROM loads WHERE id NOT IN (
		SELECT id FROM loads ORDER BY executed_at DESC, id DESC LIMIT ?)`, s.maxEntries)
	if err != nil {
		return errdef.Wrap(errdef.CodeHistory, err, "trim history")
	}
	if err := tx.Commit(); err != nil {
		return errdef.Wrap(errdef.CodeHistory, err, "commit")
	}
	return nil
}

func (s *SQLStore) Entries() ([]Entry, error) {
	return s.query(`SELECT ` + columns + ` FROM loads ORDER BY executed_at DESC, id DESC`)
}

func (s *SQLStore) ByURL(url string) ([]Entry, error) {
	if url == "" {
		return s.Entries()
	}
	return s.query(`SELECT `+columns+` FROM loads WHERE url = ? OR final_url = ?
		ORDER BY executed_at DESC, id DESC`, url, url)
}

func (s *SQLStore) Delete(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM loads WHERE id = ?`, id)
	if err != nil {
		return false, errdef.Wrap(errdef.CodeHistory, err, "delete entry")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errdef.Wrap(errdef.CodeHistory, err, "delete entry")
	}
	return n > 0, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) query(q string, args ...any) ([]Entry, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeHistory, err, "query history")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			executed int64
			duration int64
			trace    sql.NullString
		)
		err := rows.Scan(&e.ID, &executed, &e.Session, &e.Method, &e.URL, &e.FinalURL, &e.Redirects,
			&e.Status, &e.NetError, &e.StatusCode, &e.MimeType, &e.Bytes, &e.BlockedBy, &duration,
			&e.Error, &trace)
		if err != nil {
			return nil, errdef.Wrap(errdef.CodeHistory, err, "scan entry")
		}
		e.ExecutedAt = time.Unix(0, executed)
		e.Duration = time.Duration(duration)
		if trace.Valid && trace.String != "" {
			var summary TraceSummary
			if err := json.Unmarshal([]byte(trace.String), &summary); err != nil {
				return nil, errdef.Wrap(errdef.CodeHistory, err, "parse trace")
			}
			e.Trace = &summary
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errdef.Wrap(errdef.CodeHistory, err, "read history")
	}
	return out, nil
}
