package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/HendryAvila/docket/internal/digest"
	"github.com/HendryAvila/docket/internal/doc"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// DBFile is the database filename inside the store directory.
const DBFile = "cache.db"

// Store persists outcomes across sessions. Only successes and permanent
// failures are ever written.
type Store interface {
	Get(ctx context.Context, key Key) (doc.Outcome, bool, error)
	Put(ctx context.Context, key Key, ref doc.Ref, outcome doc.Outcome) error
	Purge(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (StoreStats, error)
	Close() error
}

// StoreStats summarizes the persistent store.
type StoreStats struct {
	Path     string `json:"path"`
	Rows     int64  `json:"rows"`
	Positive int64  `json:"positive"`
	Negative int64  `json:"negative"`
	Bytes    int64  `json:"bytes"`
}

// DefaultDir returns the persistent cache directory under the user cache
// directory.
func DefaultDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".cache")
	}
	return filepath.Join(dir, "docket")
}

// SQLiteStore is a Store backed by a pure-Go SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the store in dir.
func OpenSQLite(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cache: create store dir: %w", err)
	}

	dbPath := filepath.Join(dir, DBFile)
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("cache: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("cache: pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: migration: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			key          TEXT    PRIMARY KEY,
			source       TEXT    NOT NULL,
			locator      TEXT    NOT NULL,
			category     TEXT    NOT NULL DEFAULT '',
			kind         TEXT    NOT NULL,
			content      BLOB,
			content_hash TEXT    NOT NULL DEFAULT '',
			reason       TEXT    NOT NULL DEFAULT '',
			code         TEXT    NOT NULL DEFAULT '',
			hint         TEXT    NOT NULL DEFAULT '',
			attempts     INTEGER NOT NULL DEFAULT 0,
			created_at   TEXT    NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_documents_locator ON documents(source, locator);
	`)
	return err
}

func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the stored outcome for key. A success whose content no longer
// matches its recorded hash is deleted and reported as a miss.
func (s *SQLiteStore) Get(ctx context.Context, key Key) (doc.Outcome, bool, error) {
	var (
		kind, hash, reason, code, hint string
		content                        []byte
		attempts                       int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT kind, content, content_hash, reason, code, hint, attempts FROM documents WHERE key = ?`,
		string(key)).Scan(&kind, &content, &hash, &reason, &code, &hint, &attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return doc.Outcome{}, false, nil
	}
	if err != nil {
		return doc.Outcome{}, false, fmt.Errorf("cache: reading %s: %w", key, err)
	}

	outcome := doc.Outcome{Kind: doc.OutcomeKind(kind), Reason: reason, Code: code, Hint: hint, Attempts: attempts}
	switch outcome.Kind {
	case doc.Success:
		if digest.Bytes(content) != hash {
			if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE key = ?`, string(key)); err != nil {
				return doc.Outcome{}, false, fmt.Errorf("cache: dropping corrupt row %s: %w", key, err)
			}
			return doc.Outcome{}, false, nil
		}
		if content == nil {
			content = []byte{}
		}
		outcome.Content = content
	case doc.PermanentFailure:
	default:
		return doc.Outcome{}, false, nil
	}
	return outcome, true, nil
}

// Put upserts outcome. Outcomes that are not persistable are rejected.
func (s *SQLiteStore) Put(ctx context.Context, key Key, ref doc.Ref, outcome doc.Outcome) error {
	if !outcome.Persistable() {
		return fmt.Errorf("cache: %s outcome is not persistable", outcome.Kind)
	}
	var content []byte
	hash := ""
	if outcome.Kind == doc.Success {
		content = outcome.Content
		hash = digest.Bytes(content)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (key, source, locator, category, kind, content, content_hash, reason, code, hint, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			category     = excluded.category,
			kind         = excluded.kind,
			content      = excluded.content,
			content_hash = excluded.content_hash,
			reason       = excluded.reason,
			code         = excluded.code,
			hint         = excluded.hint,
			attempts     = excluded.attempts,
			created_at   = excluded.created_at`,
		string(key), string(ref.Source), ref.Locator, ref.Category, string(outcome.Kind),
		content, hash, outcome.Reason, outcome.Code, outcome.Hint, outcome.Attempts, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("cache: writing %s: %w", ref, err)
	}
	return nil
}

// Purge deletes every stored row and returns how many were removed.
func (s *SQLiteStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents`)
	if err != nil {
		return 0, fmt.Errorf("cache: purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (StoreStats, error) {
	st := StoreStats{Path: s.path}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN kind = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind != 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(LENGTH(content)), 0)
		FROM documents`).Scan(&st.Rows, &st.Positive, &st.Negative, &st.Bytes)
	if err != nil {
		return StoreStats{}, fmt.Errorf("cache: stats: %w", err)
	}
	return st, nil
}
