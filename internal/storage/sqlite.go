//go:build !mips64 && !mips64le && !ppc64

package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO required)
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
    id TEXT PRIMARY KEY,
    payload TEXT NOT NULL,
    stored_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_stored_at ON results(stored_at);
CREATE INDEX IF NOT EXISTS idx_results_expires_at ON results(expires_at);
`

// SQLiteStore implements Store using SQLite with WAL mode.
type SQLiteStore struct {
	db      *sql.DB
	maxRows int
	pruneMu sync.Mutex
	logger  *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// It enables WAL mode for better concurrent performance.
func NewSQLiteStore(path string, maxRows int, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	// modernc.org/sqlite applies _pragma parameters on every new connection.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &SQLiteStore{
		db:      db,
		maxRows: maxRows,
		logger:  logger,
	}, nil
}

// Put stores an entry, replacing any previous one with the same id.
func (s *SQLiteStore) Put(e Entry) error {
	_, err := s.db.Exec(`
		INSERT INTO results (id, payload, stored_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			stored_at = excluded.stored_at,
			expires_at = excluded.expires_at
	`, e.ID, string(e.Payload), e.StoredAt, e.ExpiresAt)
	if err != nil {
		return fmt.Errorf("put result: %w", err)
	}

	// Trigger pruning check (best effort, non-blocking)
	go s.maybePrune()

	return nil
}

// Get returns live entries in request order.
func (s *SQLiteStore) Get(ids []string, now time.Time) ([]Entry, error) {
	if len(ids) == 0 {
		return []Entry{}, nil
	}

	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	args := make([]any, 0, len(unique)+1)
	for _, id := range unique {
		args = append(args, id)
	}
	args = append(args, now.UnixMilli())

	query := fmt.Sprintf(`
		SELECT id, payload, stored_at, expires_at FROM results
		WHERE id IN (%s) AND expires_at > ?
	`, strings.TrimSuffix(strings.Repeat("?,", len(unique)), ","))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}
	defer rows.Close()

	found := make(map[string]Entry, len(unique))
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		found[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		if e, ok := found[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// List returns live entries, newest first.
func (s *SQLiteStore) List(opts ListOptions, now time.Time) ([]Entry, error) {
	opts = normalizeList(opts)

	rows, err := s.db.Query(`
		SELECT id, payload, stored_at, expires_at FROM results
		WHERE expires_at > ?
		ORDER BY stored_at DESC, id ASC
		LIMIT ? OFFSET ?
	`, now.UnixMilli(), opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Len returns the number of stored entries.
func (s *SQLiteStore) Len() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM results`).Scan(&count)
	return count, err
}

// DeleteExpired removes expired entries.
func (s *SQLiteStore) DeleteExpired(now time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM results WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) maybePrune() {
	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM results`).Scan(&count); err != nil {
		s.logger.Error("prune count query failed", "err", err)
		return
	}

	if count <= s.maxRows {
		return
	}

	// Delete oldest rows in batches
	toDelete := count - s.maxRows
	const batchSize = 500
	if toDelete > batchSize {
		toDelete = batchSize
	}

	_, err := s.db.Exec(`
		DELETE FROM results WHERE id IN (
			SELECT id FROM results ORDER BY stored_at ASC LIMIT ?
		)
	`, toDelete)
	if err != nil {
		s.logger.Error("prune failed", "err", err)
	} else {
		s.logger.Debug("pruned old results", "deleted", toDelete)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var payload string
	if err := row.Scan(&e.ID, &payload, &e.StoredAt, &e.ExpiresAt); err != nil {
		return Entry{}, fmt.Errorf("scan result: %w", err)
	}
	e.Payload = []byte(payload)
	return e, nil
}
