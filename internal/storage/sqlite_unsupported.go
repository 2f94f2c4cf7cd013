//go:build mips64 || mips64le || ppc64

package storage

import (
	"errors"
	"log/slog"
	"time"
)

var errSQLiteUnavailable = errors.New("SQLite storage not available")

// SQLiteStore is a stub for platforms the pure Go driver does not support.
type SQLiteStore struct{}

// NewSQLiteStore returns an error on unsupported platforms.
func NewSQLiteStore(path string, maxRows int, logger *slog.Logger) (*SQLiteStore, error) {
	return nil, errors.New("SQLite storage is not supported on this platform, use memory storage instead")
}

func (s *SQLiteStore) Put(e Entry) error { return errSQLiteUnavailable }

func (s *SQLiteStore) Get(ids []string, now time.Time) ([]Entry, error) {
	return nil, errSQLiteUnavailable
}

func (s *SQLiteStore) List(opts ListOptions, now time.Time) ([]Entry, error) {
	return nil, errSQLiteUnavailable
}

func (s *SQLiteStore) Len() (int, error) { return 0, errSQLiteUnavailable }

func (s *SQLiteStore) DeleteExpired(now time.Time) (int, error) {
	return 0, errSQLiteUnavailable
}

func (s *SQLiteStore) Close() error { return nil }
