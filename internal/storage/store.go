// Package storage holds serialized profile payloads for the results relay
// until they expire.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one stored result payload.
type Entry struct {
	ID string `json:"id"`
	// Payload is the serialized payload exactly as ingested.
	Payload   json.RawMessage `json:"payload"`
	StoredAt  int64           `json:"stored_at"`  // unix ms
	ExpiresAt int64           `json:"expires_at"` // unix ms
}

// Expired reports whether e is past its expiry at now.
func (e Entry) Expired(now time.Time) bool {
	return e.ExpiresAt <= now.UnixMilli()
}

// ListOptions paginates listings.
type ListOptions struct {
	Limit  int
	Offset int
}

// Store is the interface for result payload storage.
type Store interface {
	// Put stores e, replacing any entry with the same id.
	Put(e Entry) error

	// Get returns the live entries for ids in request order. Unknown and
	// expired ids are skipped; an id requested twice is returned twice.
	Get(ids []string, now time.Time) ([]Entry, error)

	// List returns live entries, newest first.
	List(opts ListOptions, now time.Time) ([]Entry, error)

	// Len returns the number of stored entries, expired ones included.
	Len() (int, error)

	// DeleteExpired removes expired entries and reports how many went.
	DeleteExpired(now time.Time) (int, error)

	// Close releases resources.
	Close() error
}

// NewEntry wraps one serialized payload object. A missing id is filled with
// a random UUID; a payload without a profile is rejected.
func NewEntry(obj map[string]json.RawMessage, now time.Time, ttl time.Duration) (Entry, error) {
	if obj == nil {
		return Entry{}, errors.New("payload must be a JSON object")
	}
	if p, ok := obj["profile"]; !ok || string(p) == "null" {
		return Entry{}, errors.New("payload has no profile")
	}

	var id string
	if raw, ok := obj["id"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &id); err != nil {
			return Entry{}, fmt.Errorf("payload id must be a string: %w", err)
		}
	}
	if id == "" {
		id = uuid.NewString()
		encoded, _ := json.Marshal(id)
		obj["id"] = encoded
	}
	if _, ok := obj["timestamp"]; !ok {
		obj["timestamp"] = json.RawMessage(fmt.Sprint(now.UnixMilli()))
	}

	payload, err := json.Marshal(obj)
	if err != nil {
		return Entry{}, fmt.Errorf("encode payload: %w", err)
	}
	return Entry{
		ID:        id,
		Payload:   payload,
		StoredAt:  now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
	}, nil
}

func normalizeList(opts ListOptions) ListOptions {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}
