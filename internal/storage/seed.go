package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SeedFile is a YAML fixture of payloads loaded into the relay at startup.
//
//	ttl: 1h
//	results:
//	  - id: demo-1
//	    requestURL: /demo
//	    profile: {name: Request, duration: 2500000}
type SeedFile struct {
	TTL     string           `yaml:"ttl"`
	Results []map[string]any `yaml:"results"`
}

// LoadSeed reads a fixture file into entries stored at now. Entries expire
// after the file's ttl, or defaultTTL when it has none.
func LoadSeed(path string, defaultTTL time.Duration, now time.Time) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data, defaultTTL, now)
}

// ParseSeed parses fixture YAML.
func ParseSeed(data []byte, defaultTTL time.Duration, now time.Time) ([]Entry, error) {
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed yaml: %w", err)
	}

	ttl := defaultTTL
	if f.TTL != "" {
		d, err := time.ParseDuration(f.TTL)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid seed ttl %q", f.TTL)
		}
		ttl = d
	}

	entries := make([]Entry, 0, len(f.Results))
	for i, r := range f.Results {
		// YAML reads unquoted numeric ids as numbers.
		if id, ok := r["id"]; ok && id != nil {
			if _, isString := id.(string); !isString {
				r["id"] = fmt.Sprint(id)
			}
		}
		// Round-trip through JSON so nested YAML maps become payload objects.
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("seed result %d: %w", i, err)
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("seed result %d: %w", i, err)
		}
		e, err := NewEntry(obj, now, ttl)
		if err != nil {
			return nil, fmt.Errorf("seed result %d: %w", i, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
