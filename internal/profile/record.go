// Package profile holds fetched profiling records for one page session.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// TimestampLayout matches the browser's Date.toString() rendering.
const TimestampLayout = "Mon Jan 02 2006 15:04:05 GMT-0700 (MST)"

// Payload is one entry of the results endpoint's "requests" array.
type Payload struct {
	ID         string          `json:"id"`
	Timestamp  int64           `json:"timestamp"`
	Redirect   bool            `json:"redirect"`
	RequestURL string          `json:"requestURL,omitempty"`
	Profile    json.RawMessage `json:"profile"`
	Appstats   json.RawMessage `json:"appstats,omitempty"`
}

// Node is one timed step in a profile tree. Durations are nanoseconds.
type Node struct {
	Name      string `json:"name"`
	StartTime int64  `json:"startTime"`
	Duration  int64  `json:"duration"`
	Depth     int    `json:"depth"`
	Children  []Node `json:"children,omitempty"`
}

// Services summarises the service calls made while handling a request.
// Times are milliseconds.
type Services struct {
	TotalTime int64                  `json:"totalTime"`
	RPCStats  map[string]ServiceStat `json:"rpcStats"`
	RPCCalls  []ServiceCall          `json:"rpcCalls"`
}

// ServiceStat aggregates the calls to one service method.
type ServiceStat struct {
	TotalCalls int64 `json:"totalCalls"`
	TotalTime  int64 `json:"totalTime"`
}

// ServiceCall is a single service call.
type ServiceCall struct {
	ServiceCallName string   `json:"serviceCallName"`
	TotalTime       int64    `json:"totalTime"`
	StartOffset     int64    `json:"startOffset"`
	Request         string   `json:"request"`
	Response        string   `json:"response"`
	CallStack       []string `json:"callStack"`
}

// Record is the immutable, display-ready form of a Payload.
type Record struct {
	ID                 string
	Timestamp          int64
	TimestampFormatted string
	IsRedirect         bool
	RequestURL         string

	// Profile is the raw tree exactly as the server sent it.
	Profile json.RawMessage
	Tree    Node

	Services *Services

	TotalTimeMs float64
	TotalTime   string
}

var errMissingID = errors.New("payload has no id")

// NewRecord derives a Record from a payload. The formatted timestamp and the
// total time are computed here and never again.
func NewRecord(p Payload) (*Record, error) {
	if p.ID == "" {
		return nil, errMissingID
	}
	if len(p.Profile) == 0 || string(p.Profile) == "null" {
		return nil, fmt.Errorf("payload %s: missing profile", p.ID)
	}

	var tree Node
	if err := json.Unmarshal(p.Profile, &tree); err != nil {
		return nil, fmt.Errorf("payload %s: decode profile: %w", p.ID, err)
	}

	var services *Services
	if len(p.Appstats) > 0 && string(p.Appstats) != "null" {
		services = &Services{}
		if err := json.Unmarshal(p.Appstats, services); err != nil {
			return nil, fmt.Errorf("payload %s: decode appstats: %w", p.ID, err)
		}
	}

	ms := TotalMs(tree.Duration)
	return &Record{
		ID:                 p.ID,
		Timestamp:          p.Timestamp,
		TimestampFormatted: time.UnixMilli(p.Timestamp).Format(TimestampLayout),
		IsRedirect:         p.Redirect,
		RequestURL:         p.RequestURL,
		Profile:            p.Profile,
		Tree:               tree,
		Services:           services,
		TotalTimeMs:        ms,
		TotalTime:          strconv.FormatFloat(ms, 'f', 2, 64),
	}, nil
}

// DecodeRecord decodes one raw payload and derives its Record. A payload that
// does not decode is reported the same way as one NewRecord rejects.
func DecodeRecord(raw json.RawMessage) (*Record, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return NewRecord(p)
}

// TotalMs converts a nanosecond duration to milliseconds rounded to two places.
func TotalMs(durationNs int64) float64 {
	return math.Round(float64(durationNs)/1e4) / 100
}
