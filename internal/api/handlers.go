package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"mini-profiler/internal/redirect"
	"mini-profiler/internal/storage"
)

const streamWriteTimeout = 10 * time.Second

// ResultsResponse is the body of GET {base}results.
type ResultsResponse struct {
	OK       bool              `json:"ok"`
	Requests []json.RawMessage `json:"requests,omitempty"`
}

// handleResults returns the stored payloads for a comma-separated id list.
// GET {base}results?ids=a,b,c
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")

	raw := r.URL.Query().Get("ids")
	if strings.TrimSpace(raw) == "" {
		s.writeJSON(w, http.StatusOK, ResultsResponse{OK: false})
		return
	}

	entries, err := s.store.Get(redirect.SplitIDs(raw), s.now())
	if err != nil {
		s.logger.Error("failed to load results", "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load results")
		return
	}

	requests := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		payload := e.Payload
		if s.cfg.MaxStackFrames > 0 {
			if trimmed, err := trimStackFrames(payload, s.cfg.MaxStackFrames); err == nil {
				payload = trimmed
			} else {
				s.logger.Debug("leaving call stacks untrimmed", "id", e.ID, "err", err)
			}
		}
		requests = append(requests, payload)
	}
	s.writeJSON(w, http.StatusOK, ResultsResponse{OK: true, Requests: requests})
}

// IngestResponse is the body returned after storing payloads.
type IngestResponse struct {
	OK  bool     `json:"ok"`
	IDs []string `json:"ids"`
}

// handleIngest stores one payload object or an array of them.
// POST {base}results
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.RequestBodyMaxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	objects, err := decodePayloads(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := s.now()
	entries := make([]storage.Entry, 0, len(objects))
	for i, obj := range objects {
		e, err := storage.NewEntry(obj, now, s.cfg.DataExpiry)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("payload %d: %v", i, err))
			return
		}
		entries = append(entries, e)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if err := s.store.Put(e); err != nil {
			s.logger.Error("failed to store result", "id", e.ID, "err", err)
			s.writeError(w, http.StatusInternalServerError, "failed to store result")
			return
		}
		ids = append(ids, e.ID)
	}

	if n, err := s.store.Len(); err == nil {
		s.metrics.UpdateRelayStored(n)
	}
	if s.hub != nil {
		s.hub.Publish(Announcement{IDs: ids, At: now})
	}
	s.logger.Debug("stored results", "ids", ids)
	s.writeJSON(w, http.StatusCreated, IngestResponse{OK: true, IDs: ids})
}

func decodePayloads(body []byte) ([]map[string]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	switch body[0] {
	case '[':
		var list []map[string]json.RawMessage
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("invalid payload array: %w", err)
		}
		if len(list) == 0 {
			return nil, errors.New("empty payload array")
		}
		return list, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(body, &obj); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
		return []map[string]json.RawMessage{obj}, nil
	default:
		return nil, errors.New("body must be a JSON object or array")
	}
}

// trimStackFrames cuts every service call stack in a payload to max frames.
// Unknown fields are kept.
func trimStackFrames(payload json.RawMessage, max int) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, err
	}
	rawStats, ok := obj["appstats"]
	if !ok || string(rawStats) == "null" {
		return payload, nil
	}
	var stats map[string]json.RawMessage
	if err := json.Unmarshal(rawStats, &stats); err != nil {
		return nil, err
	}
	var calls []map[string]json.RawMessage
	if raw, ok := stats["rpcCalls"]; ok {
		if err := json.Unmarshal(raw, &calls); err != nil {
			return nil, err
		}
	}
	changed := false
	for _, call := range calls {
		var stack []json.RawMessage
		if raw, ok := call["callStack"]; !ok || json.Unmarshal(raw, &stack) != nil || len(stack) <= max {
			continue
		}
		b, err := json.Marshal(stack[:max])
		if err != nil {
			return nil, err
		}
		call["callStack"] = b
		changed = true
	}
	if !changed {
		return payload, nil
	}

	var err error
	if stats["rpcCalls"], err = json.Marshal(calls); err != nil {
		return nil, err
	}
	if obj["appstats"], err = json.Marshal(stats); err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

// RecentItem describes a stored result without its payload.
type RecentItem struct {
	ID        string `json:"id"`
	StoredAt  int64  `json:"storedAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

// RecentResponse is the body of GET {base}recent.
type RecentResponse struct {
	OK       bool         `json:"ok"`
	Requests []RecentItem `json:"requests"`
	Limit    int          `json:"limit"`
	Offset   int          `json:"offset"`
}

// handleRecent lists live results, newest first.
// GET {base}recent?limit=50&offset=0
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseInt(q.Get("limit"), 50)
	offset := parseInt(q.Get("offset"), 0)

	entries, err := s.store.List(storage.ListOptions{Limit: limit, Offset: offset}, s.now())
	if err != nil {
		s.logger.Error("failed to list results", "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}

	items := make([]RecentItem, len(entries))
	for i, e := range entries {
		items[i] = RecentItem{ID: e.ID, StoredAt: e.StoredAt, ExpiresAt: e.ExpiresAt}
	}
	w.Header().Set("Cache-Control", "no-cache")
	s.writeJSON(w, http.StatusOK, RecentResponse{OK: true, Requests: items, Limit: limit, Offset: offset})
}

func (s *Server) upgrader() websocket.Upgrader {
	allowAll := s.cfg.CORSAllowOrigin == "*"
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowAll || origin == s.cfg.CORSAllowOrigin {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return strings.EqualFold(u.Host, r.Host)
		},
	}
}

// handleStream pushes an Announcement for every ingest until the client
// goes away.
// GET {base}stream (websocket)
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case a, ok := <-sub:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(a); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
