// Package results is a client for the profiler's results endpoint.
package results

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client fetches profile payloads in batches.
type Client struct {
	BaseURL *url.URL
	HTTP    *http.Client
}

// NewClient constructs a results client. base is the profiler's root path and
// normally ends in a slash, e.g. "http://host/gae_mini_profile/".
func NewClient(base string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: u,
		HTTP:    &http.Client{Timeout: timeout},
	}, nil
}

// Response is the body of GET {base}results. Entries stay raw so one malformed
// payload does not fail the whole batch; see profile.DecodeRecord.
type Response struct {
	OK       bool              `json:"ok"`
	Requests []json.RawMessage `json:"requests"`
}

// Fetch requests every id in a single call.
func (c *Client) Fetch(ctx context.Context, ids []string) (Response, error) {
	u := c.BaseURL.ResolveReference(&url.URL{Path: "results"})
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buf, _ := ioReadAllLimit(resp.Body, 64*1024)
		return Response{}, fmt.Errorf("results status %d: %s", resp.StatusCode, string(buf))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode results: %w", err)
	}
	return out, nil
}

func ioReadAllLimit(r io.Reader, max int64) ([]byte, error) {
	buf := &bytes.Buffer{}
	_, err := io.CopyN(buf, r, max)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf.Bytes(), nil
}

// StreamURL returns the websocket address of the relay's announcement stream.
func (c *Client) StreamURL() string {
	u := c.BaseURL.ResolveReference(&url.URL{Path: "stream"})
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String()
}

// RecentIDs lists the ids of the newest stored results.
func (c *Client) RecentIDs(ctx context.Context, limit int) ([]string, error) {
	u := c.BaseURL.ResolveReference(&url.URL{Path: "recent"})
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recent status %d", resp.StatusCode)
	}

	var out struct {
		Requests []struct {
			ID string `json:"id"`
		} `json:"requests"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode recent: %w", err)
	}
	ids := make([]string, 0, len(out.Requests))
	for _, r := range out.Requests {
		ids = append(ids, r.ID)
	}
	return ids, nil
}
