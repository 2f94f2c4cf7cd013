// Package redirect recovers profiling request ids that the server threads
// through redirect chains and background responses.
package redirect

import (
	"net/url"
	"strings"
)

const (
	// Param is the query parameter the server appends to a redirect Location.
	// Its value is a URL-encoded, comma-separated list of request ids.
	Param = "_mprid_"

	// Header carries the comma-separated ids of a profiled response.
	Header = "X-Mini-Profile-Request-Id"
)

// ExtractIDs returns the request ids carried in rawURL's redirect parameter,
// in the order they appear. Every occurrence of the parameter contributes.
// Values that fail to decode are skipped. Only the text between the first and
// second '?' is treated as the query.
func ExtractIDs(rawURL string) []string {
	ids := []string{}

	q := rawURL
	if i := strings.IndexByte(q, '#'); i >= 0 {
		q = q[:i]
	}
	i := strings.IndexByte(q, '?')
	if i < 0 {
		return ids
	}
	q = q[i+1:]
	// The query ends at the next '?'; anything after it is not read.
	if j := strings.IndexByte(q, '?'); j >= 0 {
		q = q[:j]
	}

	for _, param := range strings.Split(q, "&") {
		name, value, _ := strings.Cut(param, "=")
		if name != Param {
			continue
		}
		decoded, err := url.PathUnescape(value)
		if err != nil {
			continue
		}
		for _, id := range strings.Split(decoded, ",") {
			if id == "" {
				continue
			}
			ids = append(ids, id)
		}
	}
	return ids
}

// SplitIDs splits a comma-separated id list such as the Header value.
// Blank entries are dropped.
func SplitIDs(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
