package api

import (
	"bytes"
	"io/fs"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"
)

var resourceTypes = map[string]string{
	".js":   "text/javascript",
	".css":  "text/css",
	".html": "text/html",
}

// handleResource serves the source of an embedded widget template with every
// {{prefix}} action replaced by the configured id prefix. The body is still
// html/template source, not markup: clients that render rows themselves parse
// it with their own "ms" and "tree" funcs and get ids matching this relay.
// GET {base}resource?id=request.tmpl
func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("id")
	if s.resources == nil || name == "" || strings.ContainsAny(name, `/\`) {
		s.writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	body, err := fs.ReadFile(s.resources, name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	body = bytes.ReplaceAll(body, []byte("{{prefix}}"), []byte(s.cfg.HTMLIDPrefix))

	ctype, ok := resourceTypes[path.Ext(name)]
	if !ok {
		ctype = "text/plain"
	}
	w.Header().Set("Content-Type", ctype+"; charset=utf-8")
	if hours := s.cfg.ResourceCacheHours; hours > 0 {
		maxAge := time.Duration(hours) * time.Hour
		w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(maxAge.Seconds())))
		w.Header().Set("Expires", s.now().Add(maxAge).UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
