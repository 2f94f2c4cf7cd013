// Package render turns widget data into markup using the embedded templates.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"

	"mini-profiler/internal/profile"
	"mini-profiler/web"
)

// Template names.
const (
	Request = "request"
	Result  = "result"
)

// Renderer is a pure function from a template name and data to markup.
type Renderer interface {
	Render(name string, data any) (string, error)
}

// Row is the data behind one summary row.
type Row struct {
	Type      string
	RequestID string
	RowID     string
	TotalTime string
}

// NodeView is a profile node decorated with the element id of its toggle.
type NodeView struct {
	ID        string
	Name      string
	StartTime int64
	Duration  int64
	Self      int64
	Depth     int
	Children  []NodeView
}

// Templates renders with html/template; element ids are namespaced by prefix.
type Templates struct {
	prefix string
	t      *template.Template
}

// New parses the embedded templates.
func New(prefix string) (*Templates, error) {
	fsys, err := web.Templates()
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	r := &Templates{prefix: prefix}
	t, err := template.New("widget").Funcs(template.FuncMap{
		"prefix": func() string { return prefix },
		"ms":     formatMs,
		"tree":   r.tree,
	}).ParseFS(fsys, "*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	r.t = t
	return r, nil
}

// Render implements Renderer.
func (r *Templates) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.t.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// tree builds the view of a profile. Toggle ids follow the node's position,
// e.g. "mp-p-0-2" for the third child of the root.
func (r *Templates) tree(root profile.Node) NodeView {
	return buildView(root, r.prefix+"-p-0")
}

func buildView(n profile.Node, id string) NodeView {
	v := NodeView{
		ID:        id,
		Name:      n.Name,
		StartTime: n.StartTime,
		Duration:  n.Duration,
		Self:      n.Duration,
		Depth:     n.Depth,
	}
	for i, c := range n.Children {
		v.Children = append(v.Children, buildView(c, id+"-"+strconv.Itoa(i)))
		v.Self -= c.Duration
	}
	if v.Self < 0 {
		v.Self = 0
	}
	return v
}

func formatMs(ns int64) string {
	return strconv.FormatFloat(profile.TotalMs(ns), 'f', 2, 64)
}
