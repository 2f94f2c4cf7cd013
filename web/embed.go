// Package web embeds the widget's HTML templates.
package web

import (
	"embed"
	"io/fs"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Templates returns the embedded template filesystem rooted at templates/,
// so files are addressed directly (e.g. "request.tmpl").
func Templates() (fs.FS, error) {
	return fs.Sub(templatesFS, "templates")
}
