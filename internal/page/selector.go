package page

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// selector is the subset of CSS the widget uses: compound selectors made of
// an optional tag, an optional #id and any number of .classes, joined by the
// descendant combinator.
type selector struct {
	parts []compound // outermost first
}

type compound struct {
	tag     string
	id      string
	classes []string
}

func parseSelector(s string) (selector, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return selector{}, fmt.Errorf("empty selector")
	}
	sel := selector{parts: make([]compound, 0, len(fields))}
	for _, f := range fields {
		c, err := parseCompound(f)
		if err != nil {
			return selector{}, fmt.Errorf("selector %q: %w", s, err)
		}
		sel.parts = append(sel.parts, c)
	}
	return sel, nil
}

func parseCompound(s string) (compound, error) {
	var c compound
	i := strings.IndexAny(s, "#.")
	if i < 0 {
		c.tag = strings.ToLower(s)
		return c, nil
	}
	c.tag = strings.ToLower(s[:i])
	rest := s[i:]
	for rest != "" {
		kind := rest[0]
		rest = rest[1:]
		j := strings.IndexAny(rest, "#.")
		if j < 0 {
			j = len(rest)
		}
		name := rest[:j]
		rest = rest[j:]
		if name == "" {
			return compound{}, fmt.Errorf("empty name after %q", kind)
		}
		if kind == '#' {
			c.id = name
		} else {
			c.classes = append(c.classes, name)
		}
	}
	return c, nil
}

func (c compound) matches(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && c.tag != "*" && n.Data != c.tag {
		return false
	}
	if c.id != "" && attr(n, "id") != c.id {
		return false
	}
	if len(c.classes) > 0 {
		have := classes(n)
		for _, want := range c.classes {
			found := false
			for _, h := range have {
				if h == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

// matches reports whether n is matched by the rightmost compound and each
// remaining compound matches some ancestor, in order.
func (s selector) matches(n *html.Node) bool {
	last := len(s.parts) - 1
	if !s.parts[last].matches(n) {
		return false
	}
	i := last - 1
	for a := n.Parent; a != nil && i >= 0; a = a.Parent {
		if s.parts[i].matches(a) {
			i--
		}
	}
	return i < 0
}
