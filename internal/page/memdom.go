package page

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MemDocument is an in-memory Document backed by a parsed HTML tree. It
// records visibility through inline "display: none" styles, dispatches
// delegated events with bubbling, and logs animations. It backs headless
// sessions and tests, and is not safe for concurrent use.
type MemDocument struct {
	body       *html.Node
	delegates  map[*html.Node][]*delegation
	animations []string
}

type delegation struct {
	owner     *MemDocument
	container *html.Node
	eventType string
	selector  selector
	handler   Handler
}

func (d *delegation) Detach() {
	list := d.owner.delegates[d.container]
	for i, other := range list {
		if other == d {
			d.owner.delegates[d.container] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// NewMemDocument returns a document with an empty body.
func NewMemDocument() *MemDocument {
	root, _ := html.Parse(strings.NewReader("<!DOCTYPE html><html><head></head><body></body></html>"))
	return &MemDocument{
		body:      findFirst(root, func(n *html.Node) bool { return n.DataAtom == atom.Body }),
		delegates: make(map[*html.Node][]*delegation),
	}
}

// AppendToBody implements Document.
func (d *MemDocument) AppendToBody(markup string) error {
	return d.appendTo(d.body, markup)
}

// Append implements Document.
func (d *MemDocument) Append(id, markup string) error {
	n, err := d.element(id)
	if err != nil {
		return err
	}
	return d.appendTo(n, markup)
}

// SetHTML implements Document.
func (d *MemDocument) SetHTML(id, markup string) error {
	n, err := d.element(id)
	if err != nil {
		return err
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	return d.appendTo(n, markup)
}

func (d *MemDocument) appendTo(parent *html.Node, markup string) error {
	nodes, err := html.ParseFragment(strings.NewReader(markup), parent)
	if err != nil {
		return fmt.Errorf("parse markup: %w", err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	return nil
}

// Show implements Document.
func (d *MemDocument) Show(id string) error {
	n, err := d.element(id)
	if err != nil {
		return err
	}
	setDisplay(n, true)
	return nil
}

// SlideDown implements Document. The transition completes immediately.
func (d *MemDocument) SlideDown(id string) error {
	n, err := d.element(id)
	if err != nil {
		return err
	}
	setDisplay(n, true)
	d.animations = append(d.animations, "down:"+id)
	return nil
}

// SlideUp implements Document. The transition completes immediately.
func (d *MemDocument) SlideUp(id string) error {
	n, err := d.element(id)
	if err != nil {
		return err
	}
	setDisplay(n, false)
	d.animations = append(d.animations, "up:"+id)
	return nil
}

// HasClass implements Document.
func (d *MemDocument) HasClass(id, class string) bool {
	n, err := d.element(id)
	if err != nil {
		return false
	}
	for _, c := range classes(n) {
		if c == class {
			return true
		}
	}
	return false
}

// SwapClass implements Document.
func (d *MemDocument) SwapClass(id, from, to string) error {
	n, err := d.element(id)
	if err != nil {
		return err
	}
	out := []string{}
	for _, c := range classes(n) {
		if c != from && c != to {
			out = append(out, c)
		}
	}
	if to != "" {
		out = append(out, to)
	}
	setAttr(n, "class", strings.Join(out, " "))
	return nil
}

// Delegate implements Document.
func (d *MemDocument) Delegate(containerID, eventType, sel string, h Handler) (Binding, error) {
	n, err := d.element(containerID)
	if err != nil {
		return nil, err
	}
	parsed, err := parseSelector(sel)
	if err != nil {
		return nil, err
	}
	del := &delegation{owner: d, container: n, eventType: eventType, selector: parsed, handler: h}
	d.delegates[n] = append(d.delegates[n], del)
	return del, nil
}

// Undelegate implements Document.
func (d *MemDocument) Undelegate(containerID string) {
	if n, err := d.element(containerID); err == nil {
		delete(d.delegates, n)
	}
}

// Click dispatches a click on element id and returns the event after every
// handler has run.
func (d *MemDocument) Click(id string) (*Event, error) {
	return d.Dispatch("click", id)
}

// Dispatch fires an event of the given type at element id. The event bubbles
// toward the root; at each ancestor holding delegated listeners, the handlers
// whose selectors match an element between the target and that ancestor run,
// deepest element first. StopPropagation ends dispatch after the current
// element's handlers.
func (d *MemDocument) Dispatch(eventType, id string) (*Event, error) {
	target, err := d.element(id)
	if err != nil {
		return nil, err
	}
	ev := &Event{Type: eventType, TargetID: id}

	var path []*html.Node
	for n := target; n != nil; n = n.Parent {
		path = append(path, n)
	}

	for i, container := range path {
		dels := append([]*delegation(nil), d.delegates[container]...)
		if len(dels) == 0 {
			continue
		}
		for _, el := range path[:i] {
			if el.Type != html.ElementNode {
				continue
			}
			for _, del := range dels {
				if del.eventType != eventType || !del.selector.matches(el) {
					continue
				}
				del.handler(ev, elementOf(el))
			}
			if ev.propagationStopped {
				return ev, nil
			}
		}
	}
	return ev, nil
}

// Exists reports whether an element with the id is in the document.
func (d *MemDocument) Exists(id string) bool {
	_, err := d.element(id)
	return err == nil
}

// Visible reports whether element id and all its ancestors are displayed.
func (d *MemDocument) Visible(id string) bool {
	n, err := d.element(id)
	if err != nil {
		return false
	}
	for ; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && hidden(n) {
			return false
		}
	}
	return true
}

// InnerHTML renders the content of element id.
func (d *MemDocument) InnerHTML(id string) string {
	n, err := d.element(id)
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&buf, c)
	}
	return buf.String()
}

// Text returns the concatenated text content of element id.
func (d *MemDocument) Text(id string) string {
	n, err := d.element(id)
	if err != nil {
		return ""
	}
	var sb strings.Builder
	walk(n, func(c *html.Node) {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	})
	return sb.String()
}

// ChildIDs returns the ids of the element children of id, in order.
func (d *MemDocument) ChildIDs(id string) []string {
	n, err := d.element(id)
	if err != nil {
		return nil
	}
	var ids []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			ids = append(ids, attr(c, "id"))
		}
	}
	return ids
}

// Find returns the ids of elements inside container that match sel.
func (d *MemDocument) Find(containerID, sel string) []string {
	n, err := d.element(containerID)
	if err != nil {
		return nil
	}
	parsed, err := parseSelector(sel)
	if err != nil {
		return nil
	}
	var ids []string
	walk(n, func(c *html.Node) {
		if c != n && c.Type == html.ElementNode && parsed.matches(c) {
			ids = append(ids, attr(c, "id"))
		}
	})
	return ids
}

// Listeners returns how many delegated listeners are attached to container.
func (d *MemDocument) Listeners(containerID string) int {
	n, err := d.element(containerID)
	if err != nil {
		return 0
	}
	return len(d.delegates[n])
}

// Animations returns the log of slide transitions, e.g. "down:mp-req".
func (d *MemDocument) Animations() []string {
	return append([]string(nil), d.animations...)
}

func (d *MemDocument) element(id string) (*html.Node, error) {
	n := findFirst(d.body, func(n *html.Node) bool {
		return n.Type == html.ElementNode && attr(n, "id") == id
	})
	if n == nil {
		return nil, fmt.Errorf("element %q not found", id)
	}
	return n, nil
}

// Helpers

func findFirst(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if pred(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, pred); found != nil {
			return found
		}
	}
	return nil
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func classes(n *html.Node) []string {
	return strings.Fields(attr(n, "class"))
}

func elementOf(n *html.Node) Element {
	return Element{ID: attr(n, "id"), Tag: n.Data, Classes: classes(n)}
}

func styleDecls(n *html.Node) []string {
	var out []string
	for _, decl := range strings.Split(attr(n, "style"), ";") {
		decl = strings.TrimSpace(decl)
		if decl != "" {
			out = append(out, decl)
		}
	}
	return out
}

func hidden(n *html.Node) bool {
	for _, decl := range styleDecls(n) {
		prop, val, _ := strings.Cut(decl, ":")
		if strings.TrimSpace(prop) == "display" && strings.TrimSpace(val) == "none" {
			return true
		}
	}
	return false
}

func setDisplay(n *html.Node, visible bool) {
	var kept []string
	for _, decl := range styleDecls(n) {
		prop, _, _ := strings.Cut(decl, ":")
		if strings.TrimSpace(prop) != "display" {
			kept = append(kept, decl)
		}
	}
	if !visible {
		kept = append(kept, "display: none")
	}
	style := strings.Join(kept, "; ")
	if style != "" {
		style += ";"
	}
	setAttr(n, "style", style)
}
