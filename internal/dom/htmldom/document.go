// Package htmldom is a headless page built on golang.org/x/net/html. It
// implements the collaborators in package dom so the update protocol can run
// without a browser: from the CLI, in tests, or against a rendered snapshot.
//
// A Document is not safe for concurrent use; the update coordinator
// serialises all access to it.
package htmldom

import (
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"regionline/internal/dom"
)

// Document is a parsed HTML page.
type Document struct {
	root    *html.Node
	elems   map[*html.Node]*Element
	focused *html.Node
}

var _ dom.Document = (*Document)(nil)

// Parse reads a full HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{root: root, elems: map[*html.Node]*Element{}}, nil
}

// ParseString reads a full HTML document from a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// HTML renders the whole document.
func (d *Document) HTML() string {
	var b strings.Builder
	_ = html.Render(&b, d.root)
	return b.String()
}

// Body returns the <body> element.
func (d *Document) Body() *Element {
	var body *html.Node
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			body = n
			return false
		}
		return true
	})
	if body == nil {
		return nil
	}
	return d.wrap(body)
}

func (d *Document) wrap(n *html.Node) *Element {
	if e, ok := d.elems[n]; ok {
		return e
	}
	e := &Element{doc: d, n: n}
	d.elems[n] = e
	return e
}

// forget drops the wrappers of a detached subtree. Wrappers already handed
// out keep working; a later lookup of the same node gets a fresh one.
func (d *Document) forget(n *html.Node) {
	walk(n, func(c *html.Node) bool {
		delete(d.elems, c)
		if c == d.focused {
			d.focused = nil
		}
		return true
	})
}

func nodeOf(el dom.Element) *html.Node {
	if e, ok := el.(*Element); ok && e != nil {
		return e.n
	}
	return nil
}

// walk visits n and its descendants in document order until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func (d *Document) ByID(id string) dom.Element {
	if id == "" {
		return nil
	}
	var found *html.Node
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && attr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	if found == nil {
		return nil
	}
	return d.wrap(found)
}

func (d *Document) Select(selector string) []dom.Element {
	return d.selectIn(d.root, selector, false)
}

// SelectIn matches selector against root and its descendants.
func (d *Document) SelectIn(root dom.Element, selector string) []dom.Element {
	n := nodeOf(root)
	if n == nil {
		return nil
	}
	return d.selectIn(n, selector, true)
}

func (d *Document) selectIn(root *html.Node, selector string, self bool) []dom.Element {
	group, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil
	}
	return d.match(root, group, self)
}

func (d *Document) match(root *html.Node, m cascadia.Matcher, self bool) []dom.Element {
	var out []dom.Element
	seen := map[*html.Node]bool{}
	if self && root.Type == html.ElementNode && m.Match(root) {
		seen[root] = true
		out = append(out, d.wrap(root))
	}
	for _, n := range cascadia.QueryAll(root, m) {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, d.wrap(n))
	}
	return out
}

func (d *Document) Controls(form dom.Element) []dom.Element {
	n := nodeOf(form)
	if n == nil {
		return nil
	}
	var out []dom.Element
	walk(n, func(c *html.Node) bool {
		if c != n && c.Type == html.ElementNode {
			switch c.DataAtom {
			case atom.Input, atom.Select, atom.Textarea, atom.Button:
				out = append(out, d.wrap(c))
			}
		}
		return true
	})
	return out
}

func (d *Document) InnerHTML(el dom.Element) string {
	n := nodeOf(el)
	if n == nil {
		return ""
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&b, c)
	}
	return b.String()
}

func (d *Document) SetInnerHTML(el dom.Element, markup string) error {
	n := nodeOf(el)
	if n == nil {
		return fmt.Errorf("set inner html: element not in document")
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), n)
	if err != nil {
		return fmt.Errorf("parse fragment: %w", err)
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		d.forget(c)
		c = next
	}
	for _, c := range nodes {
		n.AppendChild(c)
	}
	return nil
}

func (d *Document) Insert(el dom.Element, pos dom.Position, markup string) ([]dom.Element, error) {
	n := nodeOf(el)
	if n == nil {
		return nil, fmt.Errorf("insert: element not in document")
	}
	context := n
	switch pos {
	case dom.Top, dom.Bottom:
	case dom.Before, dom.After:
		if n.Parent == nil {
			return nil, fmt.Errorf("insert %s: element has no parent", pos)
		}
		context = n.Parent
	default:
		return nil, fmt.Errorf("insert: unknown position %q", pos)
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), context)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}
	anchor := n.FirstChild
	for _, c := range nodes {
		switch pos {
		case dom.Top:
			n.InsertBefore(c, anchor)
		case dom.Bottom:
			n.AppendChild(c)
		case dom.Before:
			n.Parent.InsertBefore(c, n)
		case dom.After:
			n.Parent.InsertBefore(c, n.NextSibling)
		}
	}
	var out []dom.Element
	for _, c := range nodes {
		if c.Type == html.ElementNode {
			out = append(out, d.wrap(c))
		}
	}
	return out, nil
}

func (d *Document) Remove(el dom.Element) {
	n := nodeOf(el)
	if n == nil || n.Parent == nil {
		return
	}
	n.Parent.RemoveChild(n)
	d.forget(n)
}

// Hide appends display: none to the element's inline style, keeping the
// declarations already there.
func (d *Document) Hide(el dom.Element) {
	n := nodeOf(el)
	if n == nil || hidden(n) {
		return
	}
	decls := styleDecls(attr(n, "style"))
	setAttr(n, "style", strings.Join(append(decls, "display: none"), "; "))
}

// Show drops the display: none declarations Hide added and leaves the rest
// of the inline style alone.
func (d *Document) Show(el dom.Element) {
	n := nodeOf(el)
	if n == nil || !hasAttr(n, "style") {
		return
	}
	var kept []string
	for _, decl := range styleDecls(attr(n, "style")) {
		if !isDisplayNone(decl) {
			kept = append(kept, decl)
		}
	}
	if len(kept) == 0 {
		removeAttr(n, "style")
		return
	}
	setAttr(n, "style", strings.Join(kept, "; "))
}

// Visible reports whether el is displayed, i.e. neither it nor an ancestor
// is hidden.
func (d *Document) Visible(el dom.Element) bool {
	for n := nodeOf(el); n != nil; n = n.Parent {
		if n.Type == html.ElementNode && hidden(n) {
			return false
		}
	}
	return true
}

func hidden(n *html.Node) bool {
	for _, decl := range styleDecls(attr(n, "style")) {
		if isDisplayNone(decl) {
			return true
		}
	}
	return false
}

func styleDecls(style string) []string {
	var out []string
	for _, decl := range strings.Split(style, ";") {
		if decl = strings.TrimSpace(decl); decl != "" {
			out = append(out, decl)
		}
	}
	return out
}

func isDisplayNone(decl string) bool {
	prop, value, ok := strings.Cut(decl, ":")
	return ok && strings.EqualFold(strings.TrimSpace(prop), "display") &&
		strings.EqualFold(strings.TrimSpace(value), "none")
}

// Focus gives el the input focus.
func (d *Document) Focus(el dom.Element) {
	d.focused = nodeOf(el)
}

// Focused returns the element holding the input focus.
func (d *Document) Focused() dom.Element {
	if d.focused == nil {
		return nil
	}
	return d.wrap(d.focused)
}

// Attached reports whether el is still part of the document tree.
func (d *Document) Attached(el dom.Element) bool {
	for n := nodeOf(el); n != nil; n = n.Parent {
		if n == d.root {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, value string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: value})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}
