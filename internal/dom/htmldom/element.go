package htmldom

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"regionline/internal/dom"
)

// Element wraps one element node of a Document.
type Element struct {
	doc *Document
	n   *html.Node
}

var _ dom.Element = (*Element)(nil)

func (e *Element) ID() string   { return attr(e.n, "id") }
func (e *Element) Name() string { return attr(e.n, "name") }
func (e *Element) Tag() string  { return e.n.Data }

func (e *Element) Attr(key string) (string, bool) {
	if !hasAttr(e.n, key) {
		return "", false
	}
	return attr(e.n, key), true
}

func (e *Element) SetAttr(key, value string) { setAttr(e.n, key, value) }

func (e *Element) HasClass(class string) bool {
	for _, c := range strings.Fields(attr(e.n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func (e *Element) Value() (string, bool) {
	switch e.n.DataAtom {
	case atom.Input:
		switch e.InputType() {
		case "checkbox", "radio":
			if !hasAttr(e.n, "checked") {
				return "", false
			}
			if v, ok := e.Attr("value"); ok {
				return v, true
			}
			return "on", true
		}
		return attr(e.n, "value"), true
	case atom.Textarea:
		return text(e.n), true
	case atom.Select:
		var first *html.Node
		var selected *html.Node
		walk(e.n, func(c *html.Node) bool {
			if c.Type == html.ElementNode && c.DataAtom == atom.Option {
				if first == nil {
					first = c
				}
				if hasAttr(c, "selected") {
					selected = c
					return false
				}
			}
			return true
		})
		if selected == nil {
			selected = first
		}
		if selected == nil {
			return "", false
		}
		if hasAttr(selected, "value") {
			return attr(selected, "value"), true
		}
		return strings.TrimSpace(text(selected)), true
	case atom.Button:
		return attr(e.n, "value"), true
	}
	return "", false
}

func (e *Element) SetValue(value string) {
	switch e.n.DataAtom {
	case atom.Textarea:
		for c := e.n.FirstChild; c != nil; {
			next := c.NextSibling
			e.n.RemoveChild(c)
			c = next
		}
		e.n.AppendChild(&html.Node{Type: html.TextNode, Data: value})
	case atom.Select:
		walk(e.n, func(c *html.Node) bool {
			if c.Type == html.ElementNode && c.DataAtom == atom.Option {
				optValue := attr(c, "value")
				if !hasAttr(c, "value") {
					optValue = strings.TrimSpace(text(c))
				}
				if optValue == value {
					setAttr(c, "selected", "selected")
				} else {
					removeAttr(c, "selected")
				}
			}
			return true
		})
	default:
		setAttr(e.n, "value", value)
	}
}

func (e *Element) InputType() string {
	if e.n.DataAtom != atom.Input {
		return e.n.Data
	}
	t := strings.ToLower(attr(e.n, "type"))
	if t == "" {
		return "text"
	}
	return t
}

func (e *Element) Disabled() bool { return hasAttr(e.n, "disabled") }

func (e *Element) SetDisabled(disabled bool) {
	if disabled {
		setAttr(e.n, "disabled", "disabled")
		return
	}
	removeAttr(e.n, "disabled")
}

func (e *Element) Blur() {
	if e.doc.focused == e.n {
		e.doc.focused = nil
	}
}

func (e *Element) Parent() dom.Element {
	p := e.n.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil
	}
	return e.doc.wrap(p)
}

// Text returns the text content of the element.
func (e *Element) Text() string { return text(e.n) }

func text(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}
