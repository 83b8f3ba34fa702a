// Package dom declares the page collaborators the update protocol drives:
// element access, markup mutation, page chrome, visual effects and the rule
// engine that binds behaviours to freshly inserted markup.
package dom

import (
	"context"
	"strings"
)

// Element is a node of the page. Implementations must return the same
// Element value for the same node so that elements compare with ==.
type Element interface {
	ID() string
	Name() string
	Tag() string
	Attr(key string) (string, bool)
	SetAttr(key, value string)
	HasClass(class string) bool
	// Value returns what the control submits; ok is false when it submits
	// nothing, e.g. an unchecked checkbox.
	Value() (value string, ok bool)
	SetValue(value string)
	// InputType is the lower-cased type of an <input>, or the tag name for
	// other controls.
	InputType() string
	Disabled() bool
	SetDisabled(disabled bool)
	Blur()
	// Parent is nil for the root and for detached elements.
	Parent() Element
}

// Position says where inserted markup goes relative to a target.
type Position string

const (
	Top    Position = "Top"
	Bottom Position = "Bottom"
	Before Position = "Before"
	After  Position = "After"
)

// Document gives access to the page's element tree.
type Document interface {
	ByID(id string) Element
	Select(selector string) []Element
	// Controls returns the controls owned by form in document order.
	Controls(form Element) []Element
	InnerHTML(el Element) string
	SetInnerHTML(el Element, markup string) error
	// Insert parses markup and places it relative to el, returning the
	// inserted top-level elements.
	Insert(el Element, pos Position, markup string) ([]Element, error)
	Remove(el Element)
	Hide(el Element)
	Show(el Element)
}

// MessageKind classifies transient messages.
type MessageKind string

const (
	MessageInfo  MessageKind = "message"
	MessageError MessageKind = "error"
)

// Page is the browser chrome around the document.
type Page interface {
	// Alert blocks the user with a message.
	Alert(msg string)
	// Notify shows a transient message, optionally scoped to an action.
	Notify(kind MessageKind, moniker, msg string)
	Navigate(url string)
	ShowWait()
	HideWait()
	// Popout renders markup into a modal overlay and returns its root.
	Popout(markup string) (Element, error)
}

// Effect names a visual transition and its options.
type Effect struct {
	Name    string
	Options map[string]string
}

// Animator runs visual effects. Animate returns once the effect has
// finished.
type Animator interface {
	Animate(ctx context.Context, el Element, effect Effect) error
}

// RuleEngine binds interactive behaviour to every element under root that
// matches its rules.
type RuleEngine interface {
	Apply(root Element)
}

// FormOf returns the nearest <form> ancestor of el, including el itself.
func FormOf(el Element) Element {
	for e := el; e != nil; e = e.Parent() {
		if strings.EqualFold(e.Tag(), "form") {
			return e
		}
	}
	return nil
}

// Closest returns the nearest element from el upwards for which match holds.
func Closest(el Element, match func(Element) bool) Element {
	for e := el; e != nil; e = e.Parent() {
		if match(e) {
			return e
		}
	}
	return nil
}
