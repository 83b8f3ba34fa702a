package htmldom

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"regionline/internal/dom"
)

// PopoutID is the id of the overlay Popout renders into.
const PopoutID = "jifty-popout"

// Message is a transient message shown by the window.
type Message struct {
	Kind    dom.MessageKind
	Moniker string
	Text    string
}

// Window records the chrome interactions of a headless page.
type Window struct {
	Doc *Document

	mu        sync.Mutex
	alerts    []string
	messages  []Message
	location  string
	waitDepth int
	waitShown int
}

var _ dom.Page = (*Window)(nil)

// NewWindow returns a window around doc.
func NewWindow(doc *Document) *Window {
	return &Window{Doc: doc}
}

func (w *Window) Alert(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.alerts = append(w.alerts, msg)
}

func (w *Window) Notify(kind dom.MessageKind, moniker, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, Message{Kind: kind, Moniker: moniker, Text: msg})
}

func (w *Window) Navigate(url string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.location = url
}

func (w *Window) ShowWait() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.waitDepth++
	w.waitShown++
}

func (w *Window) HideWait() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.waitDepth > 0 {
		w.waitDepth--
	}
}

func (w *Window) Popout(markup string) (dom.Element, error) {
	overlay := w.Doc.ByID(PopoutID)
	if overlay == nil {
		body := w.Doc.Body()
		if body == nil {
			return nil, fmt.Errorf("popout: document has no body")
		}
		n := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div,
			Attr: []html.Attribute{{Key: "id", Val: PopoutID}, {Key: "class", Val: "popout"}}}
		body.n.AppendChild(n)
		overlay = w.Doc.wrap(n)
	}
	if err := w.Doc.SetInnerHTML(overlay, markup); err != nil {
		return nil, err
	}
	w.Doc.Show(overlay)
	return overlay, nil
}

// Alerts returns the alerts raised so far.
func (w *Window) Alerts() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.alerts...)
}

// Messages returns the transient messages shown so far.
func (w *Window) Messages() []Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Message(nil), w.messages...)
}

// Location returns the last navigation target.
func (w *Window) Location() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.location
}

// Waiting reports whether the wait indicator is currently shown.
func (w *Window) Waiting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.waitDepth > 0
}

// WaitShown counts how often the wait indicator was raised.
func (w *Window) WaitShown() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.waitShown
}

// Animation is one recorded effect run.
type Animation struct {
	ID     string
	Effect string
}

var (
	entranceEffects = map[string]bool{"Appear": true, "SlideDown": true, "BlindDown": true, "Grow": true, "Show": true}
	exitEffects     = map[string]bool{"Fade": true, "SlideUp": true, "BlindUp": true, "Shrink": true, "Puff": true, "Hide": true}
)

// Animator completes every effect after Delay. Entrance effects leave the
// element visible, exit effects leave it hidden.
type Animator struct {
	Doc   *Document
	Delay time.Duration

	mu  sync.Mutex
	log []Animation
}

var _ dom.Animator = (*Animator)(nil)

// NewAnimator returns an animator that finishes effects immediately.
func NewAnimator(doc *Document) *Animator {
	return &Animator{Doc: doc}
}

func (a *Animator) Animate(ctx context.Context, el dom.Element, effect dom.Effect) error {
	a.mu.Lock()
	a.log = append(a.log, Animation{ID: el.ID(), Effect: effect.Name})
	a.mu.Unlock()
	if a.Delay > 0 {
		t := time.NewTimer(a.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	switch {
	case entranceEffects[effect.Name]:
		a.Doc.Show(el)
	case exitEffects[effect.Name]:
		a.Doc.Hide(el)
	}
	return nil
}

// Log returns the effects run so far.
func (a *Animator) Log() []Animation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Animation(nil), a.log...)
}
