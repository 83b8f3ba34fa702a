// Package action binds form controls to named server operations and turns
// them into their wire form.
package action

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"strings"

	"regionline/internal/dom"
	"regionline/internal/naming"
	"regionline/internal/wire"
)

// PlaceholderClass marks a control that still shows its placeholder text.
const PlaceholderClass = "hasPlaceholder"

// CanonicalizeClass marks a control the validator may rewrite.
const CanonicalizeClass = "ajaxcanonicalization"

// ValidateFlag is the query parameter that turns a submission into a
// validation request.
const ValidateFlag = "J:VALIDATE"

// Validator answers validation side requests.
type Validator interface {
	Validate(ctx context.Context, query string) (*wire.Validation, error)
}

// Result is what the server said about one run of an action.
type Result struct {
	Success       bool
	Message       string
	Error         string
	FieldErrors   map[string]string
	FieldWarnings map[string]string
}

// Action is one action instance on the page, identified by its moniker.
type Action struct {
	Moniker string
	Class   string
	// Order is the explicit run order, when the registration carries one.
	Order    int
	HasOrder bool
	// Register is the registration control, nil when the page has none.
	Register dom.Element
	Result   Result

	doc    dom.Document
	form   dom.Element
	extras []dom.Element
	fields []dom.Element
	cached bool
}

// New resolves the action called moniker. The owning form is the
// registration's form, or form when the registration is detached.
func New(doc dom.Document, form dom.Element, extras []dom.Element, moniker string) *Action {
	a := &Action{Moniker: moniker, doc: doc, form: form, extras: extras}
	a.Register = naming.FindRegistration(doc, form, extras, moniker)
	if a.Register == nil {
		return a
	}
	if f := dom.FormOf(a.Register); f != nil {
		a.form = f
	}
	a.Class, _ = a.Register.Value()
	ref := naming.Parse(a.Register.ID())
	if ref.Role != naming.RoleRegistration || !ref.HasOrder {
		ref = naming.Parse(a.Register.Name())
	}
	a.Order, a.HasOrder = ref.Order, ref.HasOrder
	return a
}

// Registered reports whether the page declares the action.
func (a *Action) Registered() bool { return a.Register != nil }

// Form returns the form that owns the action's controls.
func (a *Action) Form() dom.Element { return a.form }

// Fields returns the controls bound to the action: every control of the
// owning form plus extras whose name parses to this moniker. The result is
// computed once.
func (a *Action) Fields() []dom.Element {
	if a.cached {
		return a.fields
	}
	var candidates []dom.Element
	if a.doc != nil && a.form != nil {
		candidates = a.doc.Controls(a.form)
	}
	candidates = append(candidates, a.extras...)
	for _, el := range candidates {
		if naming.Parse(el.Name()).Moniker == a.Moniker {
			a.fields = append(a.fields, el)
		}
	}
	a.cached = true
	return a.fields
}

// Serialize renders the fields as a query string. Controls that submit
// nothing are skipped.
func (a *Action) Serialize() string {
	var parts []string
	for _, el := range a.Fields() {
		v, ok := el.Value()
		if !ok {
			continue
		}
		parts = append(parts, url.QueryEscape(el.Name())+"="+url.QueryEscape(v))
	}
	return strings.Join(parts, "&")
}

// DataStructure builds the wire form of the action. Registration controls,
// controls showing their placeholder and controls that submit nothing are
// left out.
func (a *Action) DataStructure() *wire.Action {
	out := &wire.Action{
		Moniker: a.Moniker,
		Class:   a.Class,
		Fields:  map[string]map[string]*wire.FieldValue{},
	}
	if a.HasOrder {
		order := a.Order
		out.Order = &order
	}
	for _, el := range a.Fields() {
		ref := naming.Parse(el.Name())
		if ref.Role == naming.RoleRegistration || ref.Role == naming.RoleNone {
			continue
		}
		v, ok := el.Value()
		if !ok || showsPlaceholder(el, v) {
			continue
		}
		out.Set(ref.Field, ref.Role.String(), v)
	}
	return out
}

func showsPlaceholder(el dom.Element, value string) bool {
	if !el.HasClass(PlaceholderClass) {
		return false
	}
	ph, ok := el.Attr("placeholder")
	return !ok || ph == value
}

// HasUpload reports whether a file input of the action has a file selected.
func (a *Action) HasUpload() bool {
	for _, el := range a.Fields() {
		if el.InputType() != "file" {
			continue
		}
		if v, ok := el.Value(); ok && v != "" {
			return true
		}
	}
	return false
}

// DisableInputFields disables and blurs the action's fields and the form's
// buttons that are not already disabled, appending each to sink.
func (a *Action) DisableInputFields(sink *[]dom.Element) {
	disable := func(el dom.Element) {
		if el.Disabled() || el.InputType() == "hidden" {
			return
		}
		el.Blur()
		el.SetDisabled(true)
		*sink = append(*sink, el)
	}
	for _, el := range a.Fields() {
		disable(el)
	}
	if a.doc == nil || a.form == nil {
		return
	}
	for _, el := range a.doc.Controls(a.form) {
		if isButton(el) {
			disable(el)
		}
	}
}

func isButton(el dom.Element) bool {
	switch el.InputType() {
	case "button", "submit", "image", "reset":
		return true
	}
	return strings.EqualFold(el.Tag(), "button")
}

// EnableInputFields re-enables exactly the given controls.
func EnableInputFields(list []dom.Element) {
	for _, el := range list {
		el.SetDisabled(false)
	}
}

// ApplyResult records the server's verdict and writes per-field errors and
// warnings into their message containers. Containers of fields the result
// does not mention are cleared.
func (a *Action) ApplyResult(res wire.Result) {
	for _, el := range a.Fields() {
		ref := naming.Parse(el.Name())
		if ref.Role == naming.RoleRegistration {
			continue
		}
		a.setText(naming.ErrorsID(el.Name()), "")
		a.setText(naming.WarningsID(el.Name()), "")
	}
	a.Result = Result{
		Success:       res.Success,
		Message:       res.Message,
		Error:         res.Error,
		FieldErrors:   map[string]string{},
		FieldWarnings: map[string]string{},
	}
	for field, fr := range res.Fields {
		if fr.Error != "" {
			a.Result.FieldErrors[field] = fr.Error
		}
		if fr.Warning != "" {
			a.Result.FieldWarnings[field] = fr.Warning
		}
		name := naming.FieldName(naming.RoleValue, field, a.Moniker)
		a.setText(naming.ErrorsID(name), fr.Error)
		a.setText(naming.WarningsID(name), fr.Warning)
	}
}

// ValidationQuery is the side request that validates the action's current
// field values.
func (a *Action) ValidationQuery() string {
	query := ValidateFlag + "=1"
	if s := a.Serialize(); s != "" {
		query += "&" + s
	}
	return query
}

// Validate asks the validator about the action's current field values and
// applies the verdicts.
func (a *Action) Validate(ctx context.Context, v Validator) error {
	res, err := v.Validate(ctx, a.ValidationQuery())
	if err != nil {
		return fmt.Errorf("validate %s: %w", a.Moniker, err)
	}
	a.ApplyValidation(res)
	return nil
}

// ApplyValidation writes the verdicts addressed to the action into their
// message containers. Only controls flagged for canonicalization are
// rewritten.
func (a *Action) ApplyValidation(res *wire.Validation) {
	if res == nil {
		return
	}
	regID := naming.RegistrationID(a.Moniker)
	for _, va := range res.Actions {
		if va.ID != regID {
			continue
		}
		for _, item := range va.Items {
			if !a.ownsContainer(item.ID) {
				continue
			}
			switch item.Kind {
			case wire.ValidationError, wire.ValidationWarning:
				a.setText(item.ID, item.Text)
			case wire.ValidationOK:
				a.setText(item.ID, "")
			}
		}
	}
	for _, c := range res.Canonicalizations {
		if c.ID != regID {
			continue
		}
		for _, u := range c.Updates {
			for _, el := range a.Fields() {
				if el.Name() == u.Name && el.HasClass(CanonicalizeClass) {
					el.SetValue(u.Value)
				}
			}
		}
		for _, note := range c.Notes {
			if a.ownsContainer(note.ID) {
				a.setText(note.ID, note.Text)
			}
		}
	}
}

// ownsContainer reports whether a message container id refers to the
// action's registration or one of its fields.
func (a *Action) ownsContainer(id string) bool {
	_, name, ok := strings.Cut(id, "-")
	if !ok {
		return false
	}
	return naming.Parse(name).Moniker == a.Moniker
}

func (a *Action) setText(id, text string) {
	if a.doc == nil {
		return
	}
	el := a.doc.ByID(id)
	if el == nil {
		return
	}
	_ = a.doc.SetInnerHTML(el, html.EscapeString(text))
}
