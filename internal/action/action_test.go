package action

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regionline/internal/dom"
	"regionline/internal/dom/htmldom"
	"regionline/internal/wire"
)

const form = `<html><body><form id="f">
<input type="hidden" id="J:A-3-create-1" name="J:A-3-create-1" value="CreateTodo">
<input type="text" name="J:A:F-title-create-1" value="buy milk">
<input type="text" name="J:A:F:F-title-create-1" value="untitled">
<input type="text" class="hasPlaceholder" placeholder="notes..." name="J:A:F-notes-create-1" value="notes...">
<input type="checkbox" name="J:A:F-tag-create-1" value="home" checked>
<input type="checkbox" name="J:A:F-tag-create-1" value="work" checked>
<input type="checkbox" name="J:A:F-urgent-create-1">
<input type="text" class="ajaxcanonicalization" name="J:A:F-due-create-1" value="tomorrow">
<input type="text" name="J:A:F-title-other-2" value="not mine">
<input type="submit" value="Create">
<span id="errors-J:A:F-title-create-1"></span>
<span id="warnings-J:A:F-due-create-1"></span>
<span id="canonicalization_note-J:A:F-due-create-1"></span>
</form></body></html>`

func parse(t *testing.T, markup string) *htmldom.Document {
	t.Helper()
	doc, err := htmldom.ParseString(markup)
	require.NoError(t, err)
	return doc
}

func TestNewResolvesRegistration(t *testing.T) {
	doc := parse(t, form)
	a := New(doc, doc.ByID("f"), nil, "create-1")
	require.True(t, a.Registered())
	assert.Equal(t, "CreateTodo", a.Class)
	assert.True(t, a.HasOrder)
	assert.Equal(t, 3, a.Order)
	assert.Len(t, a.Fields(), 8)

	missing := New(doc, doc.ByID("f"), nil, "nope")
	assert.False(t, missing.Registered())
}

func TestDataStructure(t *testing.T) {
	doc := parse(t, form)
	a := New(doc, doc.ByID("f"), nil, "create-1")
	ds := a.DataStructure()

	require.NotNil(t, ds.Order)
	assert.Equal(t, 3, *ds.Order)
	assert.Equal(t, "create-1", ds.Moniker)
	assert.Equal(t, []string{"buy milk"}, ds.Fields["title"]["value"].Values)
	assert.Equal(t, []string{"untitled"}, ds.Fields["title"]["fallback"].Values)
	assert.Equal(t, []string{"home", "work"}, ds.Fields["tag"]["value"].Values)
	assert.NotContains(t, ds.Fields, "notes")
	assert.NotContains(t, ds.Fields, "urgent")
}

func TestSerializeSkipsSilentControls(t *testing.T) {
	doc := parse(t, `<form id="f">
<input type="hidden" name="J:A-m" value="Ping">
<input name="J:A:F-q-m" value="a b&c">
<input type="checkbox" name="J:A:F-x-m">
</form>`)
	a := New(doc, doc.ByID("f"), nil, "m")
	assert.Equal(t, "J%3AA-m=Ping&J%3AA%3AF-q-m=a+b%26c", a.Serialize())
}

func TestHasUpload(t *testing.T) {
	doc := parse(t, `<form id="f">
<input type="hidden" name="J:A-create-1" value="CreateTodo">
<input type="file" name="J:A:F-attachment-create-1">
</form>`)
	a := New(doc, doc.ByID("f"), nil, "create-1")
	assert.False(t, a.HasUpload())

	a.Fields()[1].SetValue("C:\\fakepath\\photo.png")
	assert.True(t, a.HasUpload())
}

func TestDisableAndEnableExactlyOnce(t *testing.T) {
	doc := parse(t, form)
	f := doc.ByID("f")
	a := New(doc, f, nil, "create-1")

	fields := a.Fields()
	fields[2].SetDisabled(true)

	var disabled []dom.Element
	a.DisableInputFields(&disabled)
	// 8 fields minus the hidden registration and the pre-disabled fallback,
	// plus the submit button.
	assert.Len(t, disabled, 7)
	for _, el := range disabled {
		assert.True(t, el.Disabled())
	}

	EnableInputFields(disabled)
	for _, el := range disabled {
		assert.False(t, el.Disabled())
	}
	assert.True(t, fields[2].Disabled())
}

func TestExtrasJoinFields(t *testing.T) {
	doc := parse(t, `<div><a id="link">done</a></div>`)
	extras := []dom.Element{
		dom.NewHidden("J:A-update-7", "UpdateTodo"),
		dom.NewHidden("J:A:F-status-update-7", "done"),
	}
	a := New(doc, nil, extras, "update-7")
	require.True(t, a.Registered())
	assert.Equal(t, "UpdateTodo", a.Class)
	assert.Equal(t, []string{"done"}, a.DataStructure().Fields["status"]["value"].Values)
}

func TestApplyResult(t *testing.T) {
	doc := parse(t, form)
	a := New(doc, doc.ByID("f"), nil, "create-1")
	a.ApplyResult(wire.Result{
		Moniker: "create-1",
		Success: false,
		Error:   "could not create",
		Fields:  map[string]wire.FieldResult{"title": {Error: "too <short>"}},
	})
	assert.False(t, a.Result.Success)
	assert.Equal(t, "too <short>", a.Result.FieldErrors["title"])
	assert.Equal(t, "too &lt;short&gt;", doc.InnerHTML(doc.ByID("errors-J:A:F-title-create-1")))
}

func TestApplyResultClearsStaleMessages(t *testing.T) {
	doc := parse(t, form)
	a := New(doc, doc.ByID("f"), nil, "create-1")
	a.ApplyResult(wire.Result{
		Moniker: "create-1",
		Fields: map[string]wire.FieldResult{
			"title": {Error: "Title is taken"},
			"due":   {Warning: "That is a weekend"},
		},
	})
	require.Equal(t, "Title is taken", doc.InnerHTML(doc.ByID("errors-J:A:F-title-create-1")))
	require.Equal(t, "That is a weekend", doc.InnerHTML(doc.ByID("warnings-J:A:F-due-create-1")))

	a.ApplyResult(wire.Result{Moniker: "create-1", Success: true, Message: "Created"})
	assert.True(t, a.Result.Success)
	assert.Empty(t, a.Result.FieldErrors)
	assert.Empty(t, doc.InnerHTML(doc.ByID("errors-J:A:F-title-create-1")))
	assert.Empty(t, doc.InnerHTML(doc.ByID("warnings-J:A:F-due-create-1")))
}

type fakeValidator struct {
	query string
	resp  *wire.Validation
	err   error
}

func (f *fakeValidator) Validate(_ context.Context, query string) (*wire.Validation, error) {
	f.query = query
	return f.resp, f.err
}

func TestValidate(t *testing.T) {
	doc := parse(t, form)
	a := New(doc, doc.ByID("f"), nil, "create-1")
	v := &fakeValidator{resp: &wire.Validation{
		Actions: []wire.ValidationAction{
			{ID: "J:A-create-1", Items: []wire.ValidationItem{
				{Kind: wire.ValidationError, ID: "errors-J:A:F-title-create-1", Text: "Title is taken"},
				{Kind: wire.ValidationWarning, ID: "warnings-J:A:F-due-create-1", Text: "That is soon"},
			}},
			{ID: "J:A-other-2", Items: []wire.ValidationItem{
				{Kind: wire.ValidationError, ID: "errors-J:A:F-title-create-1", Text: "wrong action"},
			}},
		},
		Canonicalizations: []wire.Canonicalization{{
			ID: "J:A-create-1",
			Updates: []wire.FieldUpdate{
				{Name: "J:A:F-due-create-1", Value: "2026-10-19"},
				{Name: "J:A:F-title-create-1", Value: "ignored"},
			},
			Notes: []wire.ValidationItem{{ID: "canonicalization_note-J:A:F-due-create-1", Text: "Parsed as a date"}},
		}},
	}}

	require.NoError(t, a.Validate(context.Background(), v))
	assert.True(t, strings.HasPrefix(v.query, "J:VALIDATE=1&J%3AA-3-create-1=CreateTodo"))
	assert.Equal(t, "Title is taken", doc.InnerHTML(doc.ByID("errors-J:A:F-title-create-1")))
	assert.Equal(t, "That is soon", doc.InnerHTML(doc.ByID("warnings-J:A:F-due-create-1")))
	assert.Equal(t, "Parsed as a date", doc.InnerHTML(doc.ByID("canonicalization_note-J:A:F-due-create-1")))

	due, _ := a.Fields()[7].Value()
	assert.Equal(t, "2026-10-19", due)
	title, _ := a.Fields()[1].Value()
	assert.Equal(t, "buy milk", title)

	v.resp = &wire.Validation{Actions: []wire.ValidationAction{{ID: "J:A-create-1", Items: []wire.ValidationItem{
		{Kind: wire.ValidationOK, ID: "errors-J:A:F-title-create-1"},
	}}}}
	require.NoError(t, a.Validate(context.Background(), v))
	assert.Equal(t, "", doc.InnerHTML(doc.ByID("errors-J:A:F-title-create-1")))

	v.err = errors.New("connection refused")
	assert.ErrorContains(t, a.Validate(context.Background(), v), "connection refused")
}

func TestFieldMergeProperty(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("one value is scalar, more keep insertion order", prop.ForAll(
		func(values []string) bool {
			var b strings.Builder
			b.WriteString(`<form id="f"><input type="hidden" name="J:A-m" value="C">`)
			for _, v := range values {
				fmt.Fprintf(&b, `<input type="hidden" name="J:A:F-x-m" value="%s">`, v)
			}
			b.WriteString(`</form>`)
			doc, err := htmldom.ParseString(b.String())
			if err != nil {
				return false
			}
			ds := New(doc, doc.ByID("f"), nil, "m").DataStructure()
			if len(values) == 0 {
				return len(ds.Fields) == 0
			}
			fv := ds.Fields["x"]["value"]
			if fv == nil || len(fv.Values) != len(values) {
				return false
			}
			for i := range values {
				if fv.Values[i] != values[i] {
					return false
				}
			}
			raw, err := fv.MarshalJSON()
			if err != nil {
				return false
			}
			isArray := strings.HasPrefix(string(raw), "[")
			return isArray == (len(values) > 1)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
