package htmldom

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regionline/internal/dom"
)

const page = `<html><body>
<div id="region-__page">
  <form id="f">
    <input type="hidden" name="J:A-create-1" id="J:A-create-1" value="CreateTodo">
    <input type="text" name="J:A:F-title-create-1" value="milk">
    <input type="checkbox" name="J:A:F-urgent-create-1">
    <input type="checkbox" name="J:A:F-done-create-1" value="yes" checked>
    <textarea name="J:A:F-notes-create-1">two
lines</textarea>
    <select name="J:A:F-status-create-1"><option>open</option><option value="d" selected>done</option></select>
  </form>
  <ul id="list"><li>a</li></ul>
</div>
</body></html>`

func mustParse(t *testing.T) *Document {
	t.Helper()
	doc, err := ParseString(page)
	require.NoError(t, err)
	return doc
}

func TestControlsAndValues(t *testing.T) {
	doc := mustParse(t)
	form := doc.ByID("f")
	require.NotNil(t, form)
	controls := doc.Controls(form)
	require.Len(t, controls, 6)

	values := map[string]string{}
	var silent []string
	for _, c := range controls {
		if v, ok := c.Value(); ok {
			values[c.Name()] = v
		} else {
			silent = append(silent, c.Name())
		}
	}
	assert.Equal(t, "CreateTodo", values["J:A-create-1"])
	assert.Equal(t, "milk", values["J:A:F-title-create-1"])
	assert.Equal(t, "yes", values["J:A:F-done-create-1"])
	assert.Equal(t, "two\nlines", values["J:A:F-notes-create-1"])
	assert.Equal(t, "d", values["J:A:F-status-create-1"])
	assert.Equal(t, []string{"J:A:F-urgent-create-1"}, silent)

	assert.Same(t, controls[0], doc.ByID("J:A-create-1"))
	assert.Equal(t, form, dom.FormOf(controls[1]))
}

func TestSetValueAndDisable(t *testing.T) {
	doc := mustParse(t)
	controls := doc.Controls(doc.ByID("f"))
	title, status := controls[1], controls[5]

	title.SetValue("eggs")
	v, _ := title.Value()
	assert.Equal(t, "eggs", v)

	status.SetValue("open")
	v, _ = status.Value()
	assert.Equal(t, "open", v)

	doc.Focus(title)
	title.SetDisabled(true)
	title.Blur()
	assert.True(t, title.Disabled())
	assert.Nil(t, doc.Focused())
	title.SetDisabled(false)
	assert.False(t, title.Disabled())
}

func TestInsertPositions(t *testing.T) {
	doc := mustParse(t)
	list := doc.ByID("list")

	_, err := doc.Insert(list, dom.Top, "<li>t1</li><li>t2</li>")
	require.NoError(t, err)
	_, err = doc.Insert(list, dom.Bottom, "<li>b</li>")
	require.NoError(t, err)
	assert.Equal(t, "<li>t1</li><li>t2</li><li>a</li><li>b</li>", doc.InnerHTML(list))

	inserted, err := doc.Insert(list, dom.Before, `<p id="before">x</p>`)
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, "before", inserted[0].ID())
	_, err = doc.Insert(list, dom.After, `<p id="after">y</p>`)
	require.NoError(t, err)
	assert.NotNil(t, doc.ByID("after"))

	require.NoError(t, doc.SetInnerHTML(list, "<li>only</li>"))
	assert.Equal(t, "<li>only</li>", doc.InnerHTML(list))

	doc.Remove(list)
	assert.Nil(t, doc.ByID("list"))
	assert.False(t, doc.Attached(list))
}

func TestRemovedElementsLeaveCache(t *testing.T) {
	doc := mustParse(t)
	base := len(doc.elems)
	list := doc.ByID("list")
	require.NoError(t, doc.SetInnerHTML(list, `<li id="i1">1</li><li id="i2">2</li>`))
	item := doc.ByID("i1")
	doc.Focus(item)
	assert.Len(t, doc.elems, base+2)

	require.NoError(t, doc.SetInnerHTML(list, "<li>fresh</li>"))
	assert.Len(t, doc.elems, base+1)
	assert.Nil(t, doc.Focused())
	assert.False(t, doc.Attached(item))

	doc.Remove(list)
	assert.Len(t, doc.elems, base)
	assert.Nil(t, doc.ByID("list"))
	assert.False(t, doc.Attached(list))
}

func TestHideKeepsInlineStyle(t *testing.T) {
	doc, err := ParseString(`<div id="box" style="color: red; width: 10px"><p id="inner">x</p></div>`)
	require.NoError(t, err)
	box := doc.ByID("box")
	inner := doc.ByID("inner")

	doc.Hide(box)
	style, _ := box.Attr("style")
	assert.Equal(t, "color: red; width: 10px; display: none", style)
	assert.False(t, doc.Visible(inner))

	doc.Hide(box)
	style, _ = box.Attr("style")
	assert.Equal(t, "color: red; width: 10px; display: none", style)

	doc.Show(box)
	style, _ = box.Attr("style")
	assert.Equal(t, "color: red; width: 10px", style)
	assert.True(t, doc.Visible(inner))

	doc.Hide(inner)
	doc.Show(inner)
	_, ok := inner.Attr("style")
	assert.False(t, ok)

	styled, err := ParseString(`<p id="p" style="DISPLAY:none">y</p>`)
	require.NoError(t, err)
	assert.False(t, styled.Visible(styled.ByID("p")))
}

func TestRulesApplyToSubtree(t *testing.T) {
	doc := mustParse(t)
	rules := NewRules(doc)
	var seen []string
	require.NoError(t, rules.Register("li.item", func(el dom.Element) { seen = append(seen, el.ID()) }))

	list := doc.ByID("list")
	require.NoError(t, doc.SetInnerHTML(list, `<li class="item" id="i1">1</li><li id="i2">2</li><li class="item" id="i3">3</li>`))
	rules.Apply(list)
	assert.Equal(t, []string{"i1", "i3"}, seen)
	assert.Equal(t, 1, rules.Applied())
}

func TestWindowAndAnimator(t *testing.T) {
	doc := mustParse(t)
	win := NewWindow(doc)
	overlay, err := win.Popout("<p>modal</p>")
	require.NoError(t, err)
	assert.Equal(t, PopoutID, overlay.ID())
	assert.Equal(t, "<p>modal</p>", doc.InnerHTML(overlay))

	anim := NewAnimator(doc)
	list := doc.ByID("list")
	require.NoError(t, anim.Animate(context.Background(), list, dom.Effect{Name: "Fade"}))
	assert.False(t, doc.Visible(list))
	require.NoError(t, anim.Animate(context.Background(), list, dom.Effect{Name: "Appear"}))
	assert.True(t, doc.Visible(list))
	assert.Equal(t, []Animation{{ID: "list", Effect: "Fade"}, {ID: "list", Effect: "Appear"}}, anim.Log())
}
