package server

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regionline/internal/dom/htmldom"
	"regionline/internal/update"
	regionsdk "regionline/sdk/go"
)

// TestPageRoundTrip drives the served page through the update coordinator
// against the real endpoints.
func TestPageRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()

	client := regionsdk.New(srv.URL)
	markup, err := client.Page(ctx, "/")
	require.NoError(t, err)
	doc, err := htmldom.ParseString(markup)
	require.NoError(t, err)
	win := htmldom.NewWindow(doc)

	c, err := update.New(update.Options{
		Document:  doc,
		Page:      win,
		Rules:     htmldom.NewRules(doc),
		Animator:  htmldom.NewAnimator(doc),
		Transport: client,
		Validator: client,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	c.Declare("__page", "/", nil, "", false)

	title := doc.Select(`input[name="J:A:F-title-create-1"]`)
	require.Len(t, title, 1)
	title[0].SetValue("  buy   milk ")

	c.Validate(ctx, title[0], "create-1")
	v, _ := title[0].Value()
	assert.Equal(t, "buy milk", v)
	assert.Equal(t, "Extra whitespace was removed.", text(doc, "canonicalization_note-J:A:F-title-create-1"))
	assert.Empty(t, text(doc, "errors-J:A:F-title-create-1"))

	out := c.Run(ctx, update.Request{
		Trigger:   doc.ByID("create-submit"),
		Fragments: []update.FragmentRequest{{Region: "__page-todo_list", Path: "/fragments/todolist"}},
	})
	require.NoError(t, out.Err)
	assert.True(t, out.Sent)
	require.Contains(t, out.Results, "create-1")
	assert.True(t, out.Results["create-1"].Success)
	assert.Equal(t, "Created todo buy milk", out.Results["create-1"].Message)

	list := doc.InnerHTML(doc.ByID("region-__page-todo_list"))
	assert.Contains(t, list, "buy milk")
	assert.Equal(t, "/fragments/todolist", c.CurrentArgs()["__page-todo_list"])
	assert.Equal(t, "all", c.CurrentArgs()["__page-todo_list.status"])

	out = c.Run(ctx, update.Request{Fragments: []update.FragmentRequest{{
		Region: "__page-todo_list",
		Args:   map[string]string{"status": "done"},
	}}})
	require.NoError(t, out.Err)
	list = doc.InnerHTML(doc.ByID("region-__page-todo_list"))
	assert.True(t, strings.Contains(list, "No todos."), list)
	assert.Equal(t, "/fragments/todolist", c.CurrentArgs()["__page-todo_list"])
	assert.Equal(t, "done", c.CurrentArgs()["__page-todo_list.status"])

	key := update.PreloadKey([]update.FragmentRequest{{Region: "__page-todo_list", Args: map[string]string{"status": "open"}}})
	pre := c.Preload(ctx, key, update.Request{Fragments: []update.FragmentRequest{{Region: "__page-todo_list", Args: map[string]string{"status": "open"}}}})
	require.NoError(t, pre.Err)
	c.Wait()
	assert.True(t, c.Preloaded(key))
	assert.Equal(t, "done", c.CurrentArgs()["__page-todo_list.status"])

	out = c.Run(ctx, update.Request{PreloadKey: key, Fragments: []update.FragmentRequest{{Region: "__page-todo_list", Args: map[string]string{"status": "open"}}}})
	require.NoError(t, out.Err)
	assert.True(t, out.FromCache)
	assert.Contains(t, doc.InnerHTML(doc.ByID("region-__page-todo_list")), "buy milk")
	assert.Empty(t, win.Alerts())
}

func text(doc *htmldom.Document, id string) string {
	el, ok := doc.ByID(id).(*htmldom.Element)
	if !ok {
		return ""
	}
	return el.Text()
}
