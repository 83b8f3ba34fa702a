package update

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regionline/internal/wire"
)

const twoRegions = `<html><body>
<form id="f">
<input type="hidden" id="J:A-create-1" name="J:A-create-1" value="CreateTodo">
<input type="text" name="J:A:F-title-create-1" value="milk">
<input type="submit" id="go" value="Create">
</form>
<div id="region-a"><p>a</p></div>
<div id="region-b"><p>b</p></div>
</body></html>`

type sequence struct {
	mu    sync.Mutex
	steps []string
}

func (s *sequence) add(step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

func (s *sequence) get() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.steps...)
}

func TestPreloadBarrier(t *testing.T) {
	h := newHarness(t, twoRegions)
	h.c.Declare("a", "/a", nil, "", false)
	h.c.Declare("b", "/b", nil, "", false)
	ctx := context.Background()

	seq := &sequence{}
	started := make(chan struct{})
	release := make(chan struct{})
	h.tr.handle = func(req *wire.Request) (*wire.Response, error) {
		if len(req.Actions) > 0 {
			seq.add("send:action")
			close(started)
			<-release
			return &wire.Response{Results: []wire.Result{{Moniker: "create-1", Success: true, Message: "Created"}}}, nil
		}
		for name := range req.Fragments {
			seq.add("send:preload:" + name)
		}
		return echo(req), nil
	}
	h.c.AddResponseHook(func(resp *wire.Response, req *Request) {
		if !req.Preloading {
			seq.add("applied:action")
		}
	})

	done := make(chan Outcome, 1)
	go func() { done <- h.c.Run(ctx, Request{Trigger: h.doc.ByID("go")}) }()
	<-started

	oa := h.c.Preload(ctx, "ka", Request{Fragments: []FragmentRequest{{Region: "a", Path: "/a2"}}})
	ob := h.c.Preload(ctx, "kb", Request{Fragments: []FragmentRequest{{Region: "b", Path: "/b2"}}})
	assert.True(t, oa.Queued)
	assert.True(t, ob.Queued)
	dup := h.c.Preload(ctx, "ka", Request{Fragments: []FragmentRequest{{Region: "a", Path: "/a2"}}})
	assert.True(t, dup.Suppressed)
	assert.Len(t, h.tr.Calls(), 1)

	close(release)
	out := <-done
	require.NoError(t, out.Err)
	assert.True(t, out.Results["create-1"].Success)
	h.c.Wait()

	steps := seq.get()
	require.Len(t, steps, 4)
	assert.Equal(t, []string{"send:action", "applied:action"}, steps[:2])
	assert.ElementsMatch(t, []string{"send:preload:a", "send:preload:b"}, steps[2:])
	assert.Len(t, h.tr.Calls(), 3)
	assert.True(t, h.c.Preloaded("ka"))
	assert.True(t, h.c.Preloaded("kb"))

	// Preloads never touch the page or the remembered state.
	assert.Equal(t, "<p>a</p>", h.doc.InnerHTML(h.doc.ByID("region-a")))
	assert.Equal(t, "/a", h.c.CurrentArgs()["a"])
	assert.Equal(t, []string{"Created"}, messagesText(h))
}

func messagesText(h *harness) []string {
	var out []string
	for _, m := range h.win.Messages() {
		out = append(out, m.Text)
	}
	return out
}

func TestPreloadedResponseConsumedWithoutNetwork(t *testing.T) {
	h := newHarness(t, twoRegions)
	h.c.Declare("a", "/a", nil, "", false)
	ctx := context.Background()
	frags := []FragmentRequest{{Region: "a", Path: "/a2", Args: map[string]string{"page": "2"}}}

	pre := h.c.Preload(ctx, "k", Request{Fragments: frags})
	assert.True(t, pre.Sent)
	assert.Equal(t, 0, h.win.WaitShown())
	require.True(t, h.c.Preloaded("k"))
	assert.Equal(t, "<p>a</p>", h.doc.InnerHTML(h.doc.ByID("region-a")))

	again := h.c.Preload(ctx, "k", Request{Fragments: frags})
	assert.True(t, again.Suppressed)

	out := h.c.Run(ctx, Request{PreloadKey: "k", Fragments: frags})
	assert.True(t, out.FromCache)
	assert.False(t, out.Sent)
	assert.Len(t, h.tr.Calls(), 1)
	assert.False(t, h.c.Preloaded("k"))
	assert.Equal(t, "<p>/a2 page=2</p>", h.doc.InnerHTML(h.doc.ByID("region-a")))
	assert.Equal(t, "/a2", h.c.CurrentArgs()["a"])
	assert.Equal(t, "2", h.c.CurrentArgs()["a.page"])
}

func TestWantedPreloadAppliedAsRealUpdate(t *testing.T) {
	h := newHarness(t, twoRegions)
	h.c.Declare("a", "/a", nil, "", false)
	ctx := context.Background()
	frags := []FragmentRequest{{Region: "a", Path: "/a2"}}

	started := make(chan struct{})
	release := make(chan struct{})
	h.tr.handle = func(req *wire.Request) (*wire.Response, error) {
		close(started)
		<-release
		return echo(req), nil
	}

	done := make(chan Outcome, 1)
	go func() { done <- h.c.Preload(ctx, "k", Request{Fragments: frags}) }()
	<-started

	out := h.c.Run(ctx, Request{PreloadKey: "k", Fragments: frags})
	assert.True(t, out.Deferred)
	assert.Len(t, h.tr.Calls(), 1)
	assert.Equal(t, "/a2", h.c.CurrentArgs()["a"])

	close(release)
	pre := <-done
	require.NoError(t, pre.Err)
	assert.Equal(t, "<p>/a2 </p>", h.doc.InnerHTML(h.doc.ByID("region-a")))
	assert.False(t, h.c.Preloaded("k"))
}

func TestEveryWaitingUpdateApplied(t *testing.T) {
	h := newHarness(t, twoRegions)
	h.c.Declare("a", "/a", nil, "", false)
	ctx := context.Background()
	frags := []FragmentRequest{{Region: "a", Path: "/a2"}}

	started := make(chan struct{})
	release := make(chan struct{})
	h.tr.handle = func(req *wire.Request) (*wire.Response, error) {
		close(started)
		<-release
		return echo(req), nil
	}
	var applied []bool
	h.c.AddResponseHook(func(resp *wire.Response, req *Request) {
		applied = append(applied, req.Preloading)
	})

	done := make(chan Outcome, 1)
	go func() { done <- h.c.Preload(ctx, "k", Request{Fragments: frags}) }()
	<-started

	assert.True(t, h.c.Run(ctx, Request{PreloadKey: "k", Fragments: frags}).Deferred)
	assert.True(t, h.c.Run(ctx, Request{PreloadKey: "k", Fragments: frags}).Deferred)

	close(release)
	require.NoError(t, (<-done).Err)
	assert.Equal(t, []bool{false, false}, applied)
	assert.Len(t, h.tr.Calls(), 1)
	assert.Equal(t, "<p>/a2 </p>", h.doc.InnerHTML(h.doc.ByID("region-a")))
}

func TestFailedWantedPreloadAlerts(t *testing.T) {
	h := newHarness(t, twoRegions)
	h.c.Declare("a", "/a", nil, "", false)
	ctx := context.Background()
	frags := []FragmentRequest{{Region: "a", Path: "/a2"}}

	started := make(chan struct{})
	release := make(chan struct{})
	h.tr.handle = func(req *wire.Request) (*wire.Response, error) {
		close(started)
		<-release
		return nil, assert.AnError
	}

	done := make(chan Outcome, 1)
	go func() { done <- h.c.Preload(ctx, "k", Request{Fragments: frags}) }()
	<-started

	assert.True(t, h.c.Run(ctx, Request{PreloadKey: "k", Fragments: frags}).Deferred)
	assert.True(t, h.c.Run(ctx, Request{PreloadKey: "k", Fragments: frags}).Deferred)
	assert.Empty(t, h.win.Alerts())

	close(release)
	out := <-done
	assert.ErrorIs(t, out.Err, assert.AnError)
	assert.Len(t, h.win.Alerts(), 1)
	assert.False(t, h.c.Preloaded("k"))
	require.NotNil(t, h.c.LastFailure())
	assert.Equal(t, "<p>a</p>", h.doc.InnerHTML(h.doc.ByID("region-a")))
}

func TestFailedPreloadIsSilent(t *testing.T) {
	h := newHarness(t, twoRegions)
	h.c.Declare("a", "/a", nil, "", false)
	h.tr.handle = func(req *wire.Request) (*wire.Response, error) {
		return nil, assert.AnError
	}
	out := h.c.Preload(context.Background(), "k", Request{Fragments: []FragmentRequest{{Region: "a", Path: "/x"}}})
	assert.ErrorIs(t, out.Err, assert.AnError)
	assert.Empty(t, h.win.Alerts())
	assert.False(t, h.c.Preloaded("k"))
	require.NotNil(t, h.c.LastFailure())
}

func TestPreloadOfUnknownRegionLeavesStateAlone(t *testing.T) {
	h := newHarness(t, `<div id="region-page"><div id="region-page-side"></div></div>`)
	h.c.Declare("page", "/", nil, "", false)

	h.c.Preload(context.Background(), "side", Request{Fragments: []FragmentRequest{{Region: "page-side", Path: "/side", Args: map[string]string{"tab": "x"}}}})
	f := h.tr.Calls()[0].Fragments["page-side"]
	require.NotNil(t, f)
	assert.Equal(t, "side", f.Name)
	assert.Equal(t, map[string]string{"tab": "x"}, f.Args)
	assert.Nil(t, h.c.Region("page-side"))
	assert.NotContains(t, h.c.CurrentArgs(), "page-side")
}

func TestPreloadKey(t *testing.T) {
	a := []FragmentRequest{{Region: "list", Path: "/l", Args: map[string]string{"x": "1", "y": "2"}}}
	b := []FragmentRequest{{Region: "list", Path: "/l", Args: map[string]string{"y": "2", "x": "1"}}}
	c := []FragmentRequest{{Region: "list", Path: "/l", Args: map[string]string{"x": "1", "y": "3"}}}

	assert.Equal(t, PreloadKey(a), PreloadKey(b))
	assert.NotEqual(t, PreloadKey(a), PreloadKey(c))
	assert.Len(t, PreloadKey(a), 64)
}

func TestPreloadWithoutKeyDerivesOne(t *testing.T) {
	h := newHarness(t, twoRegions)
	h.c.Declare("a", "/a", nil, "", false)
	frags := []FragmentRequest{{Region: "a", Path: "/a3"}}
	h.c.Preload(context.Background(), "", Request{Fragments: frags})
	assert.True(t, h.c.Preloaded(PreloadKey(frags)))
}
