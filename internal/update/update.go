// Package update coordinates partial-page updates: it submits the actions
// of a form and refreshes regions in one round trip, applies the returned
// fragments, and manages speculative preloads.
//
// A Coordinator owns all update state of one page. Planning and applying
// run under the coordinator's lock, which plays the part of the page's
// single thread; the network exchange runs outside it, so several updates
// may be in flight at once.
package update

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/attribute"

	"regionline/internal/action"
	"regionline/internal/dom"
	"regionline/internal/naming"
	"regionline/internal/region"
	"regionline/internal/wire"
)

const (
	// DefaultWebservicePath is the endpoint path carried in every request.
	DefaultWebservicePath = "/__jifty/webservices/xml"
	// DefaultConnectivityMessage is alerted when the server cannot be reached.
	DefaultConnectivityMessage = "Unable to connect to server.\n\nTry again in a few minutes."
	// DefaultPreloadCacheSize bounds the completed-preload cache.
	DefaultPreloadCacheSize = 32
)

// Transport performs the single network exchange of an update.
type Transport interface {
	Send(ctx context.Context, req *wire.Request, headers map[string]string) (*wire.Response, error)
}

// Mode selects how returned markup is applied to a region's target.
type Mode string

const (
	ModeReplace Mode = "Replace"
	ModeTop     Mode = "Top"
	ModeBottom  Mode = "Bottom"
	ModeBefore  Mode = "Before"
	ModeAfter   Mode = "After"
	ModePopout  Mode = "Popout"
	ModeDelete  Mode = "Delete"
)

// FragmentRequest asks for one region to be refreshed.
type FragmentRequest struct {
	Region string
	Args   map[string]string
	Path   string
	// Element is a selector for the target; the region's own element
	// ("region-<name>") when empty.
	Element          string
	Mode             Mode
	Effect           string
	EffectArgs       map[string]string
	RemoveEffect     string
	RemoveEffectArgs map[string]string
	// Toggle collapses the region instead when Path is already shown.
	Toggle bool
}

// Request describes one update.
type Request struct {
	// Actions lists the monikers to submit. Nil means every action of the
	// trigger's form; an empty non-nil slice submits none.
	Actions []string
	// ActionArguments overrides field values, by moniker then field.
	ActionArguments map[string]map[string]string
	Fragments       []FragmentRequest
	Continuation    string
	Headers         map[string]string
	PreloadKey      string
	Preloading      bool
	HideWaitFrame   bool
	// KeepEnabled leaves the actions' fields enabled during the exchange.
	KeepEnabled bool
	Trigger     dom.Element
	Extras      []dom.Element
}

// Outcome reports what an update did.
type Outcome struct {
	// Submit is true when the page should fall back to native submission.
	Submit bool
	// Empty is true when there was nothing to request.
	Empty bool
	// Sent is true when a network exchange took place.
	Sent bool
	// FromCache is true when a preloaded response was applied.
	FromCache bool
	// Queued is true for a preload deferred behind an action submission.
	Queued bool
	// Suppressed is true for a preload whose key is already pending or cached.
	Suppressed bool
	// Deferred is true when the update will be applied once the preload of
	// its key completes.
	Deferred bool
	Err      error
	Results  map[string]action.Result
	Redirect string
}

// Failure is the last exchange that failed, kept for diagnostics.
type Failure struct {
	Request *wire.Request
	Err     error
	At      time.Time
}

// Options configure a Coordinator. Document, Page and Transport are required.
type Options struct {
	Document  dom.Document
	Page      dom.Page
	Rules     dom.RuleEngine
	Animator  dom.Animator
	Transport Transport
	Validator action.Validator
	Logger    *slog.Logger

	PreloadCacheSize    int
	ConnectivityMessage string
	WebservicePath      string
}

// Coordinator runs updates for one page.
type Coordinator struct {
	doc       dom.Document
	page      dom.Page
	rules     dom.RuleEngine
	animator  dom.Animator
	transport Transport
	validator action.Validator
	logger    *slog.Logger
	alertMsg  string
	endpoint  string
	metrics   *telemetry

	mu            sync.Mutex
	state         *region.State
	regions       map[string]*region.Region
	actions       map[string]*action.Action
	responseHooks []ResponseHook
	handlerHooks  []HandlerHook
	lastFailure   *Failure

	preloaded  *lru.Cache[string, *wire.Response]
	preloading map[string]bool
	wanted     map[string][]*cycle
	queued     []Request
	inflight   int
	replays    conc.WaitGroup
}

// New returns a coordinator with empty page state.
func New(opts Options) (*Coordinator, error) {
	if opts.Document == nil || opts.Page == nil || opts.Transport == nil {
		return nil, errors.New("update: document, page and transport are required")
	}
	if opts.PreloadCacheSize <= 0 {
		opts.PreloadCacheSize = DefaultPreloadCacheSize
	}
	if opts.ConnectivityMessage == "" {
		opts.ConnectivityMessage = DefaultConnectivityMessage
	}
	if opts.WebservicePath == "" {
		opts.WebservicePath = DefaultWebservicePath
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cache, err := lru.New[string, *wire.Response](opts.PreloadCacheSize)
	if err != nil {
		return nil, fmt.Errorf("update: preload cache: %w", err)
	}
	logger := opts.Logger.With("component", "update")
	return &Coordinator{
		doc:        opts.Document,
		page:       opts.Page,
		rules:      opts.Rules,
		animator:   opts.Animator,
		transport:  opts.Transport,
		validator:  opts.Validator,
		logger:     logger,
		alertMsg:   opts.ConnectivityMessage,
		endpoint:   opts.WebservicePath,
		metrics:    newTelemetry(logger),
		state:      region.NewState(),
		regions:    map[string]*region.Region{},
		actions:    map[string]*action.Action{},
		preloaded:  cache,
		preloading: map[string]bool{},
		wanted:     map[string][]*cycle{},
	}, nil
}

// Declare registers a region rendered with the page. parent names an
// already declared region or is empty.
func (c *Coordinator) Declare(name, path string, args map[string]string, parent string, inForm bool) *region.Region {
	c.mu.Lock()
	defer c.mu.Unlock()
	var p *region.Region
	if parent != "" {
		p = c.regions[parent]
	}
	r := region.New(c.state, name, path, args, p, inForm)
	c.regions[name] = r
	return r
}

// Region returns the region called name, or nil.
func (c *Coordinator) Region(name string) *region.Region {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regions[name]
}

// CurrentArgs returns the remembered region paths and arguments.
func (c *Coordinator) CurrentArgs() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Snapshot()
}

// PendingActions returns the monikers registered by updates still in flight.
func (c *Coordinator) PendingActions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedMonikers(c.actions)
}

// LastFailure returns the last failed exchange, or nil.
func (c *Coordinator) LastFailure() *Failure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFailure
}

// Wait blocks until every replayed preload has completed.
func (c *Coordinator) Wait() {
	c.replays.Wait()
}

// Update runs req and reports whether native form submission should
// proceed.
func (c *Coordinator) Update(ctx context.Context, req Request) bool {
	return c.Run(ctx, req).Submit
}

// Run performs one update cycle.
func (c *Coordinator) Run(ctx context.Context, req Request) Outcome {
	ctx, span := c.metrics.tracer.Start(ctx, "update.run")
	defer span.End()

	c.mu.Lock()
	cy, out, ok := c.begin(ctx, &req)
	c.mu.Unlock()
	if !ok {
		c.metrics.record(ctx, out)
		return out
	}
	out = c.exchange(ctx, cy)
	c.metrics.record(ctx, out)
	return out
}

// Validate sends the validation side request for moniker and applies the
// verdicts. Failures are logged.
func (c *Coordinator) Validate(ctx context.Context, trigger dom.Element, moniker string) {
	if c.validator == nil {
		c.logger.Warn("validate without a validator", "moniker", moniker)
		return
	}
	c.mu.Lock()
	a := action.New(c.doc, dom.FormOf(trigger), nil, moniker)
	query := a.ValidationQuery()
	c.mu.Unlock()
	if !a.Registered() {
		return
	}

	c.page.ShowWait()
	res, err := c.validator.Validate(ctx, query)
	c.page.HideWait()
	if err != nil {
		c.logger.Warn("validation request failed", "moniker", moniker, "err", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	a.ApplyValidation(res)
}

// cycle is one planned update.
type cycle struct {
	req      *Request
	wire     *wire.Request
	actions  map[string]*action.Action
	disabled []dom.Element
	expected map[string]*fragmentPlan
	counted  bool
}

// fragmentPlan is what a cycle expects back for one region.
type fragmentPlan struct {
	req    FragmentRequest
	region *region.Region
	isNew  bool
}

// begin plans req under the lock. ok is false when no exchange is needed;
// out then holds the final outcome.
func (c *Coordinator) begin(ctx context.Context, req *Request) (cy *cycle, out Outcome, ok bool) {
	if req.Preloading {
		if req.PreloadKey == "" {
			req.PreloadKey = PreloadKey(req.Fragments)
		}
		key := req.PreloadKey
		if c.preloading[key] || c.preloaded.Contains(key) || c.isQueued(key) {
			return nil, Outcome{Suppressed: true}, false
		}
		if c.inflight > 0 {
			c.queued = append(c.queued, *req)
			c.logger.Debug("preload queued", "key", key, "inflight", c.inflight)
			return nil, Outcome{Queued: true}, false
		}
	}

	cy, submit := c.plan(ctx, req)
	if submit {
		return nil, Outcome{Submit: true}, false
	}
	if cy.wire.Empty() {
		c.release(cy)
		return nil, Outcome{Empty: true}, false
	}

	if !req.Preloading && req.PreloadKey != "" && len(cy.actions) == 0 {
		key := req.PreloadKey
		if resp, hit := c.preloaded.Get(key); hit {
			c.preloaded.Remove(key)
			delete(c.wanted, key)
			out := c.complete(ctx, cy, resp)
			out.FromCache = true
			return nil, out, false
		}
		if c.preloading[key] {
			c.wanted[key] = append(c.wanted[key], cy)
			return nil, Outcome{Deferred: true}, false
		}
	}

	if req.Preloading {
		c.preloading[req.PreloadKey] = true
	}
	if len(cy.actions) > 0 {
		c.inflight++
		cy.counted = true
	}
	return cy, Outcome{}, true
}

func (c *Coordinator) isQueued(key string) bool {
	for _, q := range c.queued {
		if q.PreloadKey == key {
			return true
		}
	}
	return false
}

// exchange sends the cycle's request and applies the answer.
func (c *Coordinator) exchange(ctx context.Context, cy *cycle) Outcome {
	visible := !cy.req.Preloading && !cy.req.HideWaitFrame
	if visible {
		c.page.ShowWait()
	}
	resp, err := c.transport.Send(ctx, cy.wire, cy.req.Headers)
	if visible {
		c.page.HideWait()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var out Outcome
	switch {
	case cy.req.Preloading:
		out = c.finishPreload(ctx, cy, resp, err)
	case err != nil:
		out = c.fail(cy, err)
	default:
		out = c.complete(ctx, cy, resp)
	}
	out.Sent = true
	if cy.counted {
		c.inflight--
		if c.inflight == 0 {
			c.drain(ctx)
		}
	}
	return out
}

// fail unwinds a cycle whose exchange failed.
func (c *Coordinator) fail(cy *cycle, err error) Outcome {
	action.EnableInputFields(cy.disabled)
	c.lastFailure = &Failure{Request: cy.wire, Err: err, At: time.Now()}
	c.logger.Warn("update failed", "err", err, "preloading", cy.req.Preloading)
	if !cy.req.Preloading {
		c.page.Alert(c.alertMsg)
	}
	c.release(cy)
	return Outcome{Err: err}
}

// complete applies a successful response to the page.
func (c *Coordinator) complete(ctx context.Context, cy *cycle, resp *wire.Response) Outcome {
	out := Outcome{Results: map[string]action.Result{}}
	for _, res := range resp.Results {
		if a, ok := cy.actions[res.Moniker]; ok {
			a.ApplyResult(res)
			out.Results[res.Moniker] = a.Result
		}
	}
	action.EnableInputFields(cy.disabled)

	for _, rf := range resp.Fragments {
		name, ok := rf.Region()
		if !ok {
			continue
		}
		fp, ok := cy.expected[name]
		if !ok {
			c.logger.Debug("unexpected fragment", "id", rf.ID)
			continue
		}
		c.applyFragment(ctx, fp, rf)
	}

	for _, hook := range c.responseHooks {
		hook(resp, cy.req)
	}

	for _, res := range resp.Results {
		c.showResult(res)
	}
	if resp.Redirect != "" {
		out.Redirect = resp.Redirect
		c.page.Navigate(resp.Redirect)
	}
	c.release(cy)
	return out
}

func (c *Coordinator) showResult(res wire.Result) {
	var kind dom.MessageKind
	var text string
	switch {
	case res.Error != "":
		kind, text = dom.MessageError, res.Error
	case res.Message != "":
		kind, text = dom.MessageInfo, res.Message
	}
	// the container always reflects the latest result, empty included
	if el := c.doc.ByID(naming.MessagesID(res.Moniker)); el != nil {
		if err := c.doc.SetInnerHTML(el, html.EscapeString(text)); err != nil {
			c.logger.Debug("message container", "moniker", res.Moniker, "err", err)
		}
	}
	if text != "" {
		c.page.Notify(kind, res.Moniker, text)
	}
}

// release forgets the actions this cycle registered.
func (c *Coordinator) release(cy *cycle) {
	for m, a := range cy.actions {
		if c.actions[m] == a {
			delete(c.actions, m)
		}
	}
}

func sortedMonikers(m map[string]*action.Action) []string {
	return slices.Sorted(maps.Keys(m))
}

func outcomeKind(out Outcome) attribute.KeyValue {
	kind := "sent"
	switch {
	case out.Submit:
		kind = "submit"
	case out.Empty:
		kind = "empty"
	case out.Queued:
		kind = "queued"
	case out.Suppressed:
		kind = "suppressed"
	case out.Deferred:
		kind = "deferred"
	case out.FromCache:
		kind = "cache"
	case out.Err != nil:
		kind = "failed"
	}
	return attribute.String("outcome", kind)
}
