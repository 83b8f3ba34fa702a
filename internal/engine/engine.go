package engine

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"regionline/internal/config"
	"regionline/internal/events"
	"regionline/internal/repo"
	"regionline/internal/wire"
)

var (
	ErrUnknownAction   = errors.New("unknown action class")
	ErrUnknownFragment = errors.New("unknown fragment path")
)

// ValidationError reports per-field problems that stop an action from running.
type ValidationError struct {
	Fields map[string]string
}

func (e ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, k := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Report is what a validator says about the fields of one action.
type Report struct {
	Errors   map[string]string
	Warnings map[string]string
}

func (r Report) ok() bool { return len(r.Errors) == 0 }

// Canonical is a set of server-side rewrites of field values. Notes explain
// a rewrite to the user and are keyed by field like Values.
type Canonical struct {
	Values map[string]string
	Notes  map[string]string
}

// Invocation is one action about to run.
type Invocation struct {
	Moniker   string
	Class     string
	RequestID string
	Args      Args
}

// Outcome is what a successful run reports back to the page.
type Outcome struct {
	Message  string
	EntityID string
	Content  map[string]string
	Redirect string
}

// ActionHandler implements one action class. Validate and Canonicalize are
// optional.
type ActionHandler struct {
	Validate     func(ctx context.Context, args Args) Report
	Canonicalize func(args Args) Canonical
	Run          func(ctx context.Context, tx *sql.Tx, inv Invocation) (Outcome, error)
}

// RenderRequest asks for the markup of one region.
type RenderRequest struct {
	Region string
	Path   string
	Args   map[string]string
}

// Rendered is a region's markup plus the arguments it was rendered with.
type Rendered struct {
	Content string
	Args    map[string]string
}

// Renderer produces a fragment. It may normalise the arguments it was given.
type Renderer func(ctx context.Context, req RenderRequest) (Rendered, error)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger

	actions   map[string]ActionHandler
	renderers map[string]Renderer
}

// New returns an engine with the todo actions and fragments registered.
func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Now:       time.Now,
		NewID:     uuid.NewString,
		Logger:    slog.Default().With("component", "engine"),
		actions:   map[string]ActionHandler{},
		renderers: map[string]Renderer{},
	}
	e.registerTodos()
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Register installs the handler for an action class.
func (e Engine) Register(class string, h ActionHandler) {
	e.actions[class] = h
}

// RegisterFragment installs the renderer for a fragment path.
func (e Engine) RegisterFragment(path string, r Renderer) {
	e.renderers[path] = r
}

// Classes lists the registered action classes.
func (e Engine) Classes() []string {
	return slices.Sorted(maps.Keys(e.actions))
}

// FragmentPaths lists the registered fragment paths.
func (e Engine) FragmentPaths() []string {
	return slices.Sorted(maps.Keys(e.renderers))
}

// Handle serves one combined update: actions run first, in order, then the
// requested regions are rendered. A failing action is reported in its result
// and does not stop the others.
func (e Engine) Handle(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	for name, f := range req.Fragments {
		if f == nil {
			return nil, fmt.Errorf("fragment %s: missing descriptor", name)
		}
		if _, ok := e.renderers[f.Path]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFragment, f.Path)
		}
	}
	requestID := e.newID()
	log := e.logger().With("request_id", requestID)
	resp := &wire.Response{}

	for _, a := range orderedActions(req.Actions) {
		res, out := e.runAction(ctx, requestID, a)
		if out.Redirect != "" && resp.Redirect == "" {
			resp.Redirect = out.Redirect
		}
		log.Debug("action", "moniker", a.Moniker, "class", a.Class, "success", res.Success)
		resp.Results = append(resp.Results, res)
	}

	for _, name := range slices.Sorted(maps.Keys(req.Fragments)) {
		f := req.Fragments[name]
		rendered, err := e.renderers[f.Path](ctx, RenderRequest{Region: name, Path: f.Path, Args: maps.Clone(f.Args)})
		if err != nil {
			return nil, fmt.Errorf("render %s (%s): %w", name, f.Path, err)
		}
		content := rendered.Content
		if f.Wrapper {
			content = fmt.Sprintf(`<div id="%s%s" class="region">%s</div>`, wire.RegionIDPrefix, name, content)
		}
		args := rendered.Args
		if args == nil {
			args = map[string]string{}
		}
		resp.Fragments = append(resp.Fragments, wire.ResponseFragment{
			ID:        wire.RegionIDPrefix + name,
			Arguments: args,
			Content:   content,
		})
	}
	return resp, nil
}

func (e Engine) runAction(ctx context.Context, requestID string, a *wire.Action) (wire.Result, Outcome) {
	res := wire.Result{Moniker: a.Moniker, Class: a.Class}
	h, ok := e.actions[a.Class]
	if !ok {
		res.Error = fmt.Sprintf("%s: %s", ErrUnknownAction, a.Class)
		e.journalFailure(ctx, requestID, a, res.Error)
		return res, Outcome{}
	}
	inv := Invocation{Moniker: a.Moniker, Class: a.Class, RequestID: requestID, Args: ResolveArgs(a)}
	if h.Canonicalize != nil {
		for field, v := range h.Canonicalize(inv.Args).Values {
			inv.Args[field] = []string{v}
		}
	}
	if h.Validate != nil {
		report := h.Validate(ctx, inv.Args)
		res.Fields = fieldResults(report)
		if !report.ok() {
			res.Error = "There was an error completing the request. Please try again."
			e.journalFailure(ctx, requestID, a, ValidationError{Fields: report.Errors}.Error())
			return res, Outcome{}
		}
	}

	out, err := e.runTx(ctx, h, inv)
	if err != nil {
		var ve ValidationError
		if errors.As(err, &ve) {
			res.Fields = fieldResults(Report{Errors: ve.Fields})
		}
		res.Error = err.Error()
		e.journalFailure(ctx, requestID, a, err.Error())
		return res, Outcome{}
	}
	res.Success = true
	res.Message = out.Message
	res.Content = out.Content
	return res, out
}

func (e Engine) runTx(ctx context.Context, h ActionHandler, inv Invocation) (Outcome, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, err
	}
	defer tx.Rollback()
	out, err := h.Run(ctx, tx, inv)
	if err != nil {
		return Outcome{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Entry{
		Type:       events.ActionRun,
		RequestID:  inv.RequestID,
		EntityKind: "action",
		EntityID:   out.EntityID,
		Moniker:    inv.Moniker,
		Payload:    events.EventPayload{"class": inv.Class, "args": inv.Args.Flatten(), "message": out.Message},
	}); err != nil {
		return Outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, err
	}
	return out, nil
}

func (e Engine) journalFailure(ctx context.Context, requestID string, a *wire.Action, msg string) {
	err := e.Events.AppendNow(ctx, events.Entry{
		Type:       events.ActionFailed,
		RequestID:  requestID,
		EntityKind: "action",
		Moniker:    a.Moniker,
		Payload:    events.EventPayload{"class": a.Class, "error": msg},
	})
	if err != nil {
		e.logger().Warn("journal action failure", "moniker", a.Moniker, "err", err)
	}
}

func fieldResults(r Report) map[string]wire.FieldResult {
	if len(r.Errors) == 0 && len(r.Warnings) == 0 {
		return nil
	}
	out := map[string]wire.FieldResult{}
	for f, msg := range r.Errors {
		fr := out[f]
		fr.Error = msg
		out[f] = fr
	}
	for f, msg := range r.Warnings {
		fr := out[f]
		fr.Warning = msg
		out[f] = fr
	}
	return out
}

// orderedActions sorts explicitly ordered actions first by order, then the
// rest by moniker.
func orderedActions(actions map[string]*wire.Action) []*wire.Action {
	list := make([]*wire.Action, 0, len(actions))
	for moniker, a := range actions {
		if a == nil {
			continue
		}
		if a.Moniker == "" {
			a.Moniker = moniker
		}
		list = append(list, a)
	}
	slices.SortFunc(list, func(a, b *wire.Action) int {
		switch {
		case a.Order != nil && b.Order != nil:
			if c := cmp.Compare(*a.Order, *b.Order); c != 0 {
				return c
			}
		case a.Order != nil:
			return -1
		case b.Order != nil:
			return 1
		}
		return cmp.Compare(a.Moniker, b.Moniker)
	})
	return list
}
