package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"

	"regionline/internal/action"
	"regionline/internal/dom"
	"regionline/internal/dom/htmldom"
	"regionline/internal/engine"
	"regionline/internal/naming"
	"regionline/internal/update"
	"regionline/internal/wire"
)

// pageClient is what a headless page session talks to.
type pageClient interface {
	update.Transport
	action.Validator
}

// pageSession drives one update against a fetched page the way a browser
// would: fields are filled in, the trigger is clicked and the returned
// fragments are applied to the parsed document.
type pageSession struct {
	path    string
	trigger string
	set     []string
	regions regionFlags
}

type pageRun struct {
	Outcome  update.Outcome           `json:"-"`
	Results  map[string]action.Result `json:"results,omitempty"`
	Regions  map[string]string        `json:"regions,omitempty"`
	Messages []htmldom.Message        `json:"messages,omitempty"`
	Alerts   []string                 `json:"alerts,omitempty"`
	Redirect string                   `json:"redirect,omitempty"`
	Args     map[string]string        `json:"args"`

	order []string
}

func (s *pageSession) active() bool {
	return s.trigger != "" || len(s.regions.fragments) > 0
}

func (s *pageSession) run(ctx context.Context, client pageClient, markup string, logger *slog.Logger) (*pageRun, error) {
	frags, err := s.regions.requests()
	if err != nil {
		return nil, err
	}
	doc, err := htmldom.ParseString(markup)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	win := htmldom.NewWindow(doc)
	c, err := update.New(update.Options{
		Document:  doc,
		Page:      win,
		Rules:     htmldom.NewRules(doc),
		Animator:  htmldom.NewAnimator(doc),
		Transport: client,
		Validator: client,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	c.Declare(engine.PageRegion, s.path, nil, "", false)

	for _, raw := range s.set {
		moniker, field, value, err := splitField(raw)
		if err != nil {
			return nil, err
		}
		name := naming.FieldName(naming.RoleValue, field, moniker)
		els := doc.Select(`[name=` + strconv.Quote(name) + `]`)
		if len(els) == 0 {
			return nil, fmt.Errorf("--set %q: no field named %s on the page", raw, name)
		}
		els[0].SetValue(value)
	}

	req := update.Request{Fragments: frags}
	if s.trigger != "" {
		els := doc.Select(s.trigger)
		if len(els) == 0 {
			return nil, fmt.Errorf("--trigger %q matches nothing on the page", s.trigger)
		}
		req.Trigger = els[0]
	}
	out := c.Run(ctx, req)
	c.Wait()

	res := &pageRun{
		Outcome:  out,
		Results:  out.Results,
		Regions:  map[string]string{},
		Messages: win.Messages(),
		Alerts:   win.Alerts(),
		Redirect: out.Redirect,
		Args:     c.CurrentArgs(),
	}
	for _, f := range frags {
		if el := doc.ByID(wire.RegionIDPrefix + f.Region); el != nil {
			res.Regions[f.Region] = doc.InnerHTML(el)
			res.order = append(res.order, f.Region)
		}
	}
	if out.Submit {
		return res, fmt.Errorf("the form needs a native submission (file upload); use the browser")
	}
	return res, out.Err
}

func (r *pageRun) print(w io.Writer) {
	if len(r.Results) > 0 {
		tw := table.NewWriter()
		tw.SetOutputMirror(w)
		tw.AppendHeader(table.Row{"Moniker", "Success", "Message"})
		for _, m := range slices.Sorted(maps.Keys(r.Results)) {
			res := r.Results[m]
			msg := res.Message
			if res.Error != "" {
				msg = res.Error
			}
			tw.AppendRow(table.Row{m, res.Success, msg})
		}
		tw.Render()
	}
	for _, name := range r.order {
		fmt.Fprintf(w, "--- %s%s\n%s\n", wire.RegionIDPrefix, name, r.Regions[name])
	}
	for _, m := range r.Messages {
		kind := "message"
		if m.Kind == dom.MessageError {
			kind = "error"
		}
		fmt.Fprintf(w, "%s %s: %s\n", kind, m.Moniker, m.Text)
	}
	for _, a := range r.Alerts {
		fmt.Fprintf(w, "alert: %s\n", a)
	}
	if r.Redirect != "" {
		fmt.Fprintf(w, "redirect: %s\n", r.Redirect)
	}
}
