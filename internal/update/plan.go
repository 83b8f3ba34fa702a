package update

import (
	"context"
	"maps"
	"slices"
	"strings"

	"regionline/internal/action"
	"regionline/internal/dom"
	"regionline/internal/naming"
	"regionline/internal/region"
	"regionline/internal/wire"
)

// plan builds the wire request for req. submit is true when an action needs
// a file upload and the page must submit natively instead.
func (c *Coordinator) plan(ctx context.Context, req *Request) (cy *cycle, submit bool) {
	cy = &cycle{
		req:      req,
		wire:     wire.NewRequest(c.endpoint),
		actions:  map[string]*action.Action{},
		expected: map[string]*fragmentPlan{},
	}
	cy.wire.Continuation = req.Continuation

	var form dom.Element
	if req.Trigger != nil {
		form = dom.FormOf(req.Trigger)
	}
	extras := slices.Clone(req.Extras)
	monikers := req.Actions
	if req.Trigger != nil {
		button := naming.ParseButton(req.Trigger.Name())
		for _, name := range slices.Sorted(maps.Keys(button.Args)) {
			extras = append(extras, dom.NewHidden(name, button.Args[name]))
		}
		if monikers == nil && button.Actions != nil {
			monikers = button.Actions
		}
	}
	if monikers == nil {
		monikers = naming.Monikers(c.doc, form)
	}
	if req.Preloading {
		monikers = nil
	}

	for _, m := range monikers {
		a := action.New(c.doc, form, extras, m)
		if !a.Registered() {
			c.logger.Debug("action not on page", "moniker", m)
			continue
		}
		c.actions[m] = a
		cy.actions[m] = a
		if a.HasUpload() {
			action.EnableInputFields(cy.disabled)
			c.release(cy)
			return nil, true
		}
		if !req.KeepEnabled {
			a.DisableInputFields(&cy.disabled)
		}
		ds := a.DataStructure()
		for field, value := range req.ActionArguments[m] {
			ds.Override(field, value)
		}
		cy.wire.Actions[m] = ds
	}

	for _, fr := range req.Fragments {
		c.planFragment(ctx, cy, fr)
	}
	cy.wire.Variables = c.state.Variables()
	return cy, false
}

// planFragment resolves one region descriptor into the cycle.
func (c *Coordinator) planFragment(ctx context.Context, cy *cycle, fr FragmentRequest) {
	if fr.Mode == "" {
		fr.Mode = ModeReplace
	}
	preview := cy.req.Preloading
	target := c.target(fr)
	reg := c.regions[fr.Region]

	if fr.Mode == ModeDelete {
		if preview {
			return
		}
		if target != nil {
			if fr.RemoveEffect != "" {
				c.animate(ctx, target, fr.RemoveEffect, fr.RemoveEffectArgs)
			}
			c.doc.Remove(target)
		}
		delete(c.regions, fr.Region)
		return
	}

	isNew := reg == nil
	if !isNew && fr.Toggle && fr.Path != "" && fr.Path == reg.Path {
		if preview {
			return
		}
		if target != nil {
			if err := c.doc.SetInnerHTML(target, ""); err != nil {
				c.logger.Debug("collapse region", "region", fr.Region, "err", err)
			}
		}
		reg.Clear()
		return
	}

	var parent *region.Region
	if isNew {
		parent = c.parentOf(fr, target)
	}
	inForm := parent != nil && parent.InForm
	if !isNew {
		inForm = reg.InForm
	}

	var f *wire.Fragment
	switch {
	case preview && isNew:
		path := fr.Path
		if path == "" {
			path, _ = c.state.Get(fr.Region)
		}
		f = region.New(region.NewState(), fr.Region, path, fr.Args, parent, inForm).DataStructure()
	case preview:
		f = reg.Preview(fr.Path, fr.Args)
	default:
		if isNew {
			reg = region.New(c.state, fr.Region, fr.Path, fr.Args, parent, inForm)
			c.regions[fr.Region] = reg
		}
		if c.initHooks(&fr, reg) {
			return
		}
		reg.SetPath(fr.Path)
		reg.SetArgs(fr.Args)
		f = reg.DataStructure()
	}
	f.Wrapper = isNew && c.doc.ByID(wire.RegionIDPrefix+fr.Region) == nil
	f.InForm = inForm
	cy.wire.Fragments[fr.Region] = f
	cy.expected[fr.Region] = &fragmentPlan{req: fr, region: reg, isNew: isNew}
}

// target is the element a fragment request acts on, or nil.
func (c *Coordinator) target(fr FragmentRequest) dom.Element {
	if fr.Element != "" {
		if els := c.doc.Select(fr.Element); len(els) > 0 {
			return els[0]
		}
		return nil
	}
	return c.doc.ByID(wire.RegionIDPrefix + fr.Region)
}

// parentOf finds the nearest declared region enclosing the place where a
// new region will appear.
func (c *Coordinator) parentOf(fr FragmentRequest, target dom.Element) *region.Region {
	if target == nil {
		return nil
	}
	start := target
	if target.ID() == wire.RegionIDPrefix+fr.Region || fr.Mode == ModeBefore || fr.Mode == ModeAfter {
		start = target.Parent()
	}
	el := dom.Closest(start, func(e dom.Element) bool {
		name, ok := strings.CutPrefix(e.ID(), wire.RegionIDPrefix)
		return ok && c.regions[name] != nil
	})
	if el == nil {
		return nil
	}
	return c.regions[strings.TrimPrefix(el.ID(), wire.RegionIDPrefix)]
}
