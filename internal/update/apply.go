package update

import (
	"context"
	"fmt"

	"regionline/internal/dom"
	"regionline/internal/wire"
)

// Phase is the stage of one fragment's DOM mutation.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAnimatingExit
	PhaseMutated
	PhaseAnimatingEnter
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAnimatingExit:
		return "animating-exit"
	case PhaseMutated:
		return "mutated"
	case PhaseAnimatingEnter:
		return "animating-enter"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var transitions = map[Phase][]Phase{
	PhaseIdle:           {PhaseAnimatingExit, PhaseMutated},
	PhaseAnimatingExit:  {PhaseMutated},
	PhaseMutated:        {PhaseAnimatingEnter, PhaseIdle},
	PhaseAnimatingEnter: {PhaseIdle},
}

// mutation tracks the phases one fragment passes through. The old content
// is never touched before the exit effect has finished, and the entrance
// effect only starts once the new content is in place.
type mutation struct {
	region string
	phase  Phase
	trail  []Phase
}

func newMutation(region string) *mutation {
	return &mutation{region: region, trail: []Phase{PhaseIdle}}
}

func (m *mutation) advance(to Phase) error {
	for _, next := range transitions[m.phase] {
		if next == to {
			m.phase = to
			m.trail = append(m.trail, to)
			return nil
		}
	}
	return fmt.Errorf("region %s: illegal transition %s -> %s", m.region, m.phase, to)
}

// applyFragment splices one returned fragment into the page.
func (c *Coordinator) applyFragment(ctx context.Context, fp *fragmentPlan, rf wire.ResponseFragment) {
	fr := fp.req
	if fp.region != nil && c.regions[fr.Region] == fp.region {
		fp.region.Reconcile(rf.Arguments)
	}

	target := c.target(fr)
	if target == nil && fr.Mode != ModePopout {
		c.logger.Debug("fragment target gone", "region", fr.Region)
		return
	}

	content := wire.ReorderScripts(rf.Content)
	for _, h := range c.handlerHooks {
		content = h.ProcessFragment(&fr, content)
	}

	m := newMutation(fr.Region)
	step := func(to Phase) {
		if err := m.advance(to); err != nil {
			c.logger.Error("fragment mutation", "err", err)
		}
	}

	if fr.RemoveEffect != "" && target != nil {
		step(PhaseAnimatingExit)
		c.animate(ctx, target, fr.RemoveEffect, fr.RemoveEffectArgs)
	}

	root, err := c.mutate(fr, target, content)
	if err != nil {
		c.logger.Warn("apply fragment", "region", fr.Region, "mode", fr.Mode, "err", err)
		return
	}
	step(PhaseMutated)

	if root == nil {
		step(PhaseIdle)
		return
	}
	if c.rules != nil {
		c.rules.Apply(root)
	}
	if fr.Effect != "" {
		if fp.isNew {
			c.doc.Hide(root)
		}
		step(PhaseAnimatingEnter)
		c.animate(ctx, root, fr.Effect, fr.EffectArgs)
	}
	step(PhaseIdle)
	c.logger.Debug("fragment applied", "region", fr.Region, "mode", fr.Mode, "phases", m.trail)
}

// mutate performs the DOM operation of fr and returns the root of the new
// content.
func (c *Coordinator) mutate(fr FragmentRequest, target dom.Element, content string) (dom.Element, error) {
	switch fr.Mode {
	case ModePopout:
		return c.page.Popout(content)
	case ModeTop, ModeBottom, ModeBefore, ModeAfter:
		inserted, err := c.doc.Insert(target, dom.Position(fr.Mode), content)
		if err != nil {
			return nil, err
		}
		if el := c.doc.ByID(wire.RegionIDPrefix + fr.Region); el != nil {
			return el, nil
		}
		if len(inserted) > 0 {
			return inserted[0], nil
		}
		return nil, nil
	default:
		if err := c.doc.SetInnerHTML(target, content); err != nil {
			return nil, err
		}
		if fr.RemoveEffect != "" && fr.Effect == "" {
			c.doc.Show(target)
		}
		return target, nil
	}
}

func (c *Coordinator) animate(ctx context.Context, el dom.Element, name string, opts map[string]string) {
	if c.animator == nil {
		return
	}
	if err := c.animator.Animate(ctx, el, dom.Effect{Name: name, Options: opts}); err != nil {
		c.logger.Warn("effect failed", "effect", name, "err", err)
	}
}
