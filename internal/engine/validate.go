package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"regionline/internal/naming"
	"regionline/internal/wire"
)

// Validate answers a field-validation query. Every field present in the
// query gets a verdict for both its error and its warning container, so
// stale messages are cleared on the page.
func (e Engine) Validate(ctx context.Context, query string) (*wire.Validation, error) {
	actions, err := parseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("parse validation query: %w", err)
	}
	out := &wire.Validation{}
	for _, moniker := range slices.Sorted(maps.Keys(actions)) {
		a := actions[moniker]
		h, ok := e.actions[a.Class]
		if !ok {
			continue
		}
		regID := naming.RegistrationID(moniker)
		args := ResolveArgs(a)

		if h.Canonicalize != nil {
			canon := h.Canonicalize(args)
			c := wire.Canonicalization{ID: regID}
			for _, field := range slices.Sorted(maps.Keys(canon.Values)) {
				v := canon.Values[field]
				if v == args.Get(field) {
					continue
				}
				c.Updates = append(c.Updates, wire.FieldUpdate{Name: naming.FieldName(naming.RoleValue, field, moniker), Value: v})
				args[field] = []string{v}
			}
			for _, field := range slices.Sorted(maps.Keys(canon.Notes)) {
				c.Notes = append(c.Notes, wire.ValidationItem{
					Kind: "canonicalization_note",
					ID:   naming.CanonicalizationNoteID(naming.FieldName(naming.RoleValue, field, moniker)),
					Text: canon.Notes[field],
				})
			}
			if len(c.Updates) > 0 || len(c.Notes) > 0 {
				out.Canonicalizations = append(out.Canonicalizations, c)
			}
		}

		var report Report
		if h.Validate != nil {
			report = h.Validate(ctx, args)
		}
		va := wire.ValidationAction{ID: regID}
		for _, field := range slices.Sorted(maps.Keys(args)) {
			name := naming.FieldName(naming.RoleValue, field, moniker)
			if msg, bad := report.Errors[field]; bad {
				va.Items = append(va.Items, wire.ValidationItem{Kind: wire.ValidationError, ID: naming.ErrorsID(name), Text: msg})
			} else {
				va.Items = append(va.Items, wire.ValidationItem{Kind: wire.ValidationOK, ID: naming.ErrorsID(name)})
			}
			if msg, warn := report.Warnings[field]; warn {
				va.Items = append(va.Items, wire.ValidationItem{Kind: wire.ValidationWarning, ID: naming.WarningsID(name), Text: msg})
			} else {
				va.Items = append(va.Items, wire.ValidationItem{Kind: wire.ValidationOK, ID: naming.WarningsID(name)})
			}
		}
		out.Actions = append(out.Actions, va)
	}
	return out, nil
}
