package engine

import (
	"maps"
	"net/url"
	"slices"
	"strings"

	"regionline/internal/naming"
	"regionline/internal/wire"
)

// Args are the resolved arguments of an action: one entry per field, taken
// from the value role, else the fallback, else the double fallback.
type Args map[string][]string

// Get returns the first value of field.
func (a Args) Get(field string) string {
	if v := a[field]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Has reports whether field was supplied at all.
func (a Args) Has(field string) bool {
	_, ok := a[field]
	return ok
}

// Flatten returns single values as strings and repeated values as lists.
func (a Args) Flatten() map[string]any {
	out := make(map[string]any, len(a))
	for k, v := range a {
		if len(v) == 1 {
			out[k] = v[0]
			continue
		}
		out[k] = slices.Clone(v)
	}
	return out
}

var rolePrecedence = []string{
	naming.RoleValue.String(),
	naming.RoleFallback.String(),
	naming.RoleDoubleFallback.String(),
}

// ResolveArgs collapses the roles of every field of a into Args.
func ResolveArgs(a *wire.Action) Args {
	out := Args{}
	for field, roles := range a.Fields {
		for _, role := range rolePrecedence {
			if fv, ok := roles[role]; ok && fv != nil {
				out[field] = slices.Clone(fv.Values)
				break
			}
		}
	}
	return out
}

// parseQuery rebuilds the actions carried by a validator query string. Keys
// outside the control-name grammar are ignored.
func parseQuery(query string) (map[string]*wire.Action, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		return nil, err
	}
	actions := map[string]*wire.Action{}
	get := func(moniker string) *wire.Action {
		a := actions[moniker]
		if a == nil {
			a = &wire.Action{Moniker: moniker, Fields: map[string]map[string]*wire.FieldValue{}}
			actions[moniker] = a
		}
		return a
	}
	for _, key := range slices.Sorted(maps.Keys(values)) {
		ref := naming.Parse(key)
		switch ref.Role {
		case naming.RoleNone:
			continue
		case naming.RoleRegistration:
			a := get(ref.Moniker)
			a.Class = values.Get(key)
			if ref.HasOrder {
				order := ref.Order
				a.Order = &order
			}
		default:
			a := get(ref.Moniker)
			for _, v := range values[key] {
				a.Set(ref.Field, ref.Role.String(), v)
			}
		}
	}
	return actions, nil
}
