// Package region models the independently refreshable fragments of a page
// and the argument state remembered across refreshes.
package region

import (
	"maps"
	"strings"

	"regionline/internal/wire"
)

// State remembers the last known path of every region (keyed by the region
// name) and its arguments (keyed "<region>.<arg>"). A nil value marks a key
// that was explicitly forgotten. State is owned by one coordinator and is
// not safe for concurrent use.
type State struct {
	values map[string]*string
}

// NewState returns empty state.
func NewState() *State {
	return &State{values: map[string]*string{}}
}

// Get returns the remembered non-null value of key.
func (s *State) Get(key string) (string, bool) {
	v, ok := s.values[key]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// Set remembers value under key.
func (s *State) Set(key, value string) {
	s.values[key] = &value
}

// Null forgets key while keeping it listed, so it is sent as null.
func (s *State) Null(key string) {
	s.values[key] = nil
}

// Variables re-expresses the state as flat "region-<key>" variables.
func (s *State) Variables() map[string]*string {
	out := make(map[string]*string, len(s.values))
	for k, v := range s.values {
		if v == nil {
			out["region-"+k] = nil
			continue
		}
		value := *v
		out["region-"+k] = &value
	}
	return out
}

// Snapshot copies the non-null entries.
func (s *State) Snapshot() map[string]string {
	out := map[string]string{}
	for k, v := range s.values {
		if v != nil {
			out[k] = *v
		}
	}
	return out
}

// remembered collects the non-null "<name>.<arg>" entries as an argument map.
func (s *State) remembered(name string) map[string]string {
	prefix := name + "."
	out := map[string]string{}
	for k, v := range s.values {
		if v == nil {
			continue
		}
		if arg, ok := strings.CutPrefix(k, prefix); ok {
			out[arg] = *v
		}
	}
	return out
}

// nullArgs forgets every "<name>.<arg>" entry.
func (s *State) nullArgs(name string) {
	prefix := name + "."
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			s.values[k] = nil
		}
	}
}

// Region is one named fragment of the page. Parent is a lookup link only.
type Region struct {
	Name   string
	Path   string
	Args   map[string]string
	Parent *Region
	InForm bool

	state *State
}

// New declares a region. Remembered per-argument overrides for the name are
// forgotten first so a redeclared region starts from its own arguments.
func New(state *State, name, path string, args map[string]string, parent *Region, inForm bool) *Region {
	state.nullArgs(name)
	r := &Region{
		Name:   name,
		Path:   path,
		Args:   map[string]string{},
		Parent: parent,
		InForm: inForm,
		state:  state,
	}
	maps.Copy(r.Args, args)
	if path != "" {
		state.Set(name, path)
	}
	return r
}

// ShortName is the name relative to the parent region.
func (r *Region) ShortName() string {
	if r.Parent != nil {
		if short, ok := strings.CutPrefix(r.Name, r.Parent.Name+"-"); ok && short != "" {
			return short
		}
	}
	return r.Name
}

// SetPath resolves the region's path: the remembered path overrides the
// current one, a non-empty supplied path overrides both. The result is
// remembered and returned.
func (r *Region) SetPath(supplied string) string {
	path := r.resolvePath(supplied)
	r.Path = path
	r.state.Set(r.Name, path)
	return path
}

func (r *Region) resolvePath(supplied string) string {
	path := r.Path
	if remembered, ok := r.state.Get(r.Name); ok {
		path = remembered
	}
	if supplied != "" {
		path = supplied
	}
	return path
}

// SetArgs merges remembered arguments over the region's own and supplied
// ones over both, remembers the result and returns it.
func (r *Region) SetArgs(supplied map[string]string) map[string]string {
	args := r.resolveArgs(supplied)
	for k, v := range args {
		r.state.Set(r.Name+"."+k, v)
	}
	r.Args = args
	return maps.Clone(args)
}

func (r *Region) resolveArgs(supplied map[string]string) map[string]string {
	args := maps.Clone(r.Args)
	if args == nil {
		args = map[string]string{}
	}
	maps.Copy(args, r.state.remembered(r.Name))
	maps.Copy(args, supplied)
	return args
}

// Reconcile adopts the argument map the server rendered the region with.
func (r *Region) Reconcile(args map[string]string) {
	r.state.nullArgs(r.Name)
	r.Args = maps.Clone(args)
	if r.Args == nil {
		r.Args = map[string]string{}
	}
	for k, v := range r.Args {
		r.state.Set(r.Name+"."+k, v)
	}
}

// Clear forgets the region's path, as when a toggle collapses it.
func (r *Region) Clear() {
	r.Path = ""
	r.state.Null(r.Name)
}

// DataStructure is the wire form of the region, parents included.
func (r *Region) DataStructure() *wire.Fragment {
	f := &wire.Fragment{
		Name: r.ShortName(),
		Path: r.Path,
		Args: maps.Clone(r.Args),
	}
	if f.Args == nil {
		f.Args = map[string]string{}
	}
	if r.Parent != nil {
		f.Parent = r.Parent.DataStructure()
	}
	return f
}

// Preview is the wire form SetPath and SetArgs would produce, computed
// without touching the region or the state.
func (r *Region) Preview(path string, args map[string]string) *wire.Fragment {
	f := r.DataStructure()
	f.Path = r.resolvePath(path)
	f.Args = r.resolveArgs(args)
	return f
}
