// Package wire holds the codecs of the update protocol: the JSON request a
// page sends to the webservice endpoint, the XML response it gets back and
// the XML document the field validator returns.
package wire

import (
	"encoding/json"
	"fmt"
)

// Request is one combined update: the actions to run and the regions to
// render, plus the remembered region state.
type Request struct {
	Path         string               `json:"path"`
	Actions      map[string]*Action   `json:"actions"`
	Fragments    map[string]*Fragment `json:"fragments"`
	Variables    map[string]*string   `json:"variables"`
	Continuation string               `json:"continuation,omitempty"`
}

// NewRequest returns an empty request for the given endpoint path.
func NewRequest(path string) *Request {
	return &Request{
		Path:      path,
		Actions:   map[string]*Action{},
		Fragments: map[string]*Fragment{},
		Variables: map[string]*string{},
	}
}

// Empty reports whether the request carries neither actions nor fragments.
func (r *Request) Empty() bool {
	return len(r.Actions) == 0 && len(r.Fragments) == 0
}

// Action is the wire form of one action.
type Action struct {
	Moniker string                            `json:"moniker"`
	Class   string                            `json:"class"`
	Order   *int                              `json:"order,omitempty"`
	Fields  map[string]map[string]*FieldValue `json:"fields"`
}

// Set records value for field under role, promoting repeated values to a list.
func (a *Action) Set(field, role, value string) {
	if a.Fields == nil {
		a.Fields = map[string]map[string]*FieldValue{}
	}
	roles := a.Fields[field]
	if roles == nil {
		roles = map[string]*FieldValue{}
		a.Fields[field] = roles
	}
	if fv, ok := roles[role]; ok {
		fv.Values = append(fv.Values, value)
		return
	}
	roles[role] = &FieldValue{Values: []string{value}}
}

// Override replaces whatever was collected for field with a single value.
func (a *Action) Override(field, value string) {
	if a.Fields == nil {
		a.Fields = map[string]map[string]*FieldValue{}
	}
	roles := a.Fields[field]
	if roles == nil {
		roles = map[string]*FieldValue{}
		a.Fields[field] = roles
	}
	roles["value"] = &FieldValue{Values: []string{value}}
}

// FieldValue encodes as a scalar for one value and as an array otherwise.
type FieldValue struct {
	Values []string
}

func (v FieldValue) MarshalJSON() ([]byte, error) {
	if len(v.Values) == 1 {
		return json.Marshal(v.Values[0])
	}
	if v.Values == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(v.Values)
}

func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		v.Values = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("field value must be a string or a list of strings: %w", err)
	}
	v.Values = many
	return nil
}

// First returns the first collected value.
func (v *FieldValue) First() string {
	if v == nil || len(v.Values) == 0 {
		return ""
	}
	return v.Values[0]
}

// Fragment is the wire form of a region. Parent is encoded as null for
// top-level regions.
type Fragment struct {
	Name    string            `json:"name"`
	Path    string            `json:"path"`
	Args    map[string]string `json:"args"`
	Parent  *Fragment         `json:"parent"`
	Wrapper bool              `json:"wrapper,omitempty"`
	InForm  bool              `json:"in_form,omitempty"`
}

// QualifiedName rebuilds the full region name from the parent chain.
func (f *Fragment) QualifiedName() string {
	if f.Parent == nil {
		return f.Name
	}
	return f.Parent.QualifiedName() + "-" + f.Name
}
