// Package naming implements the wire-name grammar that ties form controls to
// actions. Controls are associated with an action purely by their name:
//
//	J:A-<moniker>                 registration (value is the action class)
//	J:A-<order>-<moniker>         registration with an explicit run order
//	J:A:F-<field>-<moniker>       value of <field>
//	J:A:F:F-<field>-<moniker>     fallback for <field>
//	J:A:F:F:F-<field>-<moniker>   second-level fallback for <field>
package naming

import (
	"strconv"
	"strings"
)

// Role is the part a control plays for its action.
type Role int

const (
	RoleNone Role = iota
	RoleRegistration
	RoleValue
	RoleFallback
	RoleDoubleFallback
)

func (r Role) String() string {
	switch r {
	case RoleRegistration:
		return "registration"
	case RoleValue:
		return "value"
	case RoleFallback:
		return "fallback"
	case RoleDoubleFallback:
		return "doublefallback"
	default:
		return ""
	}
}

const (
	registrationPrefix = "J:A-"
	fieldPrefix        = "J:A:F"
	actionsKey         = "J:ACTIONS"
)

// Ref is the parsed form of a control name.
type Ref struct {
	Role    Role
	Moniker string
	Field   string
	// Order is set for registrations that carry one.
	Order    int
	HasOrder bool
}

// Parse derives the moniker, field and role of a control name. Names that do
// not follow the grammar yield a Ref with RoleNone.
func Parse(name string) Ref {
	if rest, ok := strings.CutPrefix(name, registrationPrefix); ok {
		if rest == "" {
			return Ref{}
		}
		ref := Ref{Role: RoleRegistration, Moniker: rest}
		if head, tail, found := strings.Cut(rest, "-"); found && tail != "" && isDigits(head) {
			n, err := strconv.Atoi(head)
			if err == nil {
				ref.Order, ref.HasOrder = n, true
				ref.Moniker = tail
			}
		}
		return ref
	}
	rest, ok := strings.CutPrefix(name, fieldPrefix)
	if !ok {
		return Ref{}
	}
	role := RoleValue
	for _, r := range []Role{RoleFallback, RoleDoubleFallback} {
		next, more := strings.CutPrefix(rest, ":F")
		if !more {
			break
		}
		rest, role = next, r
	}
	rest, ok = strings.CutPrefix(rest, "-")
	if !ok {
		return Ref{}
	}
	field, moniker, found := strings.Cut(rest, "-")
	if !found || field == "" || moniker == "" {
		return Ref{}
	}
	return Ref{Role: role, Field: field, Moniker: moniker}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// RegistrationID is the id a registration control is rendered with.
func RegistrationID(moniker string) string {
	return registrationPrefix + moniker
}

// RegistrationName builds a registration control name. A negative order is omitted.
func RegistrationName(moniker string, order int) string {
	if order < 0 {
		return registrationPrefix + moniker
	}
	return registrationPrefix + strconv.Itoa(order) + "-" + moniker
}

// FieldName builds the name of a field control for the given role.
func FieldName(role Role, field, moniker string) string {
	prefix := fieldPrefix
	switch role {
	case RoleFallback:
		prefix += ":F"
	case RoleDoubleFallback:
		prefix += ":F:F"
	}
	return prefix + "-" + field + "-" + moniker
}

// ErrorsID is the id of the container showing errors for a control name.
func ErrorsID(name string) string { return "errors-" + name }

// WarningsID is the id of the container showing warnings for a control name.
func WarningsID(name string) string { return "warnings-" + name }

// CanonicalizationNoteID is the id of the container explaining a rewrite.
func CanonicalizationNoteID(name string) string { return "canonicalization_note-" + name }

// MessagesID is the id of the container showing action-level messages.
func MessagesID(moniker string) string { return "messages-" + RegistrationID(moniker) }

// Button is the decoded form of a trigger control name such as
// "J:A:F-status-update-1=done|J:ACTIONS=update-1!create-2".
type Button struct {
	// Args maps full field control names to the values the button supplies.
	Args map[string]string
	// Actions is the explicit action list, nil when the button names none.
	Actions []string
}

// ParseButton decodes a trigger control name. Segments that are not
// key=value pairs are ignored.
func ParseButton(name string) Button {
	var b Button
	for _, seg := range strings.Split(name, "|") {
		key, value, ok := strings.Cut(seg, "=")
		if !ok || key == "" {
			continue
		}
		if key == actionsKey {
			b.Actions = []string{}
			for _, m := range strings.Split(value, "!") {
				if m != "" {
					b.Actions = append(b.Actions, m)
				}
			}
			continue
		}
		if Parse(key).Role == RoleNone {
			continue
		}
		if b.Args == nil {
			b.Args = map[string]string{}
		}
		b.Args[key] = value
	}
	return b
}
