package naming

import "regionline/internal/dom"

// FindRegistration locates the registration control of moniker. The
// registration id may or may not carry the order prefix, so a direct id
// lookup falls back to scanning the form's controls plus extras.
func FindRegistration(doc dom.Document, form dom.Element, extras []dom.Element, moniker string) dom.Element {
	if doc != nil {
		if el := doc.ByID(RegistrationID(moniker)); el != nil && Parse(el.Name()).Role == RoleRegistration {
			return el
		}
	}
	var candidates []dom.Element
	if doc != nil && form != nil {
		candidates = doc.Controls(form)
	}
	candidates = append(candidates, extras...)
	for _, el := range candidates {
		ref := Parse(el.Name())
		if ref.Role == RoleRegistration && ref.Moniker == moniker {
			return el
		}
	}
	return nil
}

// Monikers lists the actions registered in form, in document order.
func Monikers(doc dom.Document, form dom.Element) []string {
	if doc == nil || form == nil {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	for _, el := range doc.Controls(form) {
		ref := Parse(el.Name())
		if ref.Role != RoleRegistration || seen[ref.Moniker] {
			continue
		}
		seen[ref.Moniker] = true
		out = append(out, ref.Moniker)
	}
	return out
}
