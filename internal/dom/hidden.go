package dom

// Hidden is a detached hidden input. It stands in for arguments that a
// trigger control carries in its own name.
type Hidden struct {
	name     string
	value    string
	attrs    map[string]string
	disabled bool
}

// NewHidden returns a detached hidden control.
func NewHidden(name, value string) *Hidden {
	return &Hidden{name: name, value: value, attrs: map[string]string{}}
}

func (h *Hidden) ID() string   { return "" }
func (h *Hidden) Name() string { return h.name }
func (h *Hidden) Tag() string  { return "input" }

func (h *Hidden) Attr(key string) (string, bool) {
	switch key {
	case "name":
		return h.name, true
	case "value":
		return h.value, true
	case "type":
		return "hidden", true
	}
	v, ok := h.attrs[key]
	return v, ok
}

func (h *Hidden) SetAttr(key, value string) {
	switch key {
	case "name":
		h.name = value
	case "value":
		h.value = value
	default:
		h.attrs[key] = value
	}
}

func (h *Hidden) HasClass(string) bool      { return false }
func (h *Hidden) Value() (string, bool)     { return h.value, true }
func (h *Hidden) SetValue(value string)     { h.value = value }
func (h *Hidden) InputType() string         { return "hidden" }
func (h *Hidden) Disabled() bool            { return h.disabled }
func (h *Hidden) SetDisabled(disabled bool) { h.disabled = disabled }
func (h *Hidden) Blur()                     {}
func (h *Hidden) Parent() Element           { return nil }
