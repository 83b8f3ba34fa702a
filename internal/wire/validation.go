package wire

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// Validation kinds reported for a field container.
const (
	ValidationError   = "error"
	ValidationWarning = "warning"
	ValidationOK      = "ok"
)

// Validation is the validator's answer for the actions of one side request.
type Validation struct {
	Actions           []ValidationAction
	Canonicalizations []Canonicalization
}

// ValidationAction groups the verdicts for one registration id.
type ValidationAction struct {
	ID    string
	Items []ValidationItem
}

// ValidationItem targets a message container by id.
type ValidationItem struct {
	Kind string
	ID   string
	Text string
}

// Canonicalization carries server-side rewrites of field values.
type Canonicalization struct {
	ID      string
	Updates []FieldUpdate
	Notes   []ValidationItem
}

// FieldUpdate rewrites the control called Name to Value.
type FieldUpdate struct {
	Name  string
	Value string
}

type xmlValidation struct {
	XMLName xml.Name            `xml:"validation"`
	Actions []xmlValidateAction `xml:"action"`
	Canon   []xmlCanonicalize   `xml:"canonicalizeaction"`
}

type xmlValidateAction struct {
	ID    string        `xml:"id,attr"`
	Items []xmlVerdicts `xml:",any"`
}

type xmlVerdicts struct {
	XMLName xml.Name
	ID      string `xml:"id,attr"`
	Text    string `xml:",chardata"`
}

type xmlCanonicalize struct {
	ID      string        `xml:"id,attr"`
	Updates []xmlUpdate   `xml:"update"`
	Notes   []xmlVerdicts `xml:"canonicalization_note"`
}

type xmlUpdate struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// DecodeValidation parses a validator document.
func DecodeValidation(data []byte) (*Validation, error) {
	var doc xmlValidation
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode validation: %w", err)
	}
	v := &Validation{}
	for _, a := range doc.Actions {
		va := ValidationAction{ID: a.ID}
		for _, it := range a.Items {
			va.Items = append(va.Items, ValidationItem{Kind: it.XMLName.Local, ID: it.ID, Text: it.Text})
		}
		v.Actions = append(v.Actions, va)
	}
	for _, c := range doc.Canon {
		vc := Canonicalization{ID: c.ID}
		for _, u := range c.Updates {
			vc.Updates = append(vc.Updates, FieldUpdate{Name: u.Name, Value: u.Value})
		}
		for _, n := range c.Notes {
			vc.Notes = append(vc.Notes, ValidationItem{Kind: "canonicalization_note", ID: n.ID, Text: n.Text})
		}
		v.Canonicalizations = append(v.Canonicalizations, vc)
	}
	return v, nil
}

// EncodeValidation renders v as a validator document.
func EncodeValidation(v *Validation) ([]byte, error) {
	doc := xmlValidation{}
	for _, a := range v.Actions {
		xa := xmlValidateAction{ID: a.ID}
		for _, it := range a.Items {
			xa.Items = append(xa.Items, xmlVerdicts{XMLName: xml.Name{Local: it.Kind}, ID: it.ID, Text: it.Text})
		}
		doc.Actions = append(doc.Actions, xa)
	}
	for _, c := range v.Canonicalizations {
		xc := xmlCanonicalize{ID: c.ID}
		for _, u := range c.Updates {
			xc.Updates = append(xc.Updates, xmlUpdate{Name: u.Name, Value: u.Value})
		}
		for _, n := range c.Notes {
			xc.Notes = append(xc.Notes, xmlVerdicts{XMLName: xml.Name{Local: "canonicalization_note"}, ID: n.ID, Text: n.Text})
		}
		doc.Canon = append(doc.Canon, xc)
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, fmt.Errorf("encode validation: %w", err)
	}
	return buf.Bytes(), nil
}
