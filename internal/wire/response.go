package wire

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// RegionIDPrefix prefixes the DOM id of every region wrapper.
const RegionIDPrefix = "region-"

// Response is the decoded XML answer to a Request.
type Response struct {
	Fragments []ResponseFragment
	Results   []Result
	Redirect  string
}

// ResponseFragment is the markup rendered for one region.
type ResponseFragment struct {
	ID        string
	Arguments map[string]string
	Content   string
}

// Region returns the region name the fragment is addressed to.
func (f ResponseFragment) Region() (string, bool) {
	return strings.CutPrefix(f.ID, RegionIDPrefix)
}

// Result reports the outcome of one action.
type Result struct {
	Moniker string
	Class   string
	Success bool
	Message string
	Error   string
	Fields  map[string]FieldResult
	Content map[string]string
}

// FieldResult carries the messages the server attached to one field.
type FieldResult struct {
	Error   string
	Warning string
	Message string
}

// FieldErrors returns the fields that carry an error.
func (r Result) FieldErrors() map[string]string {
	out := map[string]string{}
	for name, f := range r.Fields {
		if f.Error != "" {
			out[name] = f.Error
		}
	}
	return out
}

// Result returns the result for moniker.
func (r *Response) Result(moniker string) (Result, bool) {
	for _, res := range r.Results {
		if res.Moniker == moniker {
			return res, true
		}
	}
	return Result{}, false
}

type node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Inner    string     `xml:",innerxml"`
	Children []node     `xml:",any"`
}

func (n node) attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// markup returns the element's content: its text when it holds only
// character data (escaped or CDATA), its raw inner XML otherwise.
func (n node) markup() string {
	if len(n.Children) == 0 {
		return n.Text
	}
	return n.Inner
}

// DecodeResponse parses the XML document returned by the webservice.
func DecodeResponse(data []byte) (*Response, error) {
	var root node
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	resp := &Response{}
	for _, child := range root.Children {
		switch child.XMLName.Local {
		case "fragment":
			resp.Fragments = append(resp.Fragments, decodeFragment(child))
		case "result":
			resp.Results = append(resp.Results, decodeResult(child))
		case "redirect":
			if url, ok := child.attr("url"); ok {
				resp.Redirect = url
			} else {
				resp.Redirect = strings.TrimSpace(child.Text)
			}
		}
	}
	return resp, nil
}

func decodeFragment(n node) ResponseFragment {
	f := ResponseFragment{Arguments: map[string]string{}}
	f.ID, _ = n.attr("id")
	for _, c := range n.Children {
		switch c.XMLName.Local {
		case "argument":
			name, _ := c.attr("name")
			f.Arguments[name] = c.Text
		case "content":
			f.Content = c.markup()
		}
	}
	return f
}

func decodeResult(n node) Result {
	r := Result{Fields: map[string]FieldResult{}, Content: map[string]string{}}
	r.Moniker, _ = n.attr("moniker")
	r.Class, _ = n.attr("class")
	successSet := false
	if v, ok := n.attr("success"); ok {
		r.Success, successSet = truthy(v), true
	}
	for _, c := range n.Children {
		switch c.XMLName.Local {
		case "message":
			r.Message = strings.TrimSpace(c.markup())
		case "error":
			r.Error = strings.TrimSpace(c.markup())
		case "success":
			if !successSet {
				r.Success, successSet = truthy(c.Text), true
			}
		case "failure":
			if !successSet {
				r.Success, successSet = !truthy(c.Text), true
			}
		case "content":
			for _, kv := range c.Children {
				r.Content[kv.XMLName.Local] = kv.markup()
			}
		case "field":
			name, _ := c.attr("name")
			r.Fields[name] = decodeFieldResult(c)
		default:
			r.Fields[c.XMLName.Local] = decodeFieldResult(c)
		}
	}
	if !successSet {
		r.Success = r.Error == "" && len(r.FieldErrors()) == 0
	}
	return r
}

func decodeFieldResult(n node) FieldResult {
	var f FieldResult
	for _, c := range n.Children {
		switch c.XMLName.Local {
		case "error":
			f.Error = strings.TrimSpace(c.markup())
		case "warning":
			f.Warning = strings.TrimSpace(c.markup())
		case "message":
			f.Message = strings.TrimSpace(c.markup())
		}
	}
	return f
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "false", "no":
		return false
	}
	return true
}

type xmlResponse struct {
	XMLName   xml.Name      `xml:"response"`
	Fragments []xmlFragment `xml:"fragment"`
	Results   []xmlResult   `xml:"result"`
	Redirect  *xmlRedirect  `xml:"redirect,omitempty"`
}

type xmlFragment struct {
	ID        string        `xml:"id,attr"`
	Arguments []xmlArgument `xml:"argument"`
	Content   xmlCDATA      `xml:"content"`
}

type xmlArgument struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type xmlCDATA struct {
	Text string `xml:",cdata"`
}

type xmlResult struct {
	Moniker string     `xml:"moniker,attr"`
	Class   string     `xml:"class,attr"`
	Success int        `xml:"success,attr"`
	Message string     `xml:"message,omitempty"`
	Error   string     `xml:"error,omitempty"`
	Fields  []xmlField `xml:"field"`
}

type xmlField struct {
	Name    string `xml:"name,attr"`
	Error   string `xml:"error,omitempty"`
	Warning string `xml:"warning,omitempty"`
	Message string `xml:"message,omitempty"`
}

type xmlRedirect struct {
	URL string `xml:"url,attr"`
}

// EncodeResponse renders resp as the XML document DecodeResponse reads.
// Fragments come first, then results, then the redirect.
func EncodeResponse(resp *Response) ([]byte, error) {
	doc := xmlResponse{}
	for _, f := range resp.Fragments {
		xf := xmlFragment{ID: f.ID, Content: xmlCDATA{Text: f.Content}}
		for _, name := range sortedKeys(f.Arguments) {
			xf.Arguments = append(xf.Arguments, xmlArgument{Name: name, Value: f.Arguments[name]})
		}
		doc.Fragments = append(doc.Fragments, xf)
	}
	for _, r := range resp.Results {
		xr := xmlResult{Moniker: r.Moniker, Class: r.Class, Message: r.Message, Error: r.Error}
		if r.Success {
			xr.Success = 1
		}
		for _, name := range sortedKeys(r.Fields) {
			f := r.Fields[name]
			xr.Fields = append(xr.Fields, xmlField{Name: name, Error: f.Error, Warning: f.Warning, Message: f.Message})
		}
		doc.Results = append(doc.Results, xr)
	}
	if resp.Redirect != "" {
		doc.Redirect = &xmlRedirect{URL: resp.Redirect}
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return buf.Bytes(), nil
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
