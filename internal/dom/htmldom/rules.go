package htmldom

import (
	"fmt"
	"sync"

	"github.com/andybalholm/cascadia"

	"regionline/internal/dom"
)

type rule struct {
	selector string
	matcher  cascadia.SelectorGroup
	apply    func(dom.Element)
}

// Rules is a selector-driven rule engine: every registered handler runs on
// each element under the applied root that matches its selector.
type Rules struct {
	Doc *Document

	mu      sync.Mutex
	rules   []rule
	applied int
}

var _ dom.RuleEngine = (*Rules)(nil)

// NewRules returns an empty rule engine for doc.
func NewRules(doc *Document) *Rules {
	return &Rules{Doc: doc}
}

// Register adds a handler for selector.
func (r *Rules) Register(selector string, apply func(dom.Element)) error {
	group, err := cascadia.ParseGroup(selector)
	if err != nil {
		return fmt.Errorf("rule %q: %w", selector, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{selector: selector, matcher: group, apply: apply})
	return nil
}

func (r *Rules) Apply(root dom.Element) {
	n := nodeOf(root)
	if n == nil {
		return
	}
	r.mu.Lock()
	rules := append([]rule(nil), r.rules...)
	r.applied++
	r.mu.Unlock()
	for _, rl := range rules {
		for _, el := range r.Doc.match(n, rl.matcher, true) {
			rl.apply(el)
		}
	}
}

// Applied counts the Apply calls so far.
func (r *Rules) Applied() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applied
}
