// Package policy decides whether a query is within the supported subject
// area. The check is a coarse, recall-oriented keyword gate: a query that
// mentions a keyword by coincidence is still treated as in scope.
package policy

import "strings"

// Rule matches when Keyword occurs anywhere in a query, ignoring case.
type Rule struct {
	Tag     string
	Keyword string
}

// DefaultRules is the finance and tax keyword set.
var DefaultRules = []Rule{
	{Tag: "tax", Keyword: "tax"},
	{Tag: "tax", Keyword: "income tax"},
	{Tag: "tax", Keyword: "taxable"},
	{Tag: "tax", Keyword: "tds"},
	{Tag: "tax", Keyword: "gst"},
	{Tag: "tax", Keyword: "itr"},
	{Tag: "tax", Keyword: "section"},
	{Tag: "tax", Keyword: "exemption"},
	{Tag: "tax", Keyword: "deduction"},
	{Tag: "compliance", Keyword: "filing"},
	{Tag: "compliance", Keyword: "assessment"},
	{Tag: "compliance", Keyword: "refund"},
	{Tag: "compliance", Keyword: "audit"},
	{Tag: "finance", Keyword: "income"},
	{Tag: "finance", Keyword: "capital gain"},
	{Tag: "finance", Keyword: "financial year"},
	{Tag: "finance", Keyword: "finance"},
	{Tag: "finance", Keyword: "investment"},
}

// Classifier evaluates a fixed rule set. It holds no mutable state.
type Classifier struct {
	rules []Rule
}

// NewClassifier lower-cases the rules once. Empty keywords are ignored
// since they would match every query. With no rules, DefaultRules apply.
func NewClassifier(rules []Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	c := &Classifier{rules: make([]Rule, 0, len(rules))}
	for _, r := range rules {
		kw := strings.ToLower(strings.TrimSpace(r.Keyword))
		if kw == "" {
			continue
		}
		c.rules = append(c.rules, Rule{Tag: r.Tag, Keyword: kw})
	}
	return c
}

// WithKeywords returns DefaultRules extended by keywords tagged "custom".
func WithKeywords(keywords []string) []Rule {
	rules := append([]Rule(nil), DefaultRules...)
	for _, kw := range keywords {
		rules = append(rules, Rule{Tag: "custom", Keyword: kw})
	}
	return rules
}

// Rules returns a copy of the normalised rule set.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// IsInDomain reports whether any keyword is a substring of query.
func (c *Classifier) IsInDomain(query string) bool {
	q := strings.ToLower(query)
	for _, r := range c.rules {
		if strings.Contains(q, r.Keyword) {
			return true
		}
	}
	return false
}

// Match returns every rule that fires for query, in rule order.
func (c *Classifier) Match(query string) []Rule {
	q := strings.ToLower(query)
	var out []Rule
	for _, r := range c.rules {
		if strings.Contains(q, r.Keyword) {
			out = append(out, r)
		}
	}
	return out
}
