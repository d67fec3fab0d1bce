// Package classify assigns a remediation category and priority to parsed
// signals using an ordered rule table. The first matching rule wins.
package classify

import (
	"sync"

	"github.com/linnemanlabs/faultline/internal/incident"
	"github.com/linnemanlabs/faultline/internal/signal"
)

// Predicate reports whether a rule applies to a signal.
type Predicate func(sig *signal.Signal) bool

// Rule is one row of the classification table.
type Rule struct {
	Name     string
	Match    Predicate
	Category incident.Category
	Priority incident.Priority
}

// Names of the built-in rules, recorded on incidents for audit.
const (
	RuleNullReference        = "null-reference-with-frame"
	RuleMissingConfiguration = "missing-configuration"
	RuleDefault              = "default"
)

var fallback = Rule{
	Name:     RuleDefault,
	Category: incident.CategoryUnclassified,
	Priority: incident.PriorityMedium,
}

// DefaultRules returns the built-in table in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     RuleNullReference,
			Match:    func(sig *signal.Signal) bool { return IsNullReference(sig) && sig.HasPrimaryFrame() },
			Category: incident.CategoryCodeDefect,
			Priority: incident.PriorityCritical,
		},
		{
			Name:     RuleMissingConfiguration,
			Match:    IsMissingConfiguration,
			Category: incident.CategoryConfigurationDefect,
			Priority: incident.PriorityHigh,
		},
	}
}

// Classifier evaluates rules top-down. It is safe for concurrent use.
type Classifier struct {
	mu    sync.RWMutex
	rules []Rule
}

// New returns a Classifier with the built-in rules followed by extra.
func New(extra ...Rule) *Classifier {
	c := &Classifier{rules: DefaultRules()}
	c.Append(extra...)
	return c
}

// Append adds rules after the existing ones. Earlier rules keep precedence.
func (c *Classifier) Append(rules ...Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range rules {
		if r.Match != nil {
			c.rules = append(c.rules, r)
		}
	}
}

// Rules returns a copy of the table, without the fallback.
func (c *Classifier) Rules() []Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Rule(nil), c.rules...)
}

// Classify returns the category and priority of the first matching rule.
// Signals no rule matches are unclassified; that is never an error.
func (c *Classifier) Classify(sig *signal.Signal) (incident.Category, incident.Priority) {
	r := c.match(sig)
	return r.Category, r.Priority
}

// Explain returns the name of the rule Classify would apply.
func (c *Classifier) Explain(sig *signal.Signal) string {
	return c.match(sig).Name
}

func (c *Classifier) match(sig *signal.Signal) Rule {
	if sig == nil {
		return fallback
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.rules {
		if r.Match(sig) {
			return r
		}
	}
	return fallback
}

var _ incident.Classifier = (*Classifier)(nil)
