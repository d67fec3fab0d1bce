package classify

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/faultline/internal/incident"
	"github.com/linnemanlabs/faultline/internal/signal"
)

// RuleSet is the on-disk form of additional rules.
type RuleSet struct {
	Rules []RuleConfig `yaml:"rules"`
}

// RuleConfig describes one rule. All set conditions must hold; Kinds
// matches either the full or the short exception kind.
type RuleConfig struct {
	Name           string   `yaml:"name"`
	Category       string   `yaml:"category"`
	Priority       string   `yaml:"priority"`
	Kinds          []string `yaml:"kinds"`
	KindPattern    string   `yaml:"kind_pattern"`
	MessagePattern string   `yaml:"message_pattern"`
	RequireFrame   bool     `yaml:"require_frame"`
}

// LoadRules reads a rule file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// ParseRules decodes and compiles a YAML rule set.
func ParseRules(data []byte) ([]Rule, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, err
	}
	out := make([]Rule, 0, len(rs.Rules))
	for i, rc := range rs.Rules {
		r, err := rc.compile()
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rc.Name, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (rc RuleConfig) compile() (Rule, error) {
	if rc.Name == "" {
		return Rule{}, fmt.Errorf("name is required")
	}
	category, err := incident.ParseCategory(rc.Category)
	if err != nil {
		return Rule{}, err
	}
	priority := incident.PriorityMedium
	if rc.Priority != "" {
		if priority, err = incident.ParsePriority(rc.Priority); err != nil {
			return Rule{}, err
		}
	}
	if len(rc.Kinds) == 0 && rc.KindPattern == "" && rc.MessagePattern == "" {
		return Rule{}, fmt.Errorf("at least one of kinds, kind_pattern or message_pattern is required")
	}

	var kindRe, msgRe *regexp.Regexp
	if rc.KindPattern != "" {
		if kindRe, err = regexp.Compile(rc.KindPattern); err != nil {
			return Rule{}, fmt.Errorf("kind_pattern: %w", err)
		}
	}
	if rc.MessagePattern != "" {
		if msgRe, err = regexp.Compile(rc.MessagePattern); err != nil {
			return Rule{}, fmt.Errorf("message_pattern: %w", err)
		}
	}
	kinds := make(map[string]bool, len(rc.Kinds))
	for _, k := range rc.Kinds {
		kinds[k] = true
	}
	requireFrame := rc.RequireFrame

	return Rule{
		Name:     rc.Name,
		Category: category,
		Priority: priority,
		Match: func(sig *signal.Signal) bool {
			if len(kinds) > 0 && !kinds[sig.Kind] && !kinds[sig.ShortKind()] {
				return false
			}
			if kindRe != nil && !kindRe.MatchString(sig.Kind) {
				return false
			}
			if msgRe != nil && !msgRe.MatchString(sig.Message) {
				return false
			}
			if requireFrame && !sig.HasPrimaryFrame() {
				return false
			}
			return true
		},
	}, nil
}
