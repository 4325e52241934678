// Package clientconfig loads and generates the per-client configuration
// (heuristic rules, grounding facts, qualification groups, routing rules)
// keyed by protocol template.
package clientconfig

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/callpilot/protofill/internal/protocol"
)

// HeuristicRule maps a regex pattern on the question text to a type.
type HeuristicRule struct {
	Pattern    string              `mapstructure:"pattern" yaml:"pattern"`
	Type       protocol.PromptType `mapstructure:"type" yaml:"type"`
	Confidence float64             `mapstructure:"confidence" yaml:"confidence"`
}

// MustCriterion is a legacy hard requirement on one item's checked state.
type MustCriterion struct {
	ItemID   int    `mapstructure:"prompt_id" yaml:"prompt_id"`
	Expected bool   `mapstructure:"expected" yaml:"expected"`
	ErrorMsg string `mapstructure:"error_msg" yaml:"error_msg"`
}

// QualificationOption binds one item to a qualification group.
type QualificationOption struct {
	ItemID      int     `mapstructure:"prompt_id" yaml:"prompt_id"`
	Description string  `mapstructure:"description" yaml:"description"`
	Weight      float64 `mapstructure:"weight" yaml:"weight"`
}

// QualificationGroup is a set of alternative or cumulative qualification
// options with OR/AND logic.
type QualificationGroup struct {
	GroupID     string                `mapstructure:"group_id" yaml:"group_id"`
	Name        string                `mapstructure:"group_name" yaml:"group_name"`
	Logic       string                `mapstructure:"logic" yaml:"logic"`
	Options     []QualificationOption `mapstructure:"options" yaml:"options"`
	MinRequired int                   `mapstructure:"min_required" yaml:"min_required"`
	IsMandatory bool                  `mapstructure:"is_mandatory" yaml:"is_mandatory"`
	ErrorMsg    string                `mapstructure:"error_msg" yaml:"error_msg"`
}

// RoutingCondition tests one field of a source item.
type RoutingCondition struct {
	ItemID   int    `mapstructure:"prompt" yaml:"prompt"`
	Field    string `mapstructure:"field" yaml:"field"`
	Operator string `mapstructure:"operator" yaml:"operator"`
	Value    any    `mapstructure:"value" yaml:"value"`
}

// RoutingAction is applied to the target item when all conditions hold.
type RoutingAction struct {
	Checked *bool   `mapstructure:"checked" yaml:"checked,omitempty"`
	Value   *string `mapstructure:"value" yaml:"value,omitempty"`
	Notes   *string `mapstructure:"notes" yaml:"notes,omitempty"`
}

// RoutingRule derives a target item's answer from other items.
type RoutingRule struct {
	RuleID     string             `mapstructure:"rule_id" yaml:"rule_id"`
	TargetItem int                `mapstructure:"target_prompt" yaml:"target_prompt"`
	Conditions []RoutingCondition `mapstructure:"conditions" yaml:"conditions"`
	Action     RoutingAction      `mapstructure:"action" yaml:"action"`
}

// DefaultAnswer is the answer an implicit default writes.
type DefaultAnswer struct {
	Checked    *bool   `mapstructure:"checked" yaml:"checked,omitempty"`
	Value      string  `mapstructure:"value" yaml:"value,omitempty"`
	Confidence float64 `mapstructure:"confidence" yaml:"confidence"`
	Notes      string  `mapstructure:"notes" yaml:"notes,omitempty"`
}

// ImplicitDefault fills a wholly unset item with an assumed answer.
type ImplicitDefault struct {
	ItemID    int           `mapstructure:"prompt_id" yaml:"prompt_id"`
	Reasoning string        `mapstructure:"reasoning" yaml:"reasoning"`
	Answer    DefaultAnswer `mapstructure:"default_answer" yaml:"default_answer"`
}

// Config is the full per-client configuration for one protocol template.
type Config struct {
	ClientID            string               `mapstructure:"mandant_id" yaml:"mandant_id"`
	TemplateID          int                  `mapstructure:"protokoll_template_id" yaml:"protokoll_template_id"`
	HeuristicRules      []HeuristicRule      `mapstructure:"heuristic_rules" yaml:"heuristic_rules"`
	InfoPageNames       []string             `mapstructure:"info_page_names" yaml:"info_page_names"`
	Grounding           map[string]any       `mapstructure:"grounding" yaml:"grounding"`
	MustCriteria        []MustCriterion      `mapstructure:"must_criteria" yaml:"must_criteria"`
	QualificationGroups []QualificationGroup `mapstructure:"qualification_groups" yaml:"qualification_groups"`
	RoutingRules        []RoutingRule        `mapstructure:"routing_rules" yaml:"routing_rules"`
	ImplicitDefaults    []ImplicitDefault    `mapstructure:"implicit_defaults" yaml:"implicit_defaults"`
}

// Load reads and validates a config file. The format is inferred from the
// file extension; YAML is the usual choice.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read client config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal client config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate client config %s: %w", path, err)
	}

	return &cfg, nil
}

// Validate checks the parts that would otherwise fail deep inside the
// pipeline: type tags, group logic and routing operators.
func (c *Config) Validate() error {
	for _, rule := range c.HeuristicRules {
		if _, err := protocol.ParsePromptType(string(rule.Type)); err != nil {
			return fmt.Errorf("heuristic rule %q: %w", rule.Pattern, err)
		}
	}
	for _, group := range c.QualificationGroups {
		logic := strings.ToUpper(group.Logic)
		if logic != "OR" && logic != "AND" {
			return fmt.Errorf("qualification group %s: unknown logic %q", group.GroupID, group.Logic)
		}
		if len(group.Options) == 0 {
			return fmt.Errorf("qualification group %s: no options", group.GroupID)
		}
	}
	for _, rule := range c.RoutingRules {
		for _, cond := range rule.Conditions {
			switch cond.Field {
			case "checked", "value":
			default:
				return fmt.Errorf("routing rule %s: unknown field %q", rule.RuleID, cond.Field)
			}
			switch cond.Operator {
			case "==", "!=", "contains", "not_contains":
			default:
				return fmt.Errorf("routing rule %s: unknown operator %q", rule.RuleID, cond.Operator)
			}
		}
	}
	return nil
}

// IsInfoPage reports whether the page name is configured as display-only.
func (c *Config) IsInfoPage(pageName string) bool {
	for _, name := range c.InfoPageNames {
		if name == pageName {
			return true
		}
	}
	return false
}
