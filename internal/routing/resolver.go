// Package routing applies implicit defaults and conditional routing rules
// to the filled protocol. Both passes are deterministic and idempotent.
package routing

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/callpilot/protofill/internal/clientconfig"
	"github.com/callpilot/protofill/internal/inference"
	"github.com/callpilot/protofill/internal/protocol"
)

// Resolver mutates filled items in place according to the client config.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver builds a resolver.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// ApplyDefaults fills wholly unset items with their configured default.
// Items with any checked state or evidence are left untouched, so a second
// pass finds nothing left to apply.
func (r *Resolver) ApplyDefaults(filled *protocol.FilledProtocol, cfg *clientconfig.Config) {
	for _, def := range cfg.ImplicitDefaults {
		target := filled.ItemByID(def.ItemID)
		if target == nil {
			r.logger.Warn("implicit default targets unknown item", zap.Int("item_id", def.ItemID))
			continue
		}
		if !target.Answer.IsUnset() {
			continue
		}

		target.Answer.Checked = def.Answer.Checked
		if def.Answer.Value != "" {
			target.Answer.Value = protocol.StringValue(def.Answer.Value)
		}
		target.Answer.Confidence = def.Answer.Confidence
		target.Answer.Notes = def.Answer.Notes
	}
}

// ApplyRules evaluates each routing rule against already-resolved items and,
// when all conditions hold, applies the action to the target item with
// confidence forced to 1.0. Rules run in configuration order; a later rule
// may overwrite an earlier rule's target. Rules referencing unknown items
// are skipped and reported as warnings.
func (r *Resolver) ApplyRules(filled *protocol.FilledProtocol, cfg *clientconfig.Config) []string {
	var warnings []string
	for _, rule := range cfg.RoutingRules {
		hold, warns := r.conditionsHold(filled, rule)
		warnings = append(warnings, warns...)
		if !hold {
			continue
		}

		target := filled.ItemByID(rule.TargetItem)
		if target == nil {
			warnings = append(warnings, fmt.Sprintf(
				"routing rule %s targets unknown prompt %d", rule.RuleID, rule.TargetItem))
			r.logger.Warn("routing rule targets unknown item",
				zap.String("rule_id", rule.RuleID),
				zap.Int("item_id", rule.TargetItem),
			)
			continue
		}

		if rule.Action.Checked != nil {
			target.Answer.Checked = rule.Action.Checked
		}
		if rule.Action.Value != nil {
			target.Answer.Value = protocol.StringValue(*rule.Action.Value)
		}
		if rule.Action.Notes != nil {
			target.Answer.Notes = *rule.Action.Notes
		}
		// A fired rule is a deterministic derivation, not an inference.
		target.Answer.Confidence = 1.0

		r.logger.Debug("routing rule fired",
			zap.String("rule_id", rule.RuleID),
			zap.Int("target_item", rule.TargetItem),
		)
	}
	return warnings
}

func (r *Resolver) conditionsHold(filled *protocol.FilledProtocol, rule clientconfig.RoutingRule) (bool, []string) {
	for _, cond := range rule.Conditions {
		source := filled.ItemByID(cond.ItemID)
		if source == nil {
			warning := fmt.Sprintf(
				"routing rule %s condition references unknown prompt %d", rule.RuleID, cond.ItemID)
			r.logger.Warn("routing condition references unknown item",
				zap.String("rule_id", rule.RuleID),
				zap.Int("item_id", cond.ItemID),
			)
			return false, []string{warning}
		}
		if !evaluateCondition(&source.Answer, cond) {
			return false, nil
		}
	}
	return true, nil
}

func evaluateCondition(answer *protocol.Answer, cond clientconfig.RoutingCondition) bool {
	switch cond.Field {
	case "checked":
		return evaluateChecked(answer.Checked, cond)
	case "value":
		return evaluateValue(answer.Value, cond)
	}
	return false
}

func evaluateChecked(checked *bool, cond clientconfig.RoutingCondition) bool {
	switch cond.Operator {
	case "==":
		expected := inference.CoerceBool(cond.Value)
		if checked == nil || expected == nil {
			return checked == nil && expected == nil
		}
		return *checked == *expected
	case "!=":
		expected := inference.CoerceBool(cond.Value)
		if checked == nil || expected == nil {
			return !(checked == nil && expected == nil)
		}
		return *checked != *expected
	case "contains":
		if checked == nil {
			return false
		}
		return strings.Contains(checkedString(*checked), strings.ToLower(inference.CoerceString(cond.Value)))
	case "not_contains":
		// Vacuously true on an unset field, like value conditions.
		if checked == nil {
			return true
		}
		return !strings.Contains(checkedString(*checked), strings.ToLower(inference.CoerceString(cond.Value)))
	}
	return false
}

// checkedString renders the checked state for substring operators.
func checkedString(checked bool) string {
	if checked {
		return "true"
	}
	return "false"
}

func evaluateValue(value protocol.Value, cond clientconfig.RoutingCondition) bool {
	expected := inference.CoerceString(cond.Value)

	switch cond.Operator {
	case "==":
		if !value.IsSet() {
			return expected == ""
		}
		return value.Equals(expected)
	case "!=":
		if !value.IsSet() {
			return expected != ""
		}
		return !value.Equals(expected)
	case "contains":
		if !value.IsSet() {
			return false
		}
		return value.Contains(expected)
	case "not_contains":
		// Vacuously true on an unset field.
		if !value.IsSet() {
			return true
		}
		return !value.Contains(expected)
	}
	return false
}
