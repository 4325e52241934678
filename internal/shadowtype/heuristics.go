package shadowtype

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/callpilot/protofill/internal/clientconfig"
	"github.com/callpilot/protofill/internal/protocol"
)

// heuristic is one deterministic classification strategy. It returns nil
// when it has no opinion about the item.
type heuristic interface {
	match(item protocol.Item, pageName string, cfg *clientconfig.Config) *protocol.ShadowType
}

// defaultHeuristics returns the deterministic strategies in priority order:
// page-level override, client-supplied rules, built-in patterns.
func defaultHeuristics() []heuristic {
	return []heuristic{
		infoPageHeuristic{},
		clientRuleHeuristic{},
		builtinPatternHeuristic{},
	}
}

const urgencyMarker = "!!!"

// infoPageHeuristic classifies everything on a designated info page as
// display-only, or as a recruiter instruction when the text carries an
// urgency marker.
type infoPageHeuristic struct{}

func (infoPageHeuristic) match(item protocol.Item, pageName string, cfg *clientconfig.Config) *protocol.ShadowType {
	if cfg == nil || !cfg.IsInfoPage(pageName) {
		return nil
	}
	q := strings.ToLower(item.Question)
	if strings.Contains(item.Question, urgencyMarker) || strings.Contains(q, "bitte unbedingt erwähnen") {
		return &protocol.ShadowType{
			ItemID:     item.ID,
			Inferred:   protocol.TypeRecruiterInstruction,
			Confidence: 0.98,
			Reasoning:  "Recruiter instruction on info page",
		}
	}
	return &protocol.ShadowType{
		ItemID:     item.ID,
		Inferred:   protocol.TypeInfo,
		Confidence: 0.94,
		Reasoning:  "Info page",
	}
}

// clientRuleHeuristic applies the per-client regex rules against the
// lower-cased question text.
type clientRuleHeuristic struct{}

func (clientRuleHeuristic) match(item protocol.Item, _ string, cfg *clientconfig.Config) *protocol.ShadowType {
	if cfg == nil {
		return nil
	}
	q := strings.ToLower(item.Question)
	for _, rule := range cfg.HeuristicRules {
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			continue
		}
		if re.MatchString(q) {
			return &protocol.ShadowType{
				ItemID:     item.ID,
				Inferred:   rule.Type,
				Confidence: rule.Confidence,
				Reasoning:  fmt.Sprintf("Matched pattern: %s", rule.Pattern),
			}
		}
	}
	return nil
}

var (
	enumerationRe = regexp.MustCompile(`^[^:]{2,40}:\s*[^,]+,[^,]+,`)
	hourCountRe   = regexp.MustCompile(`\d+[.,]?\d*\s*(?:std|stunden|wochenstunden|h)\b`)
	workHourRe    = regexp.MustCompile(`vollzeit|teilzeit|arbeitszeit|stundenumfang|wochenstunden`)
	requirementRe = regexp.MustCompile(`^(?:zwingend|wünschenswert):`)
)

// builtinPatternHeuristic covers the patterns common to every client:
// multi-option enumerations, work-hour questions and requirement prefixes.
type builtinPatternHeuristic struct{}

func (builtinPatternHeuristic) match(item protocol.Item, _ string, _ *clientconfig.Config) *protocol.ShadowType {
	q := strings.ToLower(item.Question)

	if enumerationRe.MatchString(item.Question) {
		return &protocol.ShadowType{
			ItemID:     item.ID,
			Inferred:   protocol.TypeText,
			Confidence: 0.92,
			Reasoning:  "Multi-option enumeration",
		}
	}

	if workHourRe.MatchString(q) {
		if hourCountRe.MatchString(q) {
			return &protocol.ShadowType{
				ItemID:     item.ID,
				Inferred:   protocol.TypeYesNoWithDetails,
				Confidence: 0.91,
				Reasoning:  "Work-hour question with explicit hour count",
			}
		}
		return &protocol.ShadowType{
			ItemID:     item.ID,
			Inferred:   protocol.TypeYesNo,
			Confidence: 0.90,
			Reasoning:  "Work-hour question without hour count",
		}
	}

	if requirementRe.MatchString(q) {
		return &protocol.ShadowType{
			ItemID:     item.ID,
			Inferred:   protocol.TypeYesNo,
			Confidence: 0.92,
			Reasoning:  "Requirement prefix (zwingend/wünschenswert)",
		}
	}

	return nil
}
