// Package qualify decides whether a candidate meets the protocol's
// requirements. Exactly one evaluation branch runs: qualification groups,
// legacy must-criteria, or implicit keyword detection.
package qualify

import (
	"fmt"
	"strings"

	"github.com/callpilot/protofill/internal/clientconfig"
	"github.com/callpilot/protofill/internal/policy"
	"github.com/callpilot/protofill/internal/protocol"
)

// Method names the branch that produced the verdict.
type Method string

const (
	MethodGroups   Method = "qualification_groups"
	MethodCriteria Method = "must_criteria"
	MethodImplicit Method = "implicit_detection"
)

// OptionResult records one fulfilled option inside a group.
type OptionResult struct {
	ItemID      int     `json:"prompt_id"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

// GroupResult is the per-group breakdown.
type GroupResult struct {
	GroupID          string         `json:"group_id"`
	Name             string         `json:"group_name"`
	Logic            string         `json:"logic"`
	IsMandatory      bool           `json:"is_mandatory"`
	IsFulfilled      bool           `json:"is_fulfilled"`
	FulfilledOptions int            `json:"fulfilled_options"`
	TotalOptions     int            `json:"total_options"`
	FulfilledDetails []OptionResult `json:"fulfilled_details"`
}

// Evaluation is the qualification verdict for one call.
type Evaluation struct {
	IsQualified    bool          `json:"is_qualified"`
	Summary        string        `json:"summary"`
	FulfilledCount int           `json:"fulfilled_count"`
	TotalCount     int           `json:"total_count"`
	Errors         []string      `json:"errors"`
	Method         Method        `json:"evaluation_method"`
	Groups         []GroupResult `json:"group_evaluations,omitempty"`
}

// Keywords that mark a question as qualification-relevant for the implicit
// fallback branch.
var qualificationKeywords = []string{
	"ausbildung", "studium", "abschluss", "qualifikation",
	"erfahrung", "berufserfahrung",
	"zertifikat", "zertifizierung", "nachweis", "lizenz",
	"sprachkenntnisse", "deutschkenntnisse", "englischkenntnisse",
	"führerschein", "fahrerlaubnis",
}

// Evaluate runs the strict fallback chain and renders a human-readable
// summary from the result.
func Evaluate(filled *protocol.FilledProtocol, cfg *clientconfig.Config) Evaluation {
	var eval Evaluation
	switch {
	case len(cfg.QualificationGroups) > 0:
		eval = evaluateGroups(filled, cfg)
	case len(cfg.MustCriteria) > 0:
		eval = evaluateMustCriteria(filled, cfg)
	default:
		eval = evaluateImplicit(filled)
	}

	eval.IsQualified = len(eval.Errors) == 0
	eval.Summary = buildSummary(eval)
	return eval
}

// isFulfilled implements the shared fulfillment rule: an answer counts when
// it is checked true, or carries a value with enough confidence and at least
// one piece of evidence.
func isFulfilled(answer *protocol.Answer) bool {
	if answer.Checked != nil && *answer.Checked {
		return true
	}
	return answer.Value.IsSet() &&
		answer.Confidence >= policy.EvidenceConfidenceFloor &&
		len(answer.Evidence) > 0
}

func evaluateGroups(filled *protocol.FilledProtocol, cfg *clientconfig.Config) Evaluation {
	eval := Evaluation{Method: MethodGroups, Errors: []string{}}

	for _, group := range cfg.QualificationGroups {
		result := GroupResult{
			GroupID:      group.GroupID,
			Name:         group.Name,
			Logic:        strings.ToUpper(group.Logic),
			IsMandatory:  group.IsMandatory,
			TotalOptions: len(group.Options),
		}

		for _, opt := range group.Options {
			item := filled.ItemByID(opt.ItemID)
			if item == nil {
				continue
			}
			if isFulfilled(&item.Answer) {
				result.FulfilledOptions++
				result.FulfilledDetails = append(result.FulfilledDetails, OptionResult{
					ItemID:      opt.ItemID,
					Description: opt.Description,
					Weight:      opt.Weight,
				})
			}
		}

		switch result.Logic {
		case "AND":
			result.IsFulfilled = result.FulfilledOptions == result.TotalOptions
		default: // OR
			min := group.MinRequired
			if min <= 0 {
				min = 1
			}
			result.IsFulfilled = result.FulfilledOptions >= min
		}

		// Only mandatory groups count toward the pass/fail tally.
		if group.IsMandatory {
			eval.TotalCount++
			if result.IsFulfilled {
				eval.FulfilledCount++
			} else {
				msg := group.ErrorMsg
				if msg == "" {
					msg = fmt.Sprintf("Qualifikationsgruppe nicht erfüllt: %s", group.Name)
				}
				eval.Errors = append(eval.Errors, msg)
			}
		}

		eval.Groups = append(eval.Groups, result)
	}

	return eval
}

func evaluateMustCriteria(filled *protocol.FilledProtocol, cfg *clientconfig.Config) Evaluation {
	eval := Evaluation{Method: MethodCriteria, Errors: []string{}}
	eval.TotalCount = len(cfg.MustCriteria)

	for _, criterion := range cfg.MustCriteria {
		item := filled.ItemByID(criterion.ItemID)
		if item == nil {
			eval.Errors = append(eval.Errors, fmt.Sprintf("Prompt %d nicht gefunden", criterion.ItemID))
			continue
		}
		if item.Answer.Checked != nil && *item.Answer.Checked == criterion.Expected {
			eval.FulfilledCount++
		} else {
			eval.Errors = append(eval.Errors, criterion.ErrorMsg)
		}
	}

	return eval
}

func evaluateImplicit(filled *protocol.FilledProtocol) Evaluation {
	eval := Evaluation{Method: MethodImplicit, Errors: []string{}}

	for _, item := range filled.Items() {
		if !item.Inferred.NeedsAnswer() {
			continue
		}
		q := strings.ToLower(item.Question)
		if !containsKeyword(q) {
			continue
		}
		eval.TotalCount++
		if isFulfilled(&item.Answer) {
			eval.FulfilledCount++
		}
	}

	if eval.FulfilledCount == 0 {
		eval.Errors = append(eval.Errors, "Keine Qualifikationen im Gespräch nachgewiesen")
	}

	return eval
}

func containsKeyword(q string) bool {
	for _, kw := range qualificationKeywords {
		if strings.Contains(q, kw) {
			return true
		}
	}
	return false
}

func buildSummary(eval Evaluation) string {
	verdict := "Kandidat ist NICHT qualifiziert"
	if eval.IsQualified {
		verdict = "Kandidat ist qualifiziert"
	}
	summary := fmt.Sprintf("%s (%d/%d Kriterien erfüllt)", verdict, eval.FulfilledCount, eval.TotalCount)
	if len(eval.Errors) > 0 {
		summary += ": " + strings.Join(eval.Errors, "; ")
	}
	return summary
}
