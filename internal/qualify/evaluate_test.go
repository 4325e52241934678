package qualify

import (
	"strings"
	"testing"

	"github.com/callpilot/protofill/internal/clientconfig"
	"github.com/callpilot/protofill/internal/protocol"
)

func answered(checked bool, conf float64) protocol.Answer {
	return protocol.Answer{
		Checked:    protocol.Bool(checked),
		Confidence: conf,
		Evidence:   []protocol.Evidence{{Span: "ja, habe ich", TurnIndex: 2, Speaker: protocol.SpeakerCandidate}},
	}
}

func valueAnswered(value string, conf float64) protocol.Answer {
	return protocol.Answer{
		Value:      protocol.StringValue(value),
		Confidence: conf,
		Evidence:   []protocol.Evidence{{Span: value, TurnIndex: 3, Speaker: protocol.SpeakerCandidate}},
	}
}

func qualificationFixture() *protocol.FilledProtocol {
	return &protocol.FilledProtocol{
		ID:   7,
		Name: "Pflegekraft",
		Pages: []protocol.FilledPage{
			{ID: 1, Name: "Qualifikation", Items: []protocol.FilledItem{
				{ID: 201, Question: "Examinierte Ausbildung zur Pflegefachkraft?", Inferred: protocol.TypeYesNo,
					Answer: answered(true, 0.95)},
				{ID: 202, Question: "Anerkennung ausländischer Abschluss?", Inferred: protocol.TypeYesNo},
				{ID: 203, Question: "Mehrjährige Berufserfahrung in der Pflege?", Inferred: protocol.TypeYesNoWithDetails},
				{ID: 204, Question: "Führerschein Klasse B?", Inferred: protocol.TypeYesNo,
					Answer: answered(false, 0.9)},
			}},
		},
	}
}

func orGroup() clientconfig.QualificationGroup {
	return clientconfig.QualificationGroup{
		GroupID:     "qual_group_1",
		Name:        "Ausbildung",
		Logic:       "OR",
		MinRequired: 1,
		IsMandatory: true,
		Options: []clientconfig.QualificationOption{
			{ItemID: 201, Description: "Examinierte Ausbildung", Weight: 1.0},
			{ItemID: 202, Description: "Anerkannter Abschluss", Weight: 1.0},
			{ItemID: 203, Description: "Berufserfahrung", Weight: 0.8},
		},
	}
}

func TestGroupsOrLogicOneOptionSuffices(t *testing.T) {
	cfg := &clientconfig.Config{QualificationGroups: []clientconfig.QualificationGroup{orGroup()}}

	eval := Evaluate(qualificationFixture(), cfg)

	if eval.Method != MethodGroups {
		t.Fatalf("method = %q, want %q", eval.Method, MethodGroups)
	}
	if !eval.IsQualified {
		t.Fatalf("one fulfilled OR option must qualify: %+v", eval)
	}
	if len(eval.Groups) != 1 || !eval.Groups[0].IsFulfilled {
		t.Fatalf("group must be fulfilled: %+v", eval.Groups)
	}
	if eval.Groups[0].FulfilledOptions != 1 || eval.Groups[0].TotalOptions != 3 {
		t.Fatalf("fulfilled/total = %d/%d, want 1/3",
			eval.Groups[0].FulfilledOptions, eval.Groups[0].TotalOptions)
	}
	if len(eval.Groups[0].FulfilledDetails) != 1 || eval.Groups[0].FulfilledDetails[0].ItemID != 201 {
		t.Fatalf("fulfilled details wrong: %+v", eval.Groups[0].FulfilledDetails)
	}
	if eval.FulfilledCount != 1 || eval.TotalCount != 1 {
		t.Fatalf("mandatory group counts wrong: %d/%d", eval.FulfilledCount, eval.TotalCount)
	}
}

func TestGroupsTakePriorityOverLegacyCriteria(t *testing.T) {
	// Legacy criterion that would fail on its own: item 204 is checked=false.
	cfg := &clientconfig.Config{
		QualificationGroups: []clientconfig.QualificationGroup{orGroup()},
		MustCriteria: []clientconfig.MustCriterion{
			{ItemID: 204, Expected: true, ErrorMsg: "Führerschein fehlt"},
		},
	}

	eval := Evaluate(qualificationFixture(), cfg)

	if eval.Method != MethodGroups {
		t.Fatalf("groups must win over legacy criteria, got method %q", eval.Method)
	}
	if !eval.IsQualified {
		t.Fatalf("legacy criteria must be ignored when groups are present: %+v", eval)
	}
	for _, msg := range eval.Errors {
		if strings.Contains(msg, "Führerschein") {
			t.Fatalf("legacy error leaked into group evaluation: %v", eval.Errors)
		}
	}
}

func TestGroupsAndLogicRequiresAllOptions(t *testing.T) {
	group := orGroup()
	group.Logic = "AND"
	cfg := &clientconfig.Config{QualificationGroups: []clientconfig.QualificationGroup{group}}

	eval := Evaluate(qualificationFixture(), cfg)

	if eval.IsQualified {
		t.Fatalf("AND group with unfulfilled options must not qualify")
	}
	if eval.Groups[0].IsFulfilled {
		t.Fatalf("AND group fulfilled with 1/3 options")
	}
	if len(eval.Errors) != 1 {
		t.Fatalf("unfulfilled mandatory group must produce one error: %v", eval.Errors)
	}
}

func TestGroupsMinRequiredAppliesToOr(t *testing.T) {
	group := orGroup()
	group.MinRequired = 2
	cfg := &clientconfig.Config{QualificationGroups: []clientconfig.QualificationGroup{group}}

	filled := qualificationFixture()
	eval := Evaluate(filled, cfg)
	if eval.IsQualified {
		t.Fatalf("min_required=2 with one fulfilled option must not qualify")
	}

	// A value answer with evidence and enough confidence also fulfills.
	filled.ItemByID(203).Answer = valueAnswered("5 Jahre Intensivstation", 0.85)
	eval = Evaluate(filled, cfg)
	if !eval.IsQualified {
		t.Fatalf("two fulfilled options must satisfy min_required=2: %+v", eval)
	}
}

func TestGroupsLowConfidenceValueDoesNotFulfill(t *testing.T) {
	group := orGroup()
	cfg := &clientconfig.Config{QualificationGroups: []clientconfig.QualificationGroup{group}}

	filled := qualificationFixture()
	filled.ItemByID(201).Answer = protocol.Answer{}
	filled.ItemByID(203).Answer = valueAnswered("vielleicht etwas Erfahrung", 0.6)

	eval := Evaluate(filled, cfg)
	if eval.IsQualified {
		t.Fatalf("confidence below the evidence floor must not fulfill an option")
	}
}

func TestGroupsValueWithoutEvidenceDoesNotFulfill(t *testing.T) {
	cfg := &clientconfig.Config{QualificationGroups: []clientconfig.QualificationGroup{orGroup()}}

	filled := qualificationFixture()
	filled.ItemByID(201).Answer = protocol.Answer{
		Value:      protocol.StringValue("Ausbildung 2019"),
		Confidence: 0.9,
	}

	eval := Evaluate(filled, cfg)
	if eval.IsQualified {
		t.Fatalf("value without evidence must not fulfill an option")
	}
}

func TestNonMandatoryGroupDoesNotBlockQualification(t *testing.T) {
	optional := clientconfig.QualificationGroup{
		GroupID: "qual_group_2", Name: "Zusatz", Logic: "OR", IsMandatory: false,
		Options: []clientconfig.QualificationOption{{ItemID: 204, Description: "Führerschein", Weight: 0.5}},
	}
	cfg := &clientconfig.Config{QualificationGroups: []clientconfig.QualificationGroup{orGroup(), optional}}

	eval := Evaluate(qualificationFixture(), cfg)

	if !eval.IsQualified {
		t.Fatalf("unfulfilled optional group must not block qualification: %+v", eval)
	}
	if len(eval.Groups) != 2 {
		t.Fatalf("all groups must appear in the breakdown: %d", len(eval.Groups))
	}
	if eval.TotalCount != 1 {
		t.Fatalf("only mandatory groups count, total = %d", eval.TotalCount)
	}
}

func TestGroupErrorMessageFallsBackToGroupName(t *testing.T) {
	group := orGroup()
	group.Logic = "AND"
	group.ErrorMsg = ""
	cfg := &clientconfig.Config{QualificationGroups: []clientconfig.QualificationGroup{group}}

	eval := Evaluate(qualificationFixture(), cfg)

	if len(eval.Errors) != 1 || !strings.Contains(eval.Errors[0], "Ausbildung") {
		t.Fatalf("generated error must name the group: %v", eval.Errors)
	}
}

func TestLegacyMustCriteria(t *testing.T) {
	cfg := &clientconfig.Config{
		MustCriteria: []clientconfig.MustCriterion{
			{ItemID: 201, Expected: true, ErrorMsg: "Ausbildung fehlt"},
			{ItemID: 204, Expected: true, ErrorMsg: "Führerschein fehlt"},
		},
	}

	eval := Evaluate(qualificationFixture(), cfg)

	if eval.Method != MethodCriteria {
		t.Fatalf("method = %q, want %q", eval.Method, MethodCriteria)
	}
	if eval.IsQualified {
		t.Fatalf("failed criterion must disqualify")
	}
	if eval.FulfilledCount != 1 || eval.TotalCount != 2 {
		t.Fatalf("counts = %d/%d, want 1/2", eval.FulfilledCount, eval.TotalCount)
	}
	if len(eval.Errors) != 1 || eval.Errors[0] != "Führerschein fehlt" {
		t.Fatalf("configured error message must be reported: %v", eval.Errors)
	}
}

func TestLegacyMustCriteriaUnknownItem(t *testing.T) {
	cfg := &clientconfig.Config{
		MustCriteria: []clientconfig.MustCriterion{
			{ItemID: 999, Expected: true, ErrorMsg: "egal"},
		},
	}

	eval := Evaluate(qualificationFixture(), cfg)
	if eval.IsQualified {
		t.Fatalf("criterion on a missing item must disqualify")
	}
}

func TestImplicitDetectionFindsKeywordItems(t *testing.T) {
	eval := Evaluate(qualificationFixture(), &clientconfig.Config{})

	if eval.Method != MethodImplicit {
		t.Fatalf("method = %q, want %q", eval.Method, MethodImplicit)
	}
	// Items 201 (ausbildung), 202 (abschluss), 203 (berufserfahrung) and
	// 204 (führerschein) all carry keywords; 201 is fulfilled.
	if eval.TotalCount != 4 {
		t.Fatalf("keyword scan total = %d, want 4", eval.TotalCount)
	}
	if !eval.IsQualified || eval.FulfilledCount != 1 {
		t.Fatalf("one fulfilled keyword item must qualify: %+v", eval)
	}
}

func TestImplicitDetectionNothingFulfilled(t *testing.T) {
	filled := qualificationFixture()
	for _, item := range filled.Items() {
		item.Answer = protocol.Answer{}
	}

	eval := Evaluate(filled, &clientconfig.Config{})

	if eval.IsQualified {
		t.Fatalf("no fulfilled keyword items must disqualify")
	}
	if len(eval.Errors) != 1 {
		t.Fatalf("exactly one generic error expected: %v", eval.Errors)
	}
}

func TestImplicitDetectionSkipsInformationalItems(t *testing.T) {
	filled := qualificationFixture()
	filled.Pages[0].Items = append(filled.Pages[0].Items, protocol.FilledItem{
		ID: 205, Question: "Hinweis zur Ausbildung des Teams", Inferred: protocol.TypeInfo,
	})

	eval := Evaluate(filled, &clientconfig.Config{})
	if eval.TotalCount != 4 {
		t.Fatalf("informational items must be skipped, total = %d", eval.TotalCount)
	}
}

func TestSummaryReflectsVerdictAndCounts(t *testing.T) {
	cfg := &clientconfig.Config{QualificationGroups: []clientconfig.QualificationGroup{orGroup()}}

	eval := Evaluate(qualificationFixture(), cfg)
	if !strings.Contains(eval.Summary, "qualifiziert") || !strings.Contains(eval.Summary, "1/1") {
		t.Fatalf("summary missing verdict or counts: %q", eval.Summary)
	}

	group := orGroup()
	group.Logic = "AND"
	eval = Evaluate(qualificationFixture(), &clientconfig.Config{
		QualificationGroups: []clientconfig.QualificationGroup{group},
	})
	if !strings.Contains(eval.Summary, "NICHT") {
		t.Fatalf("failing summary must state the negative verdict: %q", eval.Summary)
	}
}
