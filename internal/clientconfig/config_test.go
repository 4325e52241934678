package clientconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/callpilot/protofill/internal/protocol"
)

const sampleYAML = `mandant_id: klinik_nord
protokoll_template_id: 17
heuristic_rules:
  - pattern: "nachweis.*(fortbildungen|qualifizierungen)"
    type: text_list
    confidence: 0.9
info_page_names:
  - Informationen zur Stelle
grounding:
  vollzeit_stunden: 38
  urlaub_tage: 30
must_criteria:
  - prompt_id: 101
    expected: true
    error_msg: Führerschein fehlt
qualification_groups:
  - group_id: qual_group_1
    group_name: "Qualifikation: Ausbildung"
    logic: OR
    min_required: 1
    is_mandatory: true
    error_msg: Keine Ausbildung
    options:
      - prompt_id: 102
        description: Pflegefachkraft
        weight: 1.0
routing_rules:
  - rule_id: route_1
    target_prompt: 301
    conditions:
      - prompt: 101
        field: checked
        operator: "=="
        value: false
    action:
      checked: true
      notes: Weiterleitung an Alternative
implicit_defaults:
  - prompt_id: 105
    reasoning: Gespräch wurde auf Deutsch geführt
    default_answer:
      checked: true
      value: ja
      confidence: 0.8
      notes: Implizit angenommen
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ClientID != "klinik_nord" || cfg.TemplateID != 17 {
		t.Fatalf("identity fields wrong: %+v", cfg)
	}
	if len(cfg.HeuristicRules) != 1 || cfg.HeuristicRules[0].Type != protocol.TypeTextList {
		t.Fatalf("heuristic rules not decoded: %+v", cfg.HeuristicRules)
	}
	if !cfg.IsInfoPage("Informationen zur Stelle") || cfg.IsInfoPage("Qualifikation") {
		t.Fatalf("info page lookup wrong")
	}
	if got := cfg.Grounding["vollzeit_stunden"]; got != 38 {
		t.Fatalf("grounding not decoded: %v", got)
	}
	rule := cfg.RoutingRules[0]
	if rule.TargetItem != 301 || rule.Conditions[0].Value != false {
		t.Fatalf("routing rule not decoded: %+v", rule)
	}
	if rule.Action.Checked == nil || !*rule.Action.Checked {
		t.Fatalf("routing action not decoded: %+v", rule.Action)
	}
	def := cfg.ImplicitDefaults[0]
	if def.Answer.Checked == nil || !*def.Answer.Checked || def.Answer.Confidence != 0.8 {
		t.Fatalf("implicit default not decoded: %+v", def)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{
			name: "bad type",
			cfg:  Config{HeuristicRules: []HeuristicRule{{Pattern: "x", Type: "checkbox"}}},
		},
		{
			name: "bad logic",
			cfg: Config{QualificationGroups: []QualificationGroup{
				{GroupID: "g1", Logic: "XOR", Options: []QualificationOption{{ItemID: 1}}},
			}},
		},
		{
			name: "empty group",
			cfg: Config{QualificationGroups: []QualificationGroup{
				{GroupID: "g1", Logic: "OR"},
			}},
		},
		{
			name: "bad operator",
			cfg: Config{RoutingRules: []RoutingRule{
				{RuleID: "r1", Conditions: []RoutingCondition{{Field: "checked", Operator: ">="}}},
			}},
		},
		{
			name: "bad field",
			cfg: Config{RoutingRules: []RoutingRule{
				{RuleID: "r1", Conditions: []RoutingCondition{{Field: "notes", Operator: "=="}}},
			}},
		},
	}
	for _, tc := range cases {
		if err := tc.cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func generatorProtocol() *protocol.Protocol {
	return &protocol.Protocol{
		ID:   42,
		Name: "Pflege Vorlage",
		Pages: []protocol.Page{
			{ID: 1, Name: "Kriterien", Items: []protocol.Item{
				{ID: 1, Question: "Zwingend: Führerschein Klasse B vorhanden?", Type: "yes_no"},
				{ID: 2, Question: "Ausbildung als Pflegefachkraft oder Altenpfleger vorhanden?", Type: "yes_no"},
				{ID: 3, Question: "Deutschkenntnisse B2 vorhanden?", Type: "yes_no"},
			}},
			{ID: 2, Name: "Rahmenbedingungen", Items: []protocol.Item{
				{ID: 4, Question: "Akzeptiert Vollzeit mit 38 Wochenstunden?", Type: "yes_no"},
				{ID: 5, Question: "Jahresurlaub 30 Tage akzeptiert?", Type: "yes_no"},
			}},
			{ID: 3, Name: "Informationen", Items: []protocol.Item{
				{ID: 6, Question: "Die Stelle ist unbefristet.", Type: "info"},
			}},
		},
	}
}

func TestGenerate(t *testing.T) {
	cfg := Generate(generatorProtocol())

	if cfg.ClientID != "template_42" || cfg.TemplateID != 42 {
		t.Fatalf("identity wrong: %+v", cfg)
	}
	if len(cfg.InfoPageNames) != 1 || cfg.InfoPageNames[0] != "Informationen" {
		t.Fatalf("info pages wrong: %v", cfg.InfoPageNames)
	}
	if len(cfg.MustCriteria) != 1 || cfg.MustCriteria[0].ItemID != 1 {
		t.Fatalf("must criteria wrong: %+v", cfg.MustCriteria)
	}
	if len(cfg.ImplicitDefaults) != 1 || cfg.ImplicitDefaults[0].ItemID != 3 {
		t.Fatalf("implicit defaults wrong: %+v", cfg.ImplicitDefaults)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("generated config must validate: %v", err)
	}

	// The single "oder" question becomes one OR group with split options.
	var ausbildung *QualificationGroup
	for i := range cfg.QualificationGroups {
		if cfg.QualificationGroups[i].Name == "Qualifikation: Ausbildung" {
			ausbildung = &cfg.QualificationGroups[i]
		}
	}
	if ausbildung == nil {
		t.Fatalf("expected ausbildung group, got %+v", cfg.QualificationGroups)
	}
	if ausbildung.Logic != "OR" || !ausbildung.IsMandatory || ausbildung.MinRequired != 1 {
		t.Fatalf("group shape wrong: %+v", ausbildung)
	}
	if len(ausbildung.Options) < 2 {
		t.Fatalf("expected split alternatives, got %+v", ausbildung.Options)
	}
	for _, opt := range ausbildung.Options {
		if opt.ItemID != 2 {
			t.Fatalf("all alternatives must bind the same item: %+v", opt)
		}
	}
}

func TestGenerateTruncatesMustCriterionOnRuneBoundary(t *testing.T) {
	// 11 bytes of prefix put byte offset 60 in the middle of an umlaut.
	question := "Zwingend: Q" + strings.Repeat("ü", 55)
	proto := &protocol.Protocol{
		ID:   7,
		Name: "Umlaut Vorlage",
		Pages: []protocol.Page{
			{ID: 1, Name: "Kriterien", Items: []protocol.Item{
				{ID: 1, Question: question, Type: "yes_no"},
			}},
		},
	}

	cfg := Generate(proto)
	if len(cfg.MustCriteria) != 1 {
		t.Fatalf("must criteria wrong: %+v", cfg.MustCriteria)
	}

	msg := cfg.MustCriteria[0].ErrorMsg
	if !utf8.ValidString(msg) {
		t.Fatalf("error message is not valid UTF-8: %q", msg)
	}
	if want := string([]rune(question)[:60]); !strings.Contains(msg, want) {
		t.Fatalf("error message must carry the first 60 runes: %q", msg)
	}
}

func TestExtractGrounding(t *testing.T) {
	grounding := ExtractGrounding(generatorProtocol())
	if grounding["vollzeit_stunden"] != 38 {
		t.Fatalf("hours not extracted: %v", grounding)
	}
	if grounding["urlaub_tage"] != 30 {
		t.Fatalf("holidays not extracted: %v", grounding)
	}
}

func TestWriteYAMLRoundtrip(t *testing.T) {
	cfg := Generate(generatorProtocol())
	path := filepath.Join(t.TempDir(), "generated.yaml")

	if err := WriteYAML(cfg, "Pflege Vorlage", path); err != nil {
		t.Fatalf("write: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.TemplateID != cfg.TemplateID || len(loaded.QualificationGroups) != len(cfg.QualificationGroups) {
		t.Fatalf("roundtrip lost data: %+v vs %+v", loaded, cfg)
	}
}
