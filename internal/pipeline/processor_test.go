package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/callpilot/protofill/internal/protocol"
	"github.com/callpilot/protofill/internal/shadowtype"
)

// routingProvider answers classification, extraction, and resume requests
// based on the prompt shape, the way a real provider would be called three
// times per pipeline run.
type routingProvider struct {
	extractResponse string
	resumeResponse  string
	err             error
	calls           []string
}

func (s *routingProvider) Name() string  { return "stub" }
func (s *routingProvider) Model() string { return "stub-model" }

func (s *routingProvider) Complete(_ context.Context, _, user string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	switch {
	case strings.Contains(user, "ZU FÜLLENDE PROMPTS"):
		s.calls = append(s.calls, "extract")
		return s.extractResponse, nil
	case strings.Contains(user, "Lebenslaufdaten"):
		s.calls = append(s.calls, "resume")
		return s.resumeResponse, nil
	default:
		s.calls = append(s.calls, "classify")
		return `{"prompts": []}`, nil
	}
}

type stubSource struct {
	proto *protocol.Protocol
	err   error
	calls int
}

func (s *stubSource) GetQuestionnaire(string) (*protocol.Protocol, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.proto, nil
}

const webhookTemplate = `{
  "type": "post_call_transcription",
  "data": {
    "conversation_id": "conv_test_1",
    "agent_id": "agent_1",
    "status": "done",
    "transcript": [
      {"role": "agent", "message": "Haben Sie einen Führerschein Klasse B?"},
      {"role": "user", "message": "Ja, habe ich. Ich arbeite seit 3 Jahren in der Pflege."}
    ],
    "metadata": {
      "call_duration_secs": 245,
      "start_time_unix_secs": 1767182400,
      "cost": 12,
      "termination_reason": "end_call"
    },
    "analysis": {"call_successful": "success", "transcript_summary": "Kurzes Gespräch."},
    "conversation_initiation_client_data": {
      "dynamic_variables": {
        "candidatefirst_name": "Max",
        "candidatelast_name": "Muster",
        "campaignid": "%s"
      }
    }
  }
}`

const extractResponse = `{
  "prompts": [
    {"prompt_id": 101, "checked": true, "confidence": 0.95,
     "evidence": [{"span": "Ja, habe ich", "turn_index": 1, "speaker": "A"}]},
    {"prompt_id": 102, "checked": true, "confidence": 0.9,
     "evidence": [{"span": "seit 3 Jahren in der Pflege", "turn_index": 1, "speaker": "A"}]}
  ]
}`

const resumeResponse = `{
  "postal_code": "90402",
  "experiences": [
    {"position": "Pflegefachkraft", "employment_type": "Hauptjob",
     "company": "Klinikum Test", "tasks": "Patientenversorgung; Dokumentation"}
  ],
  "educations": []
}`

func testProtocol() *protocol.Protocol {
	return &protocol.Protocol{
		ID:   63,
		Name: "Pflege Protokoll",
		Pages: []protocol.Page{
			{ID: 1, Name: "Kriterien", Items: []protocol.Item{
				{ID: 101, Question: "Zwingend: Führerschein Klasse B"},
				{ID: 102, Question: "Wünschenswert: Mehrjährige Berufserfahrung in der Pflege"},
			}},
		},
	}
}

func writeFallbackTemplate(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "template.json")
	data := `{
	  "id": 63,
	  "name": "Pflege Protokoll",
	  "pages": [
	    {"id": 1, "name": "Kriterien", "prompts": [
	      {"id": 101, "question": "Zwingend: Führerschein Klasse B"},
	      {"id": 102, "question": "Wünschenswert: Mehrjährige Berufserfahrung in der Pflege"}
	    ]}
	  ]
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	return path
}

func newTestProcessor(t *testing.T, provider *routingProvider, source QuestionnaireSource) *Processor {
	t.Helper()
	dir := t.TempDir()
	cache, err := shadowtype.NewLRUCache(shadowtype.DefaultCacheConfig())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	return NewProcessor(provider, cache, source, zap.NewNop(), Options{
		ConfigDir:            filepath.Join(dir, "configs"),
		FallbackProtocolPath: writeFallbackTemplate(t, dir),
	})
}

func TestProcessEndToEndWithLocalTemplate(t *testing.T) {
	provider := &routingProvider{extractResponse: extractResponse, resumeResponse: resumeResponse}
	p := newTestProcessor(t, provider, nil)

	body := []byte(fmt.Sprintf(webhookTemplate, ""))
	result, err := p.Process(context.Background(), body)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if result.ConversationID != "conv_test_1" {
		t.Fatalf("conversation id: %q", result.ConversationID)
	}
	if result.ProtocolSource != "local_template_63" {
		t.Fatalf("protocol source: %q", result.ProtocolSource)
	}
	if !result.Qualification.IsQualified {
		t.Fatalf("expected qualified result: %+v", result.Qualification)
	}
	if result.Resume.Summary != result.Qualification.Summary {
		t.Fatalf("resume summary must carry the verdict")
	}
	if !result.Resume.Qualified {
		t.Fatalf("resume qualified flag not set")
	}

	item := result.Filled.ItemByID(101)
	if item == nil || item.Answer.Checked == nil || !*item.Answer.Checked {
		t.Fatalf("extracted answer missing: %+v", item)
	}
	if result.Minimal == nil || len(result.Minimal.Pages) != 1 {
		t.Fatalf("minimal protocol missing: %+v", result.Minimal)
	}
	if result.Stats.ItemsCount != 2 || result.Stats.ExperiencesCount != 1 {
		t.Fatalf("stats wrong: %+v", result.Stats)
	}
	// "seit 3 Jahren" gets a temporal annotation.
	if result.Stats.AnnotationsCount != 1 {
		t.Fatalf("annotations count = %d, want 1", result.Stats.AnnotationsCount)
	}
	if len(result.Steps) == 0 {
		t.Fatalf("step report missing")
	}

	// Both prompts resolve via heuristics, so the provider only sees the
	// extraction and resume requests.
	for _, call := range provider.calls {
		if call == "classify" {
			t.Fatalf("classifier must not be called for heuristic-typed items: %v", provider.calls)
		}
	}
}

func TestProcessPrefersCampaignQuestionnaire(t *testing.T) {
	provider := &routingProvider{extractResponse: extractResponse, resumeResponse: resumeResponse}
	source := &stubSource{proto: testProtocol()}
	p := newTestProcessor(t, provider, source)

	body := []byte(fmt.Sprintf(webhookTemplate, "639"))
	result, err := p.Process(context.Background(), body)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if source.calls != 1 {
		t.Fatalf("questionnaire source not used")
	}
	if result.ProtocolSource != "api_campaign_639" {
		t.Fatalf("protocol source: %q", result.ProtocolSource)
	}
	if result.CampaignID != "639" {
		t.Fatalf("campaign id: %q", result.CampaignID)
	}
	if result.Minimal.CampaignID != "639" {
		t.Fatalf("campaign id must flow into the minimal protocol")
	}
}

func TestProcessFallsBackWhenQuestionnaireFails(t *testing.T) {
	provider := &routingProvider{extractResponse: extractResponse, resumeResponse: resumeResponse}
	source := &stubSource{err: errors.New("upstream down")}
	p := newTestProcessor(t, provider, source)

	body := []byte(fmt.Sprintf(webhookTemplate, "639"))
	result, err := p.Process(context.Background(), body)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.ProtocolSource != "local_template_63" {
		t.Fatalf("expected local fallback, got %q", result.ProtocolSource)
	}
}

func TestProcessPersistsGeneratedConfig(t *testing.T) {
	provider := &routingProvider{extractResponse: extractResponse, resumeResponse: resumeResponse}
	dir := t.TempDir()
	cache, err := shadowtype.NewLRUCache(shadowtype.DefaultCacheConfig())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	configDir := filepath.Join(dir, "configs")
	p := NewProcessor(provider, cache, nil, zap.NewNop(), Options{
		ConfigDir:            configDir,
		FallbackProtocolPath: writeFallbackTemplate(t, dir),
	})

	body := []byte(fmt.Sprintf(webhookTemplate, ""))
	if _, err := p.Process(context.Background(), body); err != nil {
		t.Fatalf("first run: %v", err)
	}

	configPath := filepath.Join(configDir, "template_63.yaml")
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("generated config not persisted: %v", err)
	}

	// The second run loads the persisted config instead of regenerating.
	if _, err := p.Process(context.Background(), body); err != nil {
		t.Fatalf("second run with persisted config: %v", err)
	}
}

func TestProcessSurfacesRoutingWarnings(t *testing.T) {
	provider := &routingProvider{extractResponse: extractResponse, resumeResponse: resumeResponse}
	dir := t.TempDir()
	cache, err := shadowtype.NewLRUCache(shadowtype.DefaultCacheConfig())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}

	// A hand-edited config whose rule targets a prompt the template lacks.
	configDir := filepath.Join(dir, "configs")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	config := `protokoll_template_id: 63
routing_rules:
  - rule_id: route_bad_target
    target_prompt: 999
    conditions:
      - prompt: 101
        field: checked
        operator: "=="
        value: true
    action:
      checked: true
`
	if err := os.WriteFile(filepath.Join(configDir, "template_63.yaml"), []byte(config), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	p := NewProcessor(provider, cache, nil, zap.NewNop(), Options{
		ConfigDir:            configDir,
		FallbackProtocolPath: writeFallbackTemplate(t, dir),
	})

	body := []byte(fmt.Sprintf(webhookTemplate, ""))
	result, err := p.Process(context.Background(), body)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if len(result.RoutingWarnings) != 1 || !strings.Contains(result.RoutingWarnings[0], "999") {
		t.Fatalf("routing warning not surfaced: %v", result.RoutingWarnings)
	}
}

func TestProcessRejectsMalformedWebhook(t *testing.T) {
	provider := &routingProvider{}
	p := newTestProcessor(t, provider, nil)

	if _, err := p.Process(context.Background(), []byte(`{"type": "other"}`)); err == nil {
		t.Fatalf("expected error for wrong webhook type")
	}
}

func TestDeliveryProjection(t *testing.T) {
	provider := &routingProvider{extractResponse: extractResponse, resumeResponse: resumeResponse}
	p := newTestProcessor(t, provider, nil)

	body := []byte(fmt.Sprintf(webhookTemplate, ""))
	result, err := p.Process(context.Background(), body)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	d := result.Delivery()
	if d.ConversationID != result.ConversationID || d.Minimal != result.Minimal {
		t.Fatalf("delivery projection wrong: %+v", d)
	}
	if d.AnnotationCount != result.Stats.AnnotationsCount {
		t.Fatalf("annotation count not propagated")
	}
}
