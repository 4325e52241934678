// Package pipeline orchestrates one call from raw webhook payload to filled
// protocol, qualification verdict, and structured resume.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/callpilot/protofill/internal/clientconfig"
	"github.com/callpilot/protofill/internal/extract"
	"github.com/callpilot/protofill/internal/inference"
	"github.com/callpilot/protofill/internal/partner"
	"github.com/callpilot/protofill/internal/protocol"
	"github.com/callpilot/protofill/internal/qualify"
	"github.com/callpilot/protofill/internal/resume"
	"github.com/callpilot/protofill/internal/routing"
	"github.com/callpilot/protofill/internal/shadowtype"
	"github.com/callpilot/protofill/internal/transcript"
)

// QuestionnaireSource fetches protocol templates per campaign.
type QuestionnaireSource interface {
	GetQuestionnaire(campaignID string) (*protocol.Protocol, error)
}

// Options configure template and config lookup.
type Options struct {
	// ConfigDir holds per-template client config YAML files named
	// template_<id>.yaml. Missing configs are generated from the protocol
	// and written back here.
	ConfigDir string
	// FallbackProtocolPath is a local protocol template used when the
	// campaign carries no id or the questionnaire fetch fails.
	FallbackProtocolPath string
}

// Step records one pipeline stage for the processing report.
type Step struct {
	Name    string        `json:"name"`
	Items   int           `json:"items"`
	Elapsed time.Duration `json:"elapsed"`
}

// Stats summarizes what the pipeline produced.
type Stats struct {
	Timestamp        time.Time `json:"timestamp"`
	ExperiencesCount int       `json:"experiences_count"`
	EducationsCount  int       `json:"educations_count"`
	PagesCount       int       `json:"protocol_pages_count"`
	ItemsCount       int       `json:"protocol_prompts_count"`
	AnnotationsCount int       `json:"temporal_annotations_count"`
}

// Result is the complete outcome of processing one call.
type Result struct {
	ConversationID  string                    `json:"conversation_id"`
	CampaignID      string                    `json:"campaign_id"`
	ProtocolSource  string                    `json:"protocol_source"`
	Qualification   qualify.Evaluation        `json:"qualification"`
	RoutingWarnings []string                  `json:"routing_warnings,omitempty"`
	Applicant       resume.Applicant          `json:"applicant"`
	Resume          resume.Resume             `json:"resume"`
	Minimal         *protocol.MinimalProtocol `json:"protocol_minimal"`
	Filled          *protocol.FilledProtocol  `json:"-"`
	Metadata        *transcript.Metadata      `json:"metadata"`
	Temporal        *transcript.Context       `json:"temporal_context"`
	Stats           Stats                     `json:"processing"`
	Steps           []Step                    `json:"steps"`
}

// Delivery shapes the result for the partner API.
func (r *Result) Delivery() *partner.Delivery {
	return &partner.Delivery{
		CampaignID:      r.CampaignID,
		ConversationID:  r.ConversationID,
		Applicant:       r.Applicant,
		Resume:          r.Resume,
		Minimal:         r.Minimal,
		Metadata:        r.Metadata,
		Temporal:        r.Temporal,
		AnnotationCount: r.Stats.AnnotationsCount,
	}
}

// Processor wires the pipeline stages together.
type Processor struct {
	types     *shadowtype.Resolver
	extractor *extract.Extractor
	resumes   *resume.Builder
	routing   *routing.Resolver
	source    QuestionnaireSource
	logger    *zap.Logger
	opts      Options
}

// NewProcessor builds a processor around one inference provider. The
// questionnaire source may be nil, in which case only the local fallback
// template is used.
func NewProcessor(
	provider inference.Provider,
	cache shadowtype.Cache,
	source QuestionnaireSource,
	logger *zap.Logger,
	opts Options,
) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		types:     shadowtype.NewResolver(provider, cache, logger),
		extractor: extract.NewExtractor(provider, logger),
		resumes:   resume.NewBuilder(provider, logger),
		routing:   routing.NewResolver(logger),
		source:    source,
		logger:    logger,
		opts:      opts,
	}
}

// Process runs the full pipeline on a raw webhook body.
func (p *Processor) Process(ctx context.Context, body []byte) (*Result, error) {
	var steps []Step
	record := func(name string, items int, started time.Time) {
		elapsed := time.Since(started)
		steps = append(steps, Step{Name: name, Items: items, Elapsed: elapsed})
		p.logger.Debug("pipeline step finished",
			zap.String("step_name", name),
			zap.Int("items", items),
			zap.Duration("elapsed", elapsed),
		)
	}

	started := time.Now()
	turns, meta, err := transcript.Parse(body)
	if err != nil {
		return nil, err
	}
	record("parse_webhook", len(turns), started)

	p.logger.Info("processing call",
		zap.String("conversation_id", meta.ConversationID),
		zap.String("campaign_id", meta.CampaignID),
	)

	started = time.Now()
	enricher := transcript.NewEnricher(meta.StartTimeUnixSecs)
	turns = enricher.Enrich(turns)
	temporal := enricher.ExtractContext(turns)
	annotations := countAnnotations(turns)
	record("temporal_enrichment", annotations, started)

	started = time.Now()
	proto, source, err := p.loadProtocol(meta.CampaignID)
	if err != nil {
		return nil, err
	}
	proto.CampaignID = meta.CampaignID
	record("load_protocol", len(proto.Items()), started)

	started = time.Now()
	cfg, err := p.loadConfig(proto)
	if err != nil {
		return nil, err
	}
	record("load_config", len(cfg.QualificationGroups), started)

	started = time.Now()
	types, err := p.types.InferTypes(ctx, proto, cfg)
	if err != nil {
		return nil, fmt.Errorf("infer shadow types: %w", err)
	}
	record("infer_types", len(types), started)

	grounding := buildGrounding(cfg, proto, &temporal, meta)

	started = time.Now()
	answers, err := p.extractor.Extract(ctx, turns, types, grounding, proto.Items())
	if err != nil {
		return nil, fmt.Errorf("extract answers: %w", err)
	}
	record("extract_answers", len(answers), started)

	filled := protocol.ProjectAnswers(proto, types, answers)
	filled.ConversationID = meta.ConversationID

	started = time.Now()
	applicantResume := p.resumes.Build(ctx, turns, meta, &temporal)
	record("build_resume", len(applicantResume.Resume.Experiences), started)

	started = time.Now()
	p.routing.ApplyDefaults(filled, cfg)
	routingWarnings := p.routing.ApplyRules(filled, cfg)
	record("apply_routing", len(cfg.RoutingRules), started)
	for _, warning := range routingWarnings {
		p.logger.Warn("routing rule skipped", zap.String("warning", warning))
	}

	started = time.Now()
	evaluation := qualify.Evaluate(filled, cfg)
	record("evaluate_qualification", evaluation.TotalCount, started)

	applicantResume.Resume.Summary = evaluation.Summary
	applicantResume.Resume.Qualified = evaluation.IsQualified

	result := &Result{
		ConversationID:  meta.ConversationID,
		CampaignID:      meta.CampaignID,
		ProtocolSource:  source,
		Qualification:   evaluation,
		RoutingWarnings: routingWarnings,
		Applicant:       applicantResume.Applicant,
		Resume:          applicantResume.Resume,
		Minimal:         filled.Minimal(),
		Filled:          filled,
		Metadata:        meta,
		Temporal:        &temporal,
		Steps:           steps,
		Stats: Stats{
			Timestamp:        time.Now().UTC(),
			ExperiencesCount: len(applicantResume.Resume.Experiences),
			EducationsCount:  len(applicantResume.Resume.Educations),
			PagesCount:       len(filled.Pages),
			ItemsCount:       len(filled.Items()),
			AnnotationsCount: annotations,
		},
	}

	p.logger.Info("call processed",
		zap.String("conversation_id", meta.ConversationID),
		zap.Bool("is_qualified", evaluation.IsQualified),
		zap.String("evaluation_method", string(evaluation.Method)),
	)

	return result, nil
}

// loadProtocol prefers the campaign questionnaire and falls back to the
// local template.
func (p *Processor) loadProtocol(campaignID string) (*protocol.Protocol, string, error) {
	if campaignID != "" && p.source != nil {
		proto, err := p.source.GetQuestionnaire(campaignID)
		if err == nil {
			return proto, fmt.Sprintf("api_campaign_%s", campaignID), nil
		}
		p.logger.Warn("questionnaire fetch failed, falling back to local template",
			zap.String("campaign_id", campaignID),
			zap.Error(err),
		)
	}

	if p.opts.FallbackProtocolPath == "" {
		return nil, "", fmt.Errorf("no questionnaire for campaign %q and no fallback template configured", campaignID)
	}

	raw, err := os.ReadFile(p.opts.FallbackProtocolPath)
	if err != nil {
		return nil, "", fmt.Errorf("read fallback template: %w", err)
	}
	var proto protocol.Protocol
	if err := json.Unmarshal(raw, &proto); err != nil {
		return nil, "", fmt.Errorf("decode fallback template: %w", err)
	}
	return &proto, fmt.Sprintf("local_template_%d", proto.ID), nil
}

// loadConfig reads the template's client config or generates one from the
// protocol when none exists yet.
func (p *Processor) loadConfig(proto *protocol.Protocol) (*clientconfig.Config, error) {
	path := filepath.Join(p.opts.ConfigDir, fmt.Sprintf("template_%d.yaml", proto.ID))

	if _, err := os.Stat(path); err == nil {
		cfg, err := clientconfig.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load client config: %w", err)
		}
		return cfg, nil
	}

	cfg := clientconfig.Generate(proto)
	if p.opts.ConfigDir != "" {
		if err := clientconfig.WriteYAML(cfg, proto.Name, path); err != nil {
			p.logger.Warn("could not persist generated config", zap.String("path", path), zap.Error(err))
		} else {
			p.logger.Info("generated client config", zap.String("path", path))
		}
	}
	return cfg, nil
}

func buildGrounding(
	cfg *clientconfig.Config,
	proto *protocol.Protocol,
	temporal *transcript.Context,
	meta *transcript.Metadata,
) map[string]any {
	grounding := map[string]any{}
	for k, v := range cfg.Grounding {
		grounding[k] = v
	}
	for k, v := range clientconfig.ExtractGrounding(proto) {
		// Explicit config wins over facts scraped from question texts.
		if _, ok := grounding[k]; !ok {
			grounding[k] = v
		}
	}
	grounding["temporal_context"] = temporal
	if meta != nil {
		grounding["campaign_role_title"] = meta.CampaignRoleTitle
		grounding["campaign_location"] = meta.CampaignLocation
		grounding["company_name"] = meta.CompanyName
	}
	return grounding
}

func countAnnotations(turns []transcript.Turn) int {
	n := 0
	for _, turn := range turns {
		if turn.Original != "" && turn.Text != turn.Original {
			n++
		}
	}
	return n
}
