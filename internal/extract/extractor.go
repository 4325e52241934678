// Package extract turns the dialogue into typed answers with evidence and
// confidence, using one batched model request per call.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	_ "embed"

	"go.uber.org/zap"

	"github.com/callpilot/protofill/internal/inference"
	"github.com/callpilot/protofill/internal/policy"
	"github.com/callpilot/protofill/internal/protocol"
	"github.com/callpilot/protofill/internal/transcript"
)

//go:embed system_prompt.md
var systemPrompt string

// Extractor fills questionnaire items from the dialogue.
type Extractor struct {
	client inference.Provider
	logger *zap.Logger
}

// NewExtractor builds an extractor over the given provider.
func NewExtractor(client inference.Provider, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{client: client, logger: logger}
}

// Extract resolves answers for all fillable items. Informational items and
// recruiter instructions are excluded up front; when nothing remains the
// provider is never called. On transport or parse failure every requested
// item still receives an unset answer with the failure recorded in notes.
func (e *Extractor) Extract(
	ctx context.Context,
	turns []transcript.Turn,
	shadowTypes map[int]protocol.ShadowType,
	grounding map[string]any,
	items []protocol.Item,
) (map[int]protocol.Answer, error) {
	fillable := make([]protocol.Item, 0, len(items))
	for _, item := range items {
		if shadowTypes[item.ID].Inferred.NeedsAnswer() {
			fillable = append(fillable, item)
		}
	}
	if len(fillable) == 0 {
		return map[int]protocol.Answer{}, nil
	}

	user, err := buildUserPrompt(turns, shadowTypes, grounding, fillable)
	if err != nil {
		return fallbackAnswers(fillable, err), nil
	}

	e.logger.Debug("answer extraction request",
		zap.Int("fillable_items", len(fillable)),
		zap.Int("turns", len(turns)),
	)

	raw, err := e.client.Complete(ctx, systemPrompt, user)
	if err != nil {
		e.logger.Warn("answer extraction failed, using fallback answers", zap.Error(err))
		return fallbackAnswers(fillable, err), nil
	}

	answers, err := parseAnswers(raw, fillable)
	if err != nil {
		e.logger.Warn("answer extraction returned malformed payload, using fallback answers", zap.Error(err))
		return fallbackAnswers(fillable, err), nil
	}

	e.logger.Debug("answer extraction response", zap.Int("answers", len(answers)))
	return answers, nil
}

type requestItem struct {
	PromptID int    `json:"prompt_id"`
	Question string `json:"question"`
	Inferred string `json:"inferred_type"`
}

func buildUserPrompt(
	turns []transcript.Turn,
	shadowTypes map[int]protocol.ShadowType,
	grounding map[string]any,
	fillable []protocol.Item,
) (string, error) {
	groundingJSON, err := json.MarshalIndent(grounding, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal grounding: %w", err)
	}

	withTypes := make([]requestItem, 0, len(fillable))
	for _, item := range fillable {
		withTypes = append(withTypes, requestItem{
			PromptID: item.ID,
			Question: item.Question,
			Inferred: string(shadowTypes[item.ID].Inferred),
		})
	}
	itemsJSON, err := json.MarshalIndent(withTypes, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal items: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MANDANTEN-GROUNDING:\n%s\n", groundingJSON)
	fmt.Fprintf(&b, "\nTRANSKRIPT (%d Turns):\n", len(turns))
	for i, turn := range turns {
		fmt.Fprintf(&b, "\n[Turn %d] %s: %s", i, turn.Speaker.Letter(), turn.Text)
	}
	fmt.Fprintf(&b, "\n\nZU FÜLLENDE PROMPTS:\n%s\n", itemsJSON)
	b.WriteString("\nAntworte nur mit JSON im angegebenen Format.")

	return b.String(), nil
}

type responseEvidence struct {
	Span      string `json:"span"`
	TurnIndex int    `json:"turn_index"`
	Speaker   string `json:"speaker"`
}

type responseAnswer struct {
	PromptID   int                `json:"prompt_id"`
	Checked    any                `json:"checked"`
	Value      protocol.Value     `json:"value"`
	Confidence any                `json:"confidence"`
	Evidence   []responseEvidence `json:"evidence"`
	Notes      string             `json:"notes"`
}

type extractionResponse struct {
	Prompts []responseAnswer `json:"prompts"`
}

func parseAnswers(raw string, fillable []protocol.Item) (map[int]protocol.Answer, error) {
	var resp extractionResponse
	if err := inference.DecodeObject(raw, &resp); err != nil {
		return nil, err
	}

	answers := make(map[int]protocol.Answer, len(resp.Prompts))
	requested := make(map[int]bool, len(fillable))
	for _, item := range fillable {
		requested[item.ID] = true
	}

	for _, entry := range resp.Prompts {
		// Drop entries for items we never asked about.
		if !requested[entry.PromptID] {
			continue
		}

		evidence := make([]protocol.Evidence, 0, len(entry.Evidence))
		for _, ev := range entry.Evidence {
			span := ev.Span
			if len([]rune(span)) > policy.MaxEvidenceSpanLen {
				span = truncateAtWord(span, policy.MaxEvidenceSpanLen)
			}
			speaker := protocol.SpeakerFromLetter(ev.Speaker)
			if ev.TurnIndex == protocol.TurnResume {
				speaker = protocol.SpeakerUnknown
			}
			evidence = append(evidence, protocol.Evidence{
				Span:      span,
				TurnIndex: ev.TurnIndex,
				Speaker:   speaker,
			})
		}

		confidence := inference.CoerceFloat(entry.Confidence)
		if math.IsNaN(confidence) {
			confidence = 0.8
		}

		answer := protocol.Answer{
			Checked:    inference.CoerceBool(entry.Checked),
			Value:      entry.Value,
			Confidence: confidence,
			Evidence:   evidence,
			Notes:      entry.Notes,
		}
		answer.Normalize()
		answers[entry.PromptID] = answer
	}

	return answers, nil
}

func fallbackAnswers(fillable []protocol.Item, cause error) map[int]protocol.Answer {
	answers := make(map[int]protocol.Answer, len(fillable))
	for _, item := range fillable {
		answers[item.ID] = protocol.Answer{
			Confidence: 0,
			Evidence:   []protocol.Evidence{},
			Notes:      fmt.Sprintf("Extraction error: %v", cause),
		}
	}
	return answers
}

func truncateAtWord(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	cut := string(runes[:limit])
	if idx := strings.LastIndexByte(cut, ' '); idx > limit/2 {
		cut = cut[:idx]
	}
	return cut
}
