// Package shadowtype resolves the semantic type of every questionnaire item
// through a cascade of explicit tags, cached results, deterministic
// heuristics and a batched model classification fallback.
package shadowtype

import (
	"context"
	"encoding/json"
	"fmt"

	_ "embed"

	"go.uber.org/zap"

	"github.com/callpilot/protofill/internal/clientconfig"
	"github.com/callpilot/protofill/internal/inference"
	"github.com/callpilot/protofill/internal/policy"
	"github.com/callpilot/protofill/internal/protocol"
)

//go:embed classify_prompt.md
var classifyPrompt string

// Resolver assigns a ShadowType to every item of a protocol.
type Resolver struct {
	client     inference.Provider
	cache      Cache
	heuristics []heuristic
	logger     *zap.Logger
}

// NewResolver builds a resolver. A nil cache disables memoization.
func NewResolver(client inference.Provider, cache Cache, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		client:     client,
		cache:      cache,
		heuristics: defaultHeuristics(),
		logger:     logger,
	}
}

type queuedItem struct {
	item     protocol.Item
	pageName string
}

// InferTypes resolves every item. Explicit tags win outright, then the
// cache, then the heuristic chain; whatever remains is classified in one
// batched model call. No item is ever left without a type.
func (r *Resolver) InferTypes(ctx context.Context, p *protocol.Protocol, cfg *clientconfig.Config) (map[int]protocol.ShadowType, error) {
	types := make(map[int]protocol.ShadowType)
	var queued []queuedItem

	for _, page := range p.Pages {
		for _, item := range page.Items {
			if item.Type != "" {
				if explicit, err := protocol.ParsePromptType(item.Type); err == nil {
					types[item.ID] = protocol.ShadowType{
						ItemID:     item.ID,
						Inferred:   explicit,
						Confidence: 1.0,
						Reasoning:  fmt.Sprintf("Explicit type from protocol: %s", item.Type),
					}
					continue
				}
				r.logger.Warn("invalid explicit type tag, falling back to heuristics",
					zap.Int("item_id", item.ID),
					zap.String("type", item.Type),
				)
			}

			key := CacheKey(item.ID, item.Question)
			if r.cache != nil {
				if cached, ok := r.cache.Get(key); ok {
					types[item.ID] = cached
					continue
				}
			}

			if st := r.applyHeuristics(item, page.Name, cfg); st != nil && st.Confidence >= policy.HeuristicAcceptThreshold {
				types[item.ID] = *st
				if r.cache != nil {
					r.cache.Put(key, *st)
				}
				continue
			}

			queued = append(queued, queuedItem{item: item, pageName: page.Name})
		}
	}

	if len(queued) > 0 {
		for id, st := range r.classifyBatch(ctx, queued) {
			types[id] = st
			if r.cache != nil {
				r.cache.Put(CacheKey(id, questionByID(queued, id)), st)
			}
		}
	}

	return types, nil
}

func (r *Resolver) applyHeuristics(item protocol.Item, pageName string, cfg *clientconfig.Config) *protocol.ShadowType {
	for _, h := range r.heuristics {
		if st := h.match(item, pageName, cfg); st != nil {
			return st
		}
	}
	return nil
}

type classifyRequestItem struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
	PageName string `json:"page_name"`
}

type classifyResponse struct {
	Prompts []struct {
		PromptID   int     `json:"prompt_id"`
		Inferred   string  `json:"inferred_type"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	} `json:"prompts"`
}

// classifyBatch sends all queued items in one request. Items the model fails
// to classify fall back to free text at low confidence.
func (r *Resolver) classifyBatch(ctx context.Context, queued []queuedItem) map[int]protocol.ShadowType {
	results := make(map[int]protocol.ShadowType, len(queued))

	payload := make([]classifyRequestItem, 0, len(queued))
	for _, q := range queued {
		payload = append(payload, classifyRequestItem{
			ID:       q.item.ID,
			Question: q.item.Question,
			PageName: q.pageName,
		})
	}

	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return r.fallbackAll(queued, results, err)
	}

	user := fmt.Sprintf("Klassifiziere diese Prompts nach dem Schema der Examples:\n\n%s\n\nAntworte nur mit JSON im angegebenen Format.", body)

	raw, err := r.client.Complete(ctx, classifyPrompt, user)
	if err != nil {
		r.logger.Warn("batch classification failed", zap.Error(err))
		return r.fallbackAll(queued, results, err)
	}

	var resp classifyResponse
	if err := inference.DecodeObject(raw, &resp); err != nil {
		r.logger.Warn("batch classification returned malformed payload", zap.Error(err))
		return r.fallbackAll(queued, results, err)
	}

	for _, entry := range resp.Prompts {
		inferred, err := protocol.ParsePromptType(entry.Inferred)
		if err != nil {
			continue
		}
		confidence := entry.Confidence
		if confidence <= 0 {
			confidence = 0.8
		}
		results[entry.PromptID] = protocol.ShadowType{
			ItemID:     entry.PromptID,
			Inferred:   inferred,
			Confidence: confidence,
			Reasoning:  entry.Reasoning,
		}
	}

	// Anything the model skipped or mislabeled still gets a type.
	for _, q := range queued {
		if _, ok := results[q.item.ID]; !ok {
			results[q.item.ID] = fallbackType(q.item.ID, "missing from classification response")
		}
	}

	return results
}

func (r *Resolver) fallbackAll(queued []queuedItem, results map[int]protocol.ShadowType, cause error) map[int]protocol.ShadowType {
	for _, q := range queued {
		results[q.item.ID] = fallbackType(q.item.ID, cause.Error())
	}
	return results
}

func fallbackType(itemID int, cause string) protocol.ShadowType {
	return protocol.ShadowType{
		ItemID:     itemID,
		Inferred:   protocol.TypeText,
		Confidence: policy.ClassifierFallbackConfidence,
		Reasoning:  fmt.Sprintf("Fallback due to error: %s", cause),
	}
}

func questionByID(queued []queuedItem, id int) string {
	for _, q := range queued {
		if q.item.ID == id {
			return q.item.Question
		}
	}
	return ""
}
