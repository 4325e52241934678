// Package policy holds the named confidence anchors shared by the type
// resolver, the extractor prompts and the qualification evaluation. Keeping
// them in one place keeps prompt text and code-level checks from drifting
// apart.
package policy

const (
	// HeuristicAcceptThreshold is the minimum confidence at which a
	// heuristic classification is accepted without consulting the model.
	HeuristicAcceptThreshold = 0.9

	// ClassifierFallbackConfidence is assigned when classification fails
	// and an item falls back to free text.
	ClassifierFallbackConfidence = 0.5

	// EvidenceConfidenceFloor is the minimum confidence for an answer that
	// counts toward qualification fulfillment.
	EvidenceConfidenceFloor = 0.7

	// ImplicitAcceptanceFloor and ImplicitAcceptanceCeiling bound the
	// confidence band for answers derived from implicit acceptance, where
	// the agent states a condition and the candidate reacts positively
	// without repeating it.
	ImplicitAcceptanceFloor   = 0.80
	ImplicitAcceptanceCeiling = 0.90

	// MaxReactionGapTurns is the largest distance, in turns, between an
	// agent statement and the candidate reaction that may still count as
	// implicit acceptance.
	MaxReactionGapTurns = 3

	// MaxEvidenceSpanLen caps evidence spans; longer spans are truncated
	// at a word boundary when normalizing provider output.
	MaxEvidenceSpanLen = 100
)
