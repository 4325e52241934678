package protocol

import (
	"fmt"
	"strings"
)

// PromptType is the semantic type of a questionnaire item. It is either
// declared explicitly on the template or inferred by the shadow-type
// resolver.
type PromptType string

const (
	TypeYesNo                PromptType = "yes_no"
	TypeYesNoWithDetails     PromptType = "yes_no_with_details"
	TypeText                 PromptType = "text"
	TypeTextList             PromptType = "text_list"
	TypeNumber               PromptType = "number"
	TypeDate                 PromptType = "date"
	TypeRoutingRule          PromptType = "routing_rule"
	TypeInfo                 PromptType = "info"
	TypeRecruiterInstruction PromptType = "recruiter_instruction"
)

// ParsePromptType validates a raw type tag from a template or config.
func ParsePromptType(raw string) (PromptType, error) {
	t := PromptType(strings.ToLower(strings.TrimSpace(raw)))
	switch t {
	case TypeYesNo, TypeYesNoWithDetails, TypeText, TypeTextList,
		TypeNumber, TypeDate, TypeRoutingRule, TypeInfo, TypeRecruiterInstruction:
		return t, nil
	}
	return "", fmt.Errorf("unknown prompt type: %q", raw)
}

// NeedsAnswer reports whether items of this type are fillable. Informational
// items and recruiter instructions never receive an answer.
func (t PromptType) NeedsAnswer() bool {
	return t != TypeInfo && t != TypeRecruiterInstruction
}

// Speaker identifies who produced a dialogue turn. The wire format used in
// prompts keeps the single-letter convention of the transcription provider:
// "A" for the candidate, "B" for the agent.
type Speaker string

const (
	SpeakerCandidate Speaker = "candidate"
	SpeakerAgent     Speaker = "agent"
	SpeakerUnknown   Speaker = "unknown"
)

// Letter returns the single-letter wire tag for the speaker.
func (s Speaker) Letter() string {
	switch s {
	case SpeakerCandidate:
		return "A"
	case SpeakerAgent:
		return "B"
	}
	return "?"
}

// SpeakerFromLetter maps a wire tag back to a speaker.
func SpeakerFromLetter(letter string) Speaker {
	switch strings.ToUpper(strings.TrimSpace(letter)) {
	case "A":
		return SpeakerCandidate
	case "B":
		return SpeakerAgent
	}
	return SpeakerUnknown
}

// Item is a single questionnaire item from the protocol template. Items are
// loaded once per protocol and never mutated.
type Item struct {
	ID       int    `json:"id"`
	Question string `json:"question"`
	// Type is the optional explicit type tag from the template. Empty when
	// the template leaves classification to the resolver.
	Type string `json:"type,omitempty"`
}

// Page groups items the way the template presents them.
type Page struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Items []Item `json:"prompts"`
}

// Protocol is a questionnaire template.
type Protocol struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	CampaignID string `json:"campaign_id,omitempty"`
	Pages      []Page `json:"pages"`
}

// Items returns all items across pages in template order.
func (p *Protocol) Items() []Item {
	var items []Item
	for _, page := range p.Pages {
		items = append(items, page.Items...)
	}
	return items
}

// ShadowType is the resolved semantic type of one item.
type ShadowType struct {
	ItemID     int        `json:"prompt_id"`
	Inferred   PromptType `json:"inferred_type"`
	Confidence float64    `json:"confidence"`
	Reasoning  string     `json:"reasoning,omitempty"`
}

// TurnResume is the reserved turn index for evidence derived from the
// structured resume instead of the dialogue.
const TurnResume = -1

// Evidence is a transcript snippet supporting an answer. The span must fully
// contain the referenced claim.
type Evidence struct {
	Span      string  `json:"span"`
	TurnIndex int     `json:"turn_index"`
	Speaker   Speaker `json:"speaker,omitempty"`
}

// Answer is the extracted answer for a single item.
type Answer struct {
	// Checked carries the tri-state yes/no resolution; nil means unset.
	Checked    *bool      `json:"checked"`
	Value      Value      `json:"value"`
	Confidence float64    `json:"confidence"`
	Evidence   []Evidence `json:"evidence"`
	Notes      string     `json:"notes,omitempty"`
}

// IsUnset reports whether the answer is wholly unset: no checked state and
// no supporting evidence. Implicit defaults apply only to such answers.
func (a *Answer) IsUnset() bool {
	return a.Checked == nil && len(a.Evidence) == 0
}

// Normalize clamps the confidence into [0,1] and enforces the invariant
// that confidence 0 implies an unset answer.
func (a *Answer) Normalize() {
	if a.Confidence < 0 {
		a.Confidence = 0
	}
	if a.Confidence > 1 {
		a.Confidence = 1
	}
	if a.Confidence == 0 && len(a.Evidence) == 0 {
		a.Checked = nil
		a.Value = Value{}
	}
}

// Bool is a convenience for building tri-state checked values.
func Bool(v bool) *bool { return &v }
