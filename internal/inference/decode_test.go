package inference

import (
	"math"
	"testing"
)

type decoded struct {
	Prompts []struct {
		PromptID int     `json:"prompt_id"`
		Checked  *bool   `json:"checked"`
		Conf     float64 `json:"confidence"`
	} `json:"prompts"`
}

func TestDecodeObjectPlain(t *testing.T) {
	var d decoded
	raw := `{"prompts":[{"prompt_id":101,"checked":true,"confidence":0.95}]}`
	if err := DecodeObject(raw, &d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Prompts) != 1 || d.Prompts[0].PromptID != 101 {
		t.Fatalf("unexpected decode result: %+v", d)
	}
}

func TestDecodeObjectFencedWithProse(t *testing.T) {
	var d decoded
	raw := "Hier ist das Ergebnis:\n```json\n{\"prompts\":[{\"prompt_id\":7,\"confidence\":0.8}]}\n```\nFertig."
	if err := DecodeObject(raw, &d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Prompts) != 1 || d.Prompts[0].PromptID != 7 {
		t.Fatalf("unexpected decode result: %+v", d)
	}
}

func TestDecodeObjectBalancedBraces(t *testing.T) {
	var d decoded
	// Prose around the object and a brace inside a string literal.
	raw := `Antwort: {"prompts":[{"prompt_id":3,"checked":false,"confidence":0.7}]} {trailing`
	if err := DecodeObject(raw, &d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Prompts[0].Checked == nil || *d.Prompts[0].Checked {
		t.Fatalf("checked not decoded: %+v", d.Prompts[0])
	}
}

func TestDecodeObjectRepairsTrailingComma(t *testing.T) {
	var d decoded
	raw := `{"prompts":[{"prompt_id":5,"confidence":0.6},]}`
	if err := DecodeObject(raw, &d); err != nil {
		t.Fatalf("repair path failed: %v", err)
	}
	if len(d.Prompts) != 1 || d.Prompts[0].PromptID != 5 {
		t.Fatalf("unexpected decode result: %+v", d)
	}
}

func TestDecodeObjectNoJSON(t *testing.T) {
	var d decoded
	if err := DecodeObject("keine strukturierte Antwort", &d); err == nil {
		t.Fatalf("expected error for response without JSON")
	}
}

func TestCoerceBool(t *testing.T) {
	if b := CoerceBool("ja"); b == nil || !*b {
		t.Fatalf("expected ja to coerce to true")
	}
	if b := CoerceBool("nein"); b == nil || *b {
		t.Fatalf("expected nein to coerce to false")
	}
	if b := CoerceBool("vielleicht"); b != nil {
		t.Fatalf("ambiguous string must stay nil")
	}
	if b := CoerceBool(nil); b != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestCoerceFloat(t *testing.T) {
	if f := CoerceFloat("0.85"); f != 0.85 {
		t.Fatalf("expected 0.85, got %v", f)
	}
	if f := CoerceFloat(""); !math.IsNaN(f) {
		t.Fatalf("expected NaN for empty string")
	}
}
