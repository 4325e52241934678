package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Value is an answer value that is either a single string or a list of
// strings. Providers occasionally return numbers or booleans for scalar
// values; decoding folds those into their string form.
type Value struct {
	scalar string
	list   []string
	isList bool
	set    bool
}

// StringValue wraps a scalar value.
func StringValue(s string) Value {
	return Value{scalar: s, set: true}
}

// ListValue wraps a list value.
func ListValue(items ...string) Value {
	return Value{list: items, isList: true, set: true}
}

// IsSet reports whether the value carries anything at all.
func (v Value) IsSet() bool { return v.set }

// IsList reports whether the value is a list.
func (v Value) IsList() bool { return v.isList }

// String returns the scalar value, or a comma-joined rendering of a list.
func (v Value) String() string {
	if !v.set {
		return ""
	}
	if v.isList {
		return strings.Join(v.list, ", ")
	}
	return v.scalar
}

// List returns the list items; a scalar is returned as a one-item list.
func (v Value) List() []string {
	if !v.set {
		return nil
	}
	if v.isList {
		return v.list
	}
	return []string{v.scalar}
}

// Contains reports whether any element of the value contains needle,
// case-insensitive.
func (v Value) Contains(needle string) bool {
	needle = strings.ToLower(needle)
	for _, item := range v.List() {
		if strings.Contains(strings.ToLower(item), needle) {
			return true
		}
	}
	return false
}

// Equals compares against a raw expected value, case-insensitive and
// trimmed. A list matches when any element equals the expectation. This is
// deliberately element-wise rather than comparing the joined rendering, so
// "==" agrees with Contains on what a list answer holds.
func (v Value) Equals(expected string) bool {
	expected = strings.ToLower(strings.TrimSpace(expected))
	for _, item := range v.List() {
		if strings.ToLower(strings.TrimSpace(item)) == expected {
			return true
		}
	}
	return false
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.set {
		return []byte("null"), nil
	}
	if v.isList {
		return json.Marshal(v.list)
	}
	return json.Marshal(v.scalar)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*v = Value{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = StringValue(s)
		return nil
	}
	var list []any
	if err := json.Unmarshal(data, &list); err == nil {
		items := make([]string, 0, len(list))
		for _, item := range list {
			items = append(items, stringify(item))
		}
		*v = ListValue(items...)
		return nil
	}
	// Numbers and booleans fold into their string form.
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unsupported value payload: %s", trimmed)
	}
	*v = StringValue(stringify(raw))
	return nil
}

func stringify(raw any) string {
	switch t := raw.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
