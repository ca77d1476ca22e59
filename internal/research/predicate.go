package research

import (
	"encoding/json"
	"fmt"
)

// Predicate is one typed verification rule evaluated against an extraction
// payload. The set of variants is closed: HasField, Threshold and
// LengthAbove. Eval never panics; a rule that does not apply to the payload
// (missing field, wrong kind) simply fails.
type Predicate interface {
	Eval(data map[string]Value) bool
	op() string
}

// HasField passes when the named field is present and non-zero.
type HasField struct {
	Field string `json:"field"`
}

func (p HasField) Eval(data map[string]Value) bool {
	v, ok := data[p.Field]
	return ok && !v.IsZero()
}

func (HasField) op() string { return "has_field" }

// Threshold passes when the named numeric field lies inside [Min, Max].
// A nil bound is open.
type Threshold struct {
	Field string   `json:"field"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

func (p Threshold) Eval(data map[string]Value) bool {
	v, ok := data[p.Field]
	if !ok || v.Kind() != KindNumber {
		return false
	}
	if p.Min != nil && v.Num() < *p.Min {
		return false
	}
	if p.Max != nil && v.Num() > *p.Max {
		return false
	}
	return true
}

func (Threshold) op() string { return "threshold" }

// LengthAbove passes when the named field's length exceeds Min: rune count
// for text, element count for lists.
type LengthAbove struct {
	Field string `json:"field"`
	Min   int    `json:"min"`
}

func (p LengthAbove) Eval(data map[string]Value) bool {
	v, ok := data[p.Field]
	if !ok {
		return false
	}
	switch v.Kind() {
	case KindText:
		return len([]rune(v.Str())) > p.Min
	case KindList:
		return len(v.Items()) > p.Min
	default:
		return false
	}
}

func (LengthAbove) op() string { return "length_above" }

type predicateEnvelope struct {
	Op     string   `json:"op"`
	Field  string   `json:"field"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	MinLen *int     `json:"min_len,omitempty"`
}

// MarshalJSON encodes the rule list as tagged envelopes so schemas survive
// export/import.
func (s ExtractionSchema) MarshalJSON() ([]byte, error) {
	type alias ExtractionSchema
	envs := make([]predicateEnvelope, 0, len(s.Rules))
	for _, rule := range s.Rules {
		env := predicateEnvelope{Op: rule.op()}
		switch p := rule.(type) {
		case HasField:
			env.Field = p.Field
		case Threshold:
			env.Field = p.Field
			env.Min = p.Min
			env.Max = p.Max
		case LengthAbove:
			env.Field = p.Field
			minLen := p.Min
			env.MinLen = &minLen
		default:
			return nil, fmt.Errorf("unknown predicate %T", rule)
		}
		envs = append(envs, env)
	}
	return json.Marshal(struct {
		alias
		Rules []predicateEnvelope `json:"rules,omitempty"`
	}{alias: alias(s), Rules: envs})
}

// UnmarshalJSON decodes tagged rule envelopes back into predicate variants.
func (s *ExtractionSchema) UnmarshalJSON(data []byte) error {
	type alias ExtractionSchema
	var raw struct {
		alias
		Rules []predicateEnvelope `json:"rules"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rules := make([]Predicate, 0, len(raw.Rules))
	for _, env := range raw.Rules {
		switch env.Op {
		case "has_field":
			rules = append(rules, HasField{Field: env.Field})
		case "threshold":
			rules = append(rules, Threshold{Field: env.Field, Min: env.Min, Max: env.Max})
		case "length_above":
			minLen := 0
			if env.MinLen != nil {
				minLen = *env.MinLen
			}
			rules = append(rules, LengthAbove{Field: env.Field, Min: minLen})
		default:
			return fmt.Errorf("unknown predicate op %q", env.Op)
		}
	}
	*s = ExtractionSchema(raw.alias)
	if len(rules) > 0 {
		s.Rules = rules
	}
	return nil
}
