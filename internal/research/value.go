package research

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValueKind tags the variants a Value can hold.
type ValueKind string

const (
	KindText   ValueKind = "text"
	KindNumber ValueKind = "number"
	KindFlag   ValueKind = "flag"
	KindList   ValueKind = "list"
)

// Value is the tagged union carried in extraction payloads. Exactly one of
// the variant fields is meaningful, selected by Kind. Construct values
// through the Text/Number/Flag/List helpers so the tag stays consistent.
type Value struct {
	kind ValueKind
	text string
	num  float64
	flag bool
	list []string
}

// Text builds a text value.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Number builds a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Flag builds a boolean value.
func Flag(b bool) Value { return Value{kind: KindFlag, flag: b} }

// List builds a list-of-strings value.
func List(items ...string) Value {
	return Value{kind: KindList, list: append([]string(nil), items...)}
}

// Kind returns the variant tag. The zero Value has an empty kind and is
// treated as absent everywhere.
func (v Value) Kind() ValueKind { return v.kind }

// IsZero reports whether the value was never set.
func (v Value) IsZero() bool { return v.kind == "" }

// Str returns the text variant ("" when v is not text).
func (v Value) Str() string { return v.text }

// Num returns the numeric variant (0 when v is not a number).
func (v Value) Num() float64 { return v.num }

// Bool returns the flag variant (false when v is not a flag).
func (v Value) Bool() bool { return v.flag }

// Items returns a copy of the list variant (nil when v is not a list).
func (v Value) Items() []string {
	if v.kind != KindList {
		return nil
	}
	return append([]string(nil), v.list...)
}

// Normalized returns the comparison form of the value: text lower-cased and
// trimmed, list items lower-cased, trimmed and sorted, numbers and flags
// passed through unchanged.
func (v Value) Normalized() Value {
	switch v.kind {
	case KindText:
		return Text(strings.ToLower(strings.TrimSpace(v.text)))
	case KindList:
		items := make([]string, 0, len(v.list))
		for _, it := range v.list {
			items = append(items, strings.ToLower(strings.TrimSpace(it)))
		}
		sort.Strings(items)
		return Value{kind: KindList, list: items}
	default:
		return v
	}
}

// Key is the deterministic serialized form used for exact-equality
// comparison and content hashing.
func (v Value) Key() string {
	switch v.kind {
	case KindText:
		return "t:" + v.text
	case KindNumber:
		return "n:" + strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindFlag:
		return "f:" + strconv.FormatBool(v.flag)
	case KindList:
		return "l:" + strings.Join(v.list, "\x1f")
	default:
		return ""
	}
}

// String renders the value for human-readable claim text.
func (v Value) String() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindFlag:
		return strconv.FormatBool(v.flag)
	case KindList:
		return strings.Join(v.list, ", ")
	default:
		return ""
	}
}

type valueEnvelope struct {
	Kind ValueKind `json:"kind"`
	Text *string   `json:"text,omitempty"`
	Num  *float64  `json:"num,omitempty"`
	Flag *bool     `json:"flag,omitempty"`
	List []string  `json:"list,omitempty"`
}

// MarshalJSON encodes the union with an explicit kind tag.
func (v Value) MarshalJSON() ([]byte, error) {
	env := valueEnvelope{Kind: v.kind}
	switch v.kind {
	case KindText:
		env.Text = &v.text
	case KindNumber:
		env.Num = &v.num
	case KindFlag:
		env.Flag = &v.flag
	case KindList:
		env.List = v.list
		if env.List == nil {
			env.List = []string{}
		}
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes the tagged envelope back into the union.
func (v *Value) UnmarshalJSON(data []byte) error {
	var env valueEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	switch env.Kind {
	case KindText:
		if env.Text == nil {
			return fmt.Errorf("value kind %q missing text payload", env.Kind)
		}
		*v = Text(*env.Text)
	case KindNumber:
		if env.Num == nil {
			return fmt.Errorf("value kind %q missing num payload", env.Kind)
		}
		*v = Number(*env.Num)
	case KindFlag:
		if env.Flag == nil {
			return fmt.Errorf("value kind %q missing flag payload", env.Kind)
		}
		*v = Flag(*env.Flag)
	case KindList:
		*v = List(env.List...)
	case "":
		*v = Value{}
	default:
		return fmt.Errorf("unknown value kind %q", env.Kind)
	}
	return nil
}
