package hrana

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"math/big"
)

// Value is the tagged-union wire representation of spec.md §4.4's "Value
// encoding": null | integer | float | text | blob. Integer payloads are
// carried as decimal strings to avoid precision loss across the JSON
// boundary; blob payloads are base64.
type Value struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`

	// FloatValue carries the "float" tag's payload as a JSON number rather
	// than a string, matching the wire's distinct numeric encoding for
	// non-integer values.
	FloatValue *float64 `json:"-"`
	Base64     string   `json:"base64,omitempty"`
}

// MarshalJSON emits the float tag's value as a bare JSON number instead of
// the string the other tags use.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case "float":
		return json.Marshal(struct {
			Type  string  `json:"type"`
			Value float64 `json:"value"`
		}{Type: "float", Value: *v.FloatValue})
	case "blob":
		return json.Marshal(struct {
			Type   string `json:"type"`
			Base64 string `json:"base64"`
		}{Type: "blob", Base64: v.Base64})
	case "integer", "text":
		return json.Marshal(struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		}{Type: v.Type, Value: v.Value})
	default:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{Type: "null"})
	}
}

// UnmarshalJSON decodes any of the five wire tags; an unrecognized or
// malformed payload decodes to the null tag per spec.md §4.4.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type   string          `json:"type"`
		Value  json.RawMessage `json:"value"`
		Base64 string          `json:"base64"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		*v = Value{Type: "null"}
		return nil
	}
	switch raw.Type {
	case "null":
		*v = Value{Type: "null"}
	case "integer", "text":
		var s string
		if err := json.Unmarshal(raw.Value, &s); err != nil {
			*v = Value{Type: "null"}
			return nil
		}
		*v = Value{Type: raw.Type, Value: s}
	case "float":
		var f float64
		if err := json.Unmarshal(raw.Value, &f); err != nil {
			*v = Value{Type: "null"}
			return nil
		}
		*v = Value{Type: "float", FloatValue: &f}
	case "blob":
		*v = Value{Type: "blob", Base64: raw.Base64}
	default:
		*v = Value{Type: "null"}
	}
	return nil
}

// maxSafeInteger mirrors JavaScript's Number.MAX_SAFE_INTEGER (2^53 - 1),
// the boundary spec.md §4.4 decodes integers against.
const maxSafeInteger = 1<<53 - 1

// ToHranaValue encodes an in-memory value into its wire Value per spec.md
// §4.4. Accepted Go types: nil, bool, int64, *big.Int, float64, string,
// []byte.
func ToHranaValue(v any) Value {
	switch t := v.(type) {
	case nil:
		return Value{Type: "null"}
	case bool:
		s := "0"
		if t {
			s = "1"
		}
		return Value{Type: "integer", Value: s}
	case int64:
		return Value{Type: "integer", Value: big.NewInt(t).String()}
	case int:
		return Value{Type: "integer", Value: big.NewInt(int64(t)).String()}
	case *big.Int:
		if t == nil {
			return Value{Type: "null"}
		}
		return Value{Type: "integer", Value: t.String()}
	case float64:
		if isSafeWholeNumber(t) {
			return Value{Type: "integer", Value: big.NewInt(int64(t)).String()}
		}
		f := t
		return Value{Type: "float", FloatValue: &f}
	case string:
		return Value{Type: "text", Value: t}
	case []byte:
		return Value{Type: "blob", Base64: base64.StdEncoding.EncodeToString(t)}
	default:
		return Value{Type: "null"}
	}
}

func isSafeWholeNumber(f float64) bool {
	return f == math.Trunc(f) && math.Abs(f) <= maxSafeInteger
}

// FromHranaValue decodes a wire Value into an in-memory value. Safe
// integers (per Number.isSafeInteger) decode to float64; integers outside
// that range decode to *big.Int, per spec.md §4.4. Unknown/malformed
// values decode to nil.
func FromHranaValue(v Value) any {
	switch v.Type {
	case "null":
		return nil
	case "integer":
		n, ok := new(big.Int).SetString(v.Value, 10)
		if !ok {
			return nil
		}
		if n.IsInt64() && n.Int64() >= -maxSafeInteger && n.Int64() <= maxSafeInteger {
			return float64(n.Int64())
		}
		return n
	case "float":
		if v.FloatValue == nil {
			return nil
		}
		return *v.FloatValue
	case "text":
		return v.Value
	case "blob":
		b, err := base64.StdEncoding.DecodeString(v.Base64)
		if err != nil {
			return nil
		}
		return b
	default:
		return nil
	}
}
