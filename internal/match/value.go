package match

import (
	"reflect"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Value wraps a resolved operand together with whether it was actually
// present. Found distinguishes an absent fact field (or a failed date
// computation) from a field explicitly holding nil.
type Value struct {
	V     any
	Found bool
}

// equalValue implements the spec's type-loose equality: two absent
// operands are equal to each other ("undefined === undefined"); an
// absent operand never equals a present one; otherwise numeric-string
// coercion is tried before falling back to deep structural equality.
func equalValue(l, r Value) bool {
	if !l.Found && !r.Found {
		return true
	}
	if !l.Found || !r.Found {
		return false
	}
	return equalScalar(l.V, r.V)
}

func equalScalar(a, b any) bool {
	if af, aok := tryNumber(a); aok {
		if bf, bok := tryNumber(b); bok {
			return af == bf
		}
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// normalize collapses the handful of document/array/integer
// representations a BSON-ish value may take into one canonical shape so
// reflect.DeepEqual sees structural, not representational, equality.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalize(vv)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = normalize(vv)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

// truthy implements MongoDB's $expr boolean coercion: only false and nil
// (missing/null) are falsy; every other value, including 0 and "", is
// truthy.
func truthy(v any) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}
