// Package fact defines the immutable event document the counters engine
// evaluates: a typed, timestamped record whose payload is reached via
// dotted paths rooted at "d.".
package fact

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Fact is an immutable structured business event, e.g. a card transaction.
// It is created by an upstream producer, consumed read-only by the
// counters engine, and dropped by the caller once processed.
type Fact struct {
	ID        string    `bson:"id" json:"id"`
	Type      int       `bson:"type" json:"type"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	Payload   bson.M    `bson:"d" json:"d"`
}

// rootPrefix is the path root every payload field reference is rooted at.
const rootPrefix = "d."

// Get resolves a dotted path against the fact. Paths may be given either
// rooted ("d.foo.bar") or bare ("foo.bar"); both resolve against Payload,
// except the names "id", "type" (alias "t") and "createdAt", which
// resolve to the struct's own ID, Type and CreatedAt fields.
// The second return value is false when any segment along the path is
// absent, distinguishing "missing" from a present-but-nil value.
func (f *Fact) Get(path string) (any, bool) {
	if f == nil {
		return nil, false
	}
	path = strings.TrimPrefix(path, rootPrefix)
	if path == "" {
		return nil, false
	}
	if path == "id" {
		return f.ID, true
	}
	if path == "type" || path == "t" {
		return f.Type, true
	}
	if path == "createdAt" {
		return f.CreatedAt, true
	}

	segments := strings.Split(path, ".")
	var cur any = map[string]any(f.Payload)
	for i, seg := range segments {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		v, present := m[seg]
		if !present {
			return nil, false
		}
		if i == len(segments)-1 {
			return v, true
		}
		cur = v
	}
	return nil, false
}

// asMap normalizes the handful of map-shaped types a resolved payload
// value may legitimately be, so nested bson.M / bson.D / map[string]any
// documents all walk the same way.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case bson.M:
		return m, true
	case map[string]any:
		return m, true
	case bson.D:
		out := make(map[string]any, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out, true
	default:
		return nil, false
	}
}

// IsZero reports whether f is nil or carries no payload, the condition
// under which the matching pipeline must short-circuit to "no match".
func (f *Fact) IsZero() bool {
	return f == nil || f.Payload == nil
}
