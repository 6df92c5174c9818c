package counters

import (
	"sort"
	"strings"
	"sync"

	"github.com/ppiankov/counters/internal/fact"
	"github.com/ppiankov/counters/internal/match"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// candidateCache lazily builds and memoizes, per fact type, the
// catalogue subset compatible with that type according to a chosen
// query selector (ComputationConditions or EvaluationConditions). A
// sync.Map naturally distinguishes "not yet computed" (Load's ok==false)
// from "computed, empty" (ok==true, zero-length slice); a race between
// two callers for the same type recomputes the same deterministic slice
// and LoadOrStore keeps only one, so no lock is needed.
type candidateCache struct {
	m         sync.Map // int (fact type) -> []*Definition
	defs      []Definition
	queryOf   func(*Definition) map[string]any
	typeField string
}

func newCandidateCache(defs []Definition, typeField string, queryOf func(*Definition) map[string]any) *candidateCache {
	return &candidateCache{defs: defs, queryOf: queryOf, typeField: typeField}
}

func (c *candidateCache) forType(t int) []*Definition {
	if v, ok := c.m.Load(t); ok {
		return v.([]*Definition)
	}
	list := c.build(t)
	actual, _ := c.m.LoadOrStore(t, list)
	return actual.([]*Definition)
}

func (c *candidateCache) build(t int) []*Definition {
	out := make([]*Definition, 0)
	for i := range c.defs {
		d := &c.defs[i]
		if typeCompatible(c.queryOf(d), c.typeField, t) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		toI, fromI := out[i].windowKey()
		toJ, fromJ := out[j].windowKey()
		if toI != toJ {
			return toI < toJ
		}
		return fromI < fromJ
	})
	return out
}

// typeCompatible reports whether query either carries no predicate on
// typeField or carries one satisfied by a stub fact of exactly that
// type with an empty (non-nil) payload. Predicates nested under $or or
// $not are deliberately not extracted: that would require evaluating
// the discriminator in isolation from the branch it lives in, so such
// counters are conservatively treated as type-compatible and left to
// the real per-fact match in the subsequent pass.
//
// fact.Fact.Get only recognizes the struct-level aliases "type"/"t" for
// f.Type; a configured MessageTypeField using any other name (e.g. the
// ISO8583 "mti" convention) would otherwise resolve against the stub's
// empty Payload and never be found, silently excluding every counter
// that discriminates on it. The stub's payload is seeded with typeField
// itself so a non-aliased discriminator field resolves to the same int
// value the struct-level aliases would have returned.
func typeCompatible(query map[string]any, typeField string, t int) bool {
	preds := typePredicates(query, typeField)
	if len(preds) == 0 {
		return true
	}
	stub := &fact.Fact{Type: t, Payload: bson.M{}}
	if typeField != "type" && typeField != "t" {
		stub.Payload[typeField] = t
	}
	for _, p := range preds {
		if !match.Match(stub, map[string]any{typeField: p}, match.Options{}) {
			return false
		}
	}
	return true
}

// typePredicates collects every matcher bound to typeField reachable
// through the query's top level and any nested $and list (implicit-AND
// positions only).
func typePredicates(query map[string]any, typeField string) []any {
	var out []any
	for k, v := range query {
		switch {
		case normalizeKey(k) == typeField:
			out = append(out, v)
		case k == "$and":
			list, ok := v.([]any)
			if !ok {
				continue
			}
			for _, sub := range list {
				if sq, ok := sub.(map[string]any); ok {
					out = append(out, typePredicates(sq, typeField)...)
				}
			}
		}
	}
	return out
}

func normalizeKey(k string) string {
	return strings.TrimPrefix(k, "d.")
}
