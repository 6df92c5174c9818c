package match

import (
	"testing"
	"time"

	"github.com/ppiankov/counters/internal/fact"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func f(typ int, payload bson.M) *fact.Fact {
	return &fact.Fact{ID: "f1", Type: typ, Payload: payload}
}

func TestMatchNilQueryAlwaysTrue(t *testing.T) {
	if !Match(nil, nil, Options{}) {
		t.Fatal("nil query must match any fact, including nil")
	}
	if !Match(f(1, bson.M{"a": 1}), map[string]any{}, Options{}) {
		t.Fatal("empty query must match")
	}
}

func TestMatchNonEmptyQueryAgainstNilFact(t *testing.T) {
	if Match(nil, map[string]any{"status": "A"}, Options{}) {
		t.Fatal("non-empty query against nil fact must not match")
	}
}

func TestMatchTypeIn(t *testing.T) {
	fct := f(50, bson.M{"status": "A"})
	if !Match(fct, map[string]any{"t": []any{50.0, 70.0}}, Options{}) {
		t.Fatal("expected type 50 to be in [50,70]")
	}
	if Match(fct, map[string]any{"t": []any{60.0}}, Options{}) {
		t.Fatal("expected type 50 to not be in [60]")
	}
}

func TestMatchBareArrayDeepEqualsArrayField(t *testing.T) {
	fct := f(1, bson.M{"tags": []any{"a", "b"}})
	if !Match(fct, map[string]any{"d.tags": []any{"a", "b"}}, Options{}) {
		t.Fatal("expected array field to deep-equal an identical array matcher")
	}
	if Match(fct, map[string]any{"d.tags": []any{"a", "c"}}, Options{}) {
		t.Fatal("expected array field to not equal a different array matcher")
	}
}

func TestMatchNinAndNe(t *testing.T) {
	fct := f(1, bson.M{"mti": "0200", "status": "A"})
	q := map[string]any{
		"d.mti":    map[string]any{"$nin": []any{"0400", "0410"}},
		"d.status": map[string]any{"$ne": "R"},
	}
	if !Match(fct, q, Options{}) {
		t.Fatal("expected match")
	}
}

func TestMatchNotRegex(t *testing.T) {
	fct := f(1, bson.M{"doc": "123456"})
	q := map[string]any{"d.doc": map[string]any{"$not": map[string]any{"$regex": "^7"}}}
	if !Match(fct, q, Options{}) {
		t.Fatal("expected doc not starting with 7 to match")
	}
}

func TestMatchRelativeTimeDateAdd(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	within := now.Add(-30 * time.Minute)
	query := map[string]any{
		"d.dt": map[string]any{
			"$gte": map[string]any{
				"$dateAdd": map[string]any{"startDate": "$$NOW", "unit": "hour", "amount": -1.0},
			},
		},
	}
	opts := Options{Now: func() time.Time { return now }}

	fct := f(1, bson.M{"dt": within})
	// d.dt isn't an $expr comparison directly - this exercises $expr via top-level field operator is wrong;
	// the spec scenario compares via $expr with $d. path on the left. Build that form explicitly below.
	_ = fct
	exprQuery := map[string]any{
		"$expr": map[string]any{
			"$gte": []any{
				"$d.dt",
				map[string]any{"$dateAdd": map[string]any{"startDate": "$$NOW", "unit": "hour", "amount": -1.0}},
			},
		},
	}
	_ = query
	if !Match(fct, exprQuery, opts) {
		t.Fatal("expected fact 30 minutes ago to match within the last hour")
	}

	old := f(1, bson.M{"dt": now.Add(-2 * 24 * time.Hour)})
	dayQuery := map[string]any{
		"$expr": map[string]any{
			"$gte": []any{
				"$d.dt",
				map[string]any{"$dateAdd": map[string]any{"startDate": "$$NOW", "unit": "day", "amount": -1.0}},
			},
		},
	}
	if Match(old, dayQuery, opts) {
		t.Fatal("expected fact 2 days ago to not match within the last day")
	}
}

func TestMatchUndefinedFieldIsTrue(t *testing.T) {
	fct := f(1, bson.M{"status": "A"})
	q := map[string]any{"d.missing": map[string]any{"$gt": 5}}
	if Match(fct, q, Options{}) {
		t.Fatal("missing field should not match $gt normally")
	}
	if !Match(fct, q, Options{UndefinedFieldIsTrue: true}) {
		t.Fatal("missing field should match under UndefinedFieldIsTrue override")
	}
}

func TestMatchExistsIgnoresOverride(t *testing.T) {
	fct := f(1, bson.M{"status": "A"})
	q := map[string]any{"d.missing": map[string]any{"$exists": true}}
	if Match(fct, q, Options{UndefinedFieldIsTrue: true}) {
		t.Fatal("$exists must not be overridden by UndefinedFieldIsTrue")
	}
}

func TestMatchInNinInversion(t *testing.T) {
	fct := f(1, bson.M{"status": "A"})
	in := map[string]any{"d.status": map[string]any{"$in": []any{"A", "B"}}}
	nin := map[string]any{"d.status": map[string]any{"$nin": []any{"A", "B"}}}
	if Match(fct, in, Options{}) == Match(fct, nin, Options{}) {
		t.Fatal("expected $in and $nin to disagree on the same operands")
	}
}

func TestMatchEqNeInversion(t *testing.T) {
	fct := f(1, bson.M{"status": "A"})
	eq := map[string]any{"d.status": map[string]any{"$eq": "A"}}
	ne := map[string]any{"d.status": map[string]any{"$ne": "A"}}
	if Match(fct, eq, Options{}) == Match(fct, ne, Options{}) {
		t.Fatal("expected $eq and $ne to disagree on the same operands")
	}
}

func TestMatchEmptyInIsFalseEmptyNinIsTrue(t *testing.T) {
	fct := f(1, bson.M{"status": "A"})
	if Match(fct, map[string]any{"d.status": map[string]any{"$in": []any{}}}, Options{}) {
		t.Fatal("empty $in must be false")
	}
	if !Match(fct, map[string]any{"d.status": map[string]any{"$nin": []any{}}}, Options{}) {
		t.Fatal("empty $nin must be true")
	}
}

func TestMatchNumericStringCoercion(t *testing.T) {
	fct := f(1, bson.M{"amount": "1,234.50"})
	q := map[string]any{"d.amount": map[string]any{"$gt": 1000}}
	if !Match(fct, q, Options{}) {
		t.Fatal("expected numeric-string amount to compare numerically")
	}
}

func TestMatchAndOr(t *testing.T) {
	fct := f(1, bson.M{"status": "A", "mti": "0200"})
	q := map[string]any{
		"$and": []any{
			map[string]any{"d.status": "A"},
			map[string]any{"$or": []any{
				map[string]any{"d.mti": "0100"},
				map[string]any{"d.mti": "0200"},
			}},
		},
	}
	if !Match(fct, q, Options{}) {
		t.Fatal("expected nested $and/$or to match")
	}
}

func TestMatchFieldScopedOr(t *testing.T) {
	q := map[string]any{"d.amount": map[string]any{"$or": []any{
		map[string]any{"$lt": 100},
		map[string]any{"$gt": 1000},
	}}}

	if !Match(f(1, bson.M{"amount": 50}), q, Options{}) {
		t.Fatal("50 should match the below-100 branch")
	}
	if !Match(f(1, bson.M{"amount": 5000}), q, Options{}) {
		t.Fatal("5000 should match the above-1000 branch")
	}
	if Match(f(1, bson.M{"amount": 500}), q, Options{}) {
		t.Fatal("500 should match neither branch")
	}
}

func TestMatchFieldScopedAnd(t *testing.T) {
	q := map[string]any{"d.amount": map[string]any{"$and": []any{
		map[string]any{"$gt": 100},
		map[string]any{"$lt": 1000},
	}}}

	if !Match(f(1, bson.M{"amount": 500}), q, Options{}) {
		t.Fatal("500 should satisfy both branches")
	}
	if Match(f(1, bson.M{"amount": 50}), q, Options{}) {
		t.Fatal("50 fails the $gt branch")
	}
	if Match(f(1, bson.M{"amount": 5000}), q, Options{}) {
		t.Fatal("5000 fails the $lt branch")
	}
}

func TestMatchUnknownOperatorNeverPanics(t *testing.T) {
	fct := f(1, bson.M{"status": "A"})
	q := map[string]any{"d.status": map[string]any{"$bogus": 1}}
	if Match(fct, q, Options{}) {
		t.Fatal("unknown operator must yield false, not match")
	}
}

func TestMatchDeterministicAcrossCalls(t *testing.T) {
	fct := f(1, bson.M{"status": "A"})
	q := map[string]any{"d.status": "A"}
	a := Match(fct, q, Options{})
	b := Match(fct, q, Options{})
	if a != b {
		t.Fatal("match must be deterministic for identical inputs")
	}
}
