package factindex

import (
	"testing"
	"time"

	"github.com/ppiankov/counters/internal/fact"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestBuildSkipsMissingField(t *testing.T) {
	f := &fact.Fact{ID: "f1", Type: 1, CreatedAt: time.Now(), Payload: bson.M{"mti": "0200"}}
	schema := []Rule{
		{FieldName: "mti", IndexTypeName: "mti_idx"},
		{FieldName: "missing", IndexTypeName: "never"},
	}
	entries := Build(f, schema)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].IndexTypeName != "mti_idx" {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestBuildDeterministicHash(t *testing.T) {
	f := &fact.Fact{ID: "f1", Type: 1, Payload: bson.M{"mti": "0200"}}
	schema := []Rule{{FieldName: "mti", IndexType: "exact", IndexValue: "card"}}
	a := Build(f, schema)
	b := Build(f, schema)
	if a[0].Hash != b[0].Hash {
		t.Fatal("expected identical hash across repeated calls with identical inputs")
	}
}

func TestBuildDifferentValuesDifferentHash(t *testing.T) {
	f1 := &fact.Fact{ID: "f1", Type: 1, Payload: bson.M{"mti": "0200"}}
	f2 := &fact.Fact{ID: "f2", Type: 1, Payload: bson.M{"mti": "0400"}}
	schema := []Rule{{FieldName: "mti", IndexType: "exact", IndexValue: "card"}}
	a := Build(f1, schema)
	b := Build(f2, schema)
	if a[0].Hash == b[0].Hash {
		t.Fatal("expected different hashes for different field values")
	}
}

func TestBuildUsesCreatedAtWhenDateNameUnset(t *testing.T) {
	anchor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := &fact.Fact{ID: "f1", Type: 1, CreatedAt: anchor, Payload: bson.M{"mti": "0200"}}
	entries := Build(f, []Rule{{FieldName: "mti"}})
	if !entries[0].AnchorTime.Equal(anchor) {
		t.Fatalf("expected anchor %v, got %v", anchor, entries[0].AnchorTime)
	}
}

func TestBuildNilFact(t *testing.T) {
	if entries := Build(nil, []Rule{{FieldName: "mti"}}); entries != nil {
		t.Fatalf("expected nil entries for a nil fact, got %+v", entries)
	}
}
