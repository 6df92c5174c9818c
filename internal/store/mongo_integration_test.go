//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/ppiankov/counters/internal/fact"
	"github.com/ppiankov/counters/internal/factindex"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func setupMongoStore(t *testing.T) *MongoStore {
	t.Helper()
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		t.Fatalf("start container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	s, err := NewMongoStore(ctx, uri, "counters_test")
	if err != nil {
		t.Fatalf("NewMongoStore: %v", err)
	}
	return s
}

func TestMongoStoreSaveAndRetrieveRelevantFacts(t *testing.T) {
	ctx := context.Background()
	s := setupMongoStore(t)

	f1 := &fact.Fact{ID: "f1", Type: 1, CreatedAt: time.Now(), Payload: bson.M{"mti": "0200"}}
	f2 := &fact.Fact{ID: "f2", Type: 1, CreatedAt: time.Now(), Payload: bson.M{"mti": "0400"}}
	if err := s.SaveFact(ctx, f1); err != nil {
		t.Fatalf("SaveFact f1: %v", err)
	}
	if err := s.SaveFact(ctx, f2); err != nil {
		t.Fatalf("SaveFact f2: %v", err)
	}

	entries := append(
		factindex.Build(f1, []factindex.Rule{{FieldName: "mti", IndexType: "exact", IndexValue: "card"}}),
		factindex.Build(f2, []factindex.Rule{{FieldName: "mti", IndexType: "exact", IndexValue: "card"}})...,
	)
	if err := s.SaveFactIndexList(ctx, entries); err != nil {
		t.Fatalf("SaveFactIndexList: %v", err)
	}

	hashes := [][16]byte{entries[0].Hash}
	got, err := s.GetRelevantFacts(ctx, hashes, "")
	if err != nil {
		t.Fatalf("GetRelevantFacts: %v", err)
	}
	if len(got) != 1 || got[0].ID != "f1" {
		t.Fatalf("expected only f1, got %+v", got)
	}

	if err := s.ClearFactsCollection(ctx); err != nil {
		t.Fatalf("ClearFactsCollection: %v", err)
	}
	if err := s.ClearFactIndexCollection(ctx); err != nil {
		t.Fatalf("ClearFactIndexCollection: %v", err)
	}
}
