package store

import (
	"context"
	"fmt"

	"github.com/ppiankov/counters/internal/fact"
	"github.com/ppiankov/counters/internal/factindex"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	factsCollection     = "facts"
	factIndexCollection = "fact_index"
)

// dbClient abstracts the collection operations MongoStore needs, so
// tests can substitute a fake without a live server.
type dbClient interface {
	InsertOne(ctx context.Context, collection string, doc any) error
	InsertMany(ctx context.Context, collection string, docs []any) error
	Find(ctx context.Context, collection string, filter any) (*mongo.Cursor, error)
	DeleteMany(ctx context.Context, collection string, filter any) error
}

// mongoDBClient wraps a real *mongo.Database to implement dbClient.
type mongoDBClient struct {
	db *mongo.Database
}

func (c *mongoDBClient) InsertOne(ctx context.Context, collection string, doc any) error {
	_, err := c.db.Collection(collection).InsertOne(ctx, doc)
	return err
}

func (c *mongoDBClient) InsertMany(ctx context.Context, collection string, docs []any) error {
	if len(docs) == 0 {
		return nil
	}
	_, err := c.db.Collection(collection).InsertMany(ctx, docs)
	return err
}

func (c *mongoDBClient) Find(ctx context.Context, collection string, filter any) (*mongo.Cursor, error) {
	return c.db.Collection(collection).Find(ctx, filter)
}

func (c *mongoDBClient) DeleteMany(ctx context.Context, collection string, filter any) error {
	_, err := c.db.Collection(collection).DeleteMany(ctx, filter)
	return err
}

// MongoStore is the production Store backed by MongoDB, mirroring the
// facts/fact_index collections named in the fact-index contract.
type MongoStore struct {
	db dbClient
}

// NewMongoStore connects to MongoDB at uri and returns a store scoped to
// database dbName. The context deadline bounds connection and server
// selection time.
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("store: connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("store: pinging mongo: %w", err)
	}
	return &MongoStore{db: &mongoDBClient{db: client.Database(dbName)}}, nil
}

func (s *MongoStore) SaveFact(ctx context.Context, f *fact.Fact) error {
	return s.db.InsertOne(ctx, factsCollection, f)
}

func (s *MongoStore) SaveFactIndexList(ctx context.Context, entries []factindex.Entry) error {
	docs := make([]any, len(entries))
	for i, e := range entries {
		docs[i] = bson.M{
			"hash":          e.Hash[:],
			"factId":        e.FactID,
			"factType":      e.FactType,
			"anchorTime":    e.AnchorTime,
			"indexTypeName": e.IndexTypeName,
		}
	}
	return s.db.InsertMany(ctx, factIndexCollection, docs)
}

func (s *MongoStore) GetRelevantFacts(ctx context.Context, hashes [][16]byte, excludedFactID string) ([]*fact.Fact, error) {
	rawHashes := make([]any, len(hashes))
	for i, h := range hashes {
		rawHashes[i] = h[:]
	}

	cur, err := s.db.Find(ctx, factIndexCollection, bson.M{"hash": bson.M{"$in": rawHashes}})
	if err != nil {
		return nil, fmt.Errorf("store: querying fact_index: %w", err)
	}
	var idxDocs []bson.M
	if err := cur.All(ctx, &idxDocs); err != nil {
		return nil, fmt.Errorf("store: decoding fact_index results: %w", err)
	}

	ids := make(map[string]bool)
	factIDs := make([]any, 0, len(idxDocs))
	for _, d := range idxDocs {
		id, _ := d["factId"].(string)
		if id == "" || id == excludedFactID || ids[id] {
			continue
		}
		ids[id] = true
		factIDs = append(factIDs, id)
	}
	if len(factIDs) == 0 {
		return nil, nil
	}

	factCur, err := s.db.Find(ctx, factsCollection, bson.M{"id": bson.M{"$in": factIDs}})
	if err != nil {
		return nil, fmt.Errorf("store: querying facts: %w", err)
	}
	var facts []*fact.Fact
	if err := factCur.All(ctx, &facts); err != nil {
		return nil, fmt.Errorf("store: decoding fact results: %w", err)
	}
	return facts, nil
}

func (s *MongoStore) ClearFactsCollection(ctx context.Context) error {
	return s.db.DeleteMany(ctx, factsCollection, bson.M{})
}

func (s *MongoStore) ClearFactIndexCollection(ctx context.Context) error {
	return s.db.DeleteMany(ctx, factIndexCollection, bson.M{})
}

var _ Store = (*MongoStore)(nil)
