// Package disambiguation stores requests for human or downstream review of
// provisional entities. It is a side channel: nothing here feeds the ledger.
package disambiguation

import (
	"context"
	"sort"
	"sync"
	"time"

	"LegisGraph/backend/go/internal/kgerrors"
	"LegisGraph/backend/go/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store persists disambiguation requests.
type Store interface {
	Signal(ctx context.Context, req models.DisambiguationRequest) error
	MarkResolved(ctx context.Context, entityID, resolvedWith string) error
	List(ctx context.Context, status string, limit int) ([]models.DisambiguationRequest, error)
}

// MongoStore keeps requests in a MongoDB collection.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore creates a MongoStore on the given collection.
func NewMongoStore(db *mongo.Database, collectionName string) *MongoStore {
	return &MongoStore{collection: db.Collection(collectionName)}
}

// Signal inserts req. A request for an entity that already has an open one is ignored.
func (s *MongoStore) Signal(ctx context.Context, req models.DisambiguationRequest) error {
	filter := bson.M{"entity_id": req.EntityID, "status": models.DisambiguationOpen}
	update := bson.M{"$setOnInsert": req}
	_, err := s.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return kgerrors.Transient(err, "store disambiguation request")
}

// MarkResolved closes every open request of entityID.
func (s *MongoStore) MarkResolved(ctx context.Context, entityID, resolvedWith string) error {
	now := time.Now().UTC()
	filter := bson.M{"entity_id": entityID, "status": models.DisambiguationOpen}
	update := bson.M{
		"$set": bson.M{
			"status":        models.DisambiguationResolved,
			"resolved_with": resolvedWith,
			"resolved_at":   now,
		},
	}
	_, err := s.collection.UpdateMany(ctx, filter, update)
	return kgerrors.Transient(err, "resolve disambiguation request")
}

// List returns requests with the given status (all when empty), newest first.
func (s *MongoStore) List(ctx context.Context, status string, limit int) ([]models.DisambiguationRequest, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find()
	opts.SetSort(bson.D{{Key: "created_at", Value: -1}})
	opts.SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, kgerrors.Transient(err, "list disambiguation requests")
	}
	defer cursor.Close(ctx)

	var out []models.DisambiguationRequest
	if err := cursor.All(ctx, &out); err != nil {
		return nil, kgerrors.Transient(err, "decode disambiguation requests")
	}
	return out, nil
}

// MemoryStore is the in-process Store used when no MongoDB is configured.
type MemoryStore struct {
	mu       sync.Mutex
	requests []models.DisambiguationRequest
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Signal implements Store.
func (s *MemoryStore) Signal(_ context.Context, req models.DisambiguationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.EntityID == req.EntityID && r.Status == models.DisambiguationOpen {
			return nil
		}
	}
	s.requests = append(s.requests, req)
	return nil
}

// MarkResolved implements Store.
func (s *MemoryStore) MarkResolved(_ context.Context, entityID, resolvedWith string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for i := range s.requests {
		r := &s.requests[i]
		if r.EntityID == entityID && r.Status == models.DisambiguationOpen {
			r.Status, r.ResolvedWith, r.ResolvedAt = models.DisambiguationResolved, resolvedWith, &now
		}
	}
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, status string, limit int) ([]models.DisambiguationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DisambiguationRequest
	for _, r := range s.requests {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
