package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ExecutionRecord is one persisted service control dispatch. The admin
// dashboard lists these even when the external history provider is
// unreachable.
type ExecutionRecord struct {
	ID          bson.ObjectID `bson:"_id,omitempty" json:"-"`
	Service     string        `bson:"service" json:"service"`
	Action      string        `bson:"action" json:"action"`
	Limit       int           `bson:"limit" json:"limit"`
	Concurrency int           `bson:"concurrency,omitempty" json:"concurrency,omitempty"`
	Success     bool          `bson:"success" json:"success"`
	Error       string        `bson:"error,omitempty" json:"error,omitempty"`
	TriggeredAt time.Time     `bson:"triggered_at" json:"triggered_at"`
}

// ExecutionRepository persists dispatch audit records.
type ExecutionRepository struct {
	coll *mongo.Collection
}

// NewExecutionRepository creates the repository and ensures the
// triggered_at index used by Recent.
func NewExecutionRepository(ctx context.Context, db *mongo.Database) (*ExecutionRepository, error) {
	coll := db.Collection(ExecutionsCollection)

	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "triggered_at", Value: -1}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create execution_audit index: %w", err)
	}

	return &ExecutionRepository{coll: coll}, nil
}

// Record inserts one dispatch record.
func (r *ExecutionRepository) Record(ctx context.Context, rec *ExecutionRecord) error {
	if rec.TriggeredAt.IsZero() {
		rec.TriggeredAt = time.Now().UTC()
	}
	if _, err := r.coll.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("failed to insert execution record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (r *ExecutionRepository) Recent(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "triggered_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []ExecutionRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode execution records: %w", err)
	}
	return records, nil
}
