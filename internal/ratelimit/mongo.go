package ratelimit

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CountersCollection holds one document per rate-limit key.
const CountersCollection = "rate_limits"

// MongoStore shares counters between server instances through MongoDB.
type MongoStore struct {
	col *mongo.Collection
}

// NewMongoStore keeps counters in the rate_limits collection of db.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{col: db.Collection(CountersCollection)}
}

// EnsureIndexes lets MongoDB expire finished windows on its own.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0).SetName("expires_at_ttl"),
	})
	return err
}

type counterDocument struct {
	Count       int       `bson:"count"`
	WindowStart time.Time `bson:"window_start"`
}

// Incr applies the window rule server-side with an update pipeline, so
// concurrent increments from any instance are serialized per document.
func (s *MongoStore) Incr(ctx context.Context, key string, window time.Duration, now time.Time) (Counter, error) {
	now = now.UTC().Truncate(time.Millisecond)
	windowMS := window.Milliseconds()

	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "_reset", Value: bson.D{{Key: "$or", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{bson.D{{Key: "$type", Value: "$window_start"}}, "missing"}}},
				bson.D{{Key: "$gt", Value: bson.A{
					bson.D{{Key: "$subtract", Value: bson.A{now, "$window_start"}}},
					windowMS,
				}}},
			}}}},
		}}},
		{{Key: "$set", Value: bson.D{
			{Key: "count", Value: bson.D{{Key: "$cond", Value: bson.A{
				"$_reset", 1, bson.D{{Key: "$add", Value: bson.A{"$count", 1}}},
			}}}},
			{Key: "window_start", Value: bson.D{{Key: "$cond", Value: bson.A{
				"$_reset", now, "$window_start",
			}}}},
		}}},
		{{Key: "$set", Value: bson.D{
			{Key: "expires_at", Value: bson.D{{Key: "$add", Value: bson.A{"$window_start", windowMS}}}},
		}}},
		{{Key: "$unset", Value: "_reset"}},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After).
		SetProjection(bson.M{"count": 1, "window_start": 1})

	var doc counterDocument
	err := s.col.FindOneAndUpdate(ctx, bson.M{"_id": key}, pipeline, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// Two first hits raced on the upsert; the document now exists.
		err = s.col.FindOneAndUpdate(ctx, bson.M{"_id": key}, pipeline, opts).Decode(&doc)
	}
	if err != nil {
		return Counter{}, err
	}
	return Counter{Count: doc.Count, WindowStart: doc.WindowStart}, nil
}
