// Package apistats stores bucketed request statistics for the room API.
package apistats

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the MongoDB collection for API statistics.
const CollectionName = "api_stats"

// StatType identifies the endpoint being tracked.
type StatType string

const (
	StatTypeRoomGet      StatType = "room_get"
	StatTypeRoomSave     StatType = "room_save"
	StatTypeRoomDelete   StatType = "room_delete"
	StatTypeRealtimeAuth StatType = "realtime_auth"
	StatTypeExecute      StatType = "execute"
)

// Bucket is one time bucket of aggregated statistics for one stat type.
type Bucket struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	Bucket         time.Time          `bson:"bucket"`          // bucket start
	BucketDuration string             `bson:"bucket_duration"` // e.g. "1h"
	StatType       StatType           `bson:"stat_type"`
	Requests       int64              `bson:"requests"`
	Errors         int64              `bson:"errors"` // 4xx and 5xx
	TotalMs        int64              `bson:"total_ms"`
	MinMs          int64              `bson:"min_ms"`
	MaxMs          int64              `bson:"max_ms"`
	UpdatedAt      time.Time          `bson:"updated_at"`
}

// AvgMs returns the average response time in milliseconds.
func (b *Bucket) AvgMs() float64 {
	if b.Requests == 0 {
		return 0
	}
	return float64(b.TotalMs) / float64(b.Requests)
}

// Store provides API statistics persistence.
type Store struct {
	c *mongo.Collection
}

// New creates a new API stats store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection(CollectionName)}
}

// TruncateToBucket truncates a time to the start of its bucket.
func TruncateToBucket(t time.Time, duration time.Duration) time.Time {
	return t.UTC().Truncate(duration)
}

// Record adds one request to the bucket containing now, creating the bucket
// if needed.
func (s *Store) Record(ctx context.Context, statType StatType, bucketDuration time.Duration, durationMs int64, isError bool) error {
	now := time.Now().UTC()
	bucket := TruncateToBucket(now, bucketDuration)
	durationStr := bucketDuration.String()

	// $min and $max cover the insert case, so min_ms and max_ms must not
	// also appear in $setOnInsert.
	inc := bson.M{
		"requests": 1,
		"total_ms": durationMs,
	}
	if isError {
		inc["errors"] = 1
	}
	update := bson.M{
		"$inc": inc,
		"$set": bson.M{"updated_at": now},
		"$setOnInsert": bson.M{
			"_id":             primitive.NewObjectID(),
			"bucket":          bucket,
			"bucket_duration": durationStr,
			"stat_type":       statType,
		},
		"$min": bson.M{"min_ms": durationMs},
		"$max": bson.M{"max_ms": durationMs},
	}

	_, err := s.c.UpdateOne(ctx, bson.M{
		"bucket":          bucket,
		"stat_type":       statType,
		"bucket_duration": durationStr,
	}, update, options.Update().SetUpsert(true))
	return err
}

// GetRange returns the buckets of one stat type in [start, end], oldest
// first.
func (s *Store) GetRange(ctx context.Context, statType StatType, start, end time.Time) ([]Bucket, error) {
	filter := bson.M{
		"stat_type": statType,
		"bucket": bson.M{
			"$gte": start.UTC(),
			"$lte": end.UTC(),
		},
	}
	cur, err := s.c.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "bucket", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var buckets []Bucket
	if err := cur.All(ctx, &buckets); err != nil {
		return nil, err
	}
	return buckets, nil
}

// Summary totals one stat type over a range.
type Summary struct {
	StatType      StatType  `json:"statType"`
	TotalRequests int64     `json:"requests"`
	TotalErrors   int64     `json:"errors"`
	AvgMs         float64   `json:"avgMs"`
	MinMs         int64     `json:"minMs"`
	MaxMs         int64     `json:"maxMs"`
	FirstBucket   time.Time `json:"firstBucket"`
	LastBucket    time.Time `json:"lastBucket"`
}

// GetSummary returns one Summary per stat type with buckets in [start, end],
// sorted by stat type.
func (s *Store) GetSummary(ctx context.Context, start, end time.Time) ([]Summary, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"bucket": bson.M{
				"$gte": start.UTC(),
				"$lte": end.UTC(),
			},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":          "$stat_type",
			"requests":     bson.M{"$sum": "$requests"},
			"errors":       bson.M{"$sum": "$errors"},
			"total_ms":     bson.M{"$sum": "$total_ms"},
			"min_ms":       bson.M{"$min": "$min_ms"},
			"max_ms":       bson.M{"$max": "$max_ms"},
			"first_bucket": bson.M{"$min": "$bucket"},
			"last_bucket":  bson.M{"$max": "$bucket"},
		}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	}

	cur, err := s.c.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	summaries := []Summary{}
	for cur.Next(ctx) {
		var doc struct {
			ID          string    `bson:"_id"`
			Requests    int64     `bson:"requests"`
			Errors      int64     `bson:"errors"`
			TotalMs     int64     `bson:"total_ms"`
			MinMs       int64     `bson:"min_ms"`
			MaxMs       int64     `bson:"max_ms"`
			FirstBucket time.Time `bson:"first_bucket"`
			LastBucket  time.Time `bson:"last_bucket"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		sum := Summary{
			StatType:      StatType(doc.ID),
			TotalRequests: doc.Requests,
			TotalErrors:   doc.Errors,
			MinMs:         doc.MinMs,
			MaxMs:         doc.MaxMs,
			FirstBucket:   doc.FirstBucket,
			LastBucket:    doc.LastBucket,
		}
		if doc.Requests > 0 {
			sum.AvgMs = float64(doc.TotalMs) / float64(doc.Requests)
		}
		summaries = append(summaries, sum)
	}
	return summaries, cur.Err()
}

// DeleteOlderThan removes buckets that started before cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.c.DeleteMany(ctx, bson.M{"bucket": bson.M{"$lt": cutoff.UTC()}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
