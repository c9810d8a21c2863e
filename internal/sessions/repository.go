package sessions

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Repository persists raw session records under a storage key.
type Repository interface {
	// Load returns the stored record, or nil when the key is missing or expired.
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, record []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type mongoRecord struct {
	Key       string    `bson:"_id"`
	Record    string    `bson:"record"`
	ExpiresAt time.Time `bson:"expiresAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// MongoRepository implements Repository using a Mongo collection. A TTL index
// on expiresAt lets Mongo reap old records; Load also ignores expired ones.
type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

// EnsureIndexes creates the expiry index. Safe to call on every startup.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	return err
}

func (r *MongoRepository) Load(ctx context.Context, key string) ([]byte, error) {
	var rec mongoRecord
	if err := r.col.FindOne(ctx, bson.M{"_id": key}).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	if time.Now().UTC().After(rec.ExpiresAt) {
		_, _ = r.col.DeleteOne(ctx, bson.M{"_id": key})
		return nil, nil
	}
	return []byte(rec.Record), nil
}

func (r *MongoRepository) Save(ctx context.Context, key string, record []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	rec := mongoRecord{Key: key, Record: string(record), ExpiresAt: now.Add(ttl), UpdatedAt: now}
	_, err := r.col.ReplaceOne(ctx, bson.M{"_id": key}, rec, options.Replace().SetUpsert(true))
	return err
}

func (r *MongoRepository) Delete(ctx context.Context, key string) error {
	_, err := r.col.DeleteOne(ctx, bson.M{"_id": key})
	return err
}
