package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/FranLegon/syncly/internal/model"
)

const (
	mongoDatabase  = "syncly"
	connectTimeout = 10 * time.Second
)

// MongoStore keeps each user's records in its own collection, uploads_<owner>.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// CollectionName returns the collection holding an owner's uploads.
func CollectionName(owner string) string {
	if owner == "" {
		owner = "default"
	}
	return "uploads_" + owner
}

// OpenMongo connects to uri and selects the owner's collection.
func OpenMongo(ctx context.Context, uri, owner string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to reach mongo: %w", err)
	}

	coll := client.Database(mongoDatabase).Collection(CollectionName(owner))
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "file_name", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &MongoStore{client: client, coll: coll}, nil
}

func (s *MongoStore) Append(ctx context.Context, m *model.UploadMetadata) error {
	if _, err := s.coll.InsertOne(ctx, m); err != nil {
		return fmt.Errorf("failed to insert metadata: %w", err)
	}
	return nil
}

func (s *MongoStore) Find(ctx context.Context, fileName string) (*model.UploadMetadata, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	var m model.UploadMetadata
	err := s.coll.FindOne(ctx, bson.M{"file_name": fileName}, opts).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s: %w", fileName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query metadata: %w", err)
	}
	return &m, nil
}

func (s *MongoStore) List(ctx context.Context) ([]*model.UploadMetadata, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cur, err := s.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}
	defer cur.Close(ctx)

	var out []*model.UploadMetadata
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return out, nil
}

func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}
