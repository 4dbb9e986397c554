package docstore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// fileDoc is the MongoDB representation of a file.
type fileDoc struct {
	FileID    string    `bson:"_id"`
	Content   string    `bson:"content"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// MongoStore is a MongoDB-backed implementation of the Store interface.
// One document per file, keyed by file ID.
type MongoStore struct {
	client *mongo.Client
	files  *mongo.Collection
}

// NewMongoStore connects to MongoDB and returns a store using the given
// database. The connection is verified with a ping before returning.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)

		return nil, err
	}

	return &MongoStore{
		client: client,
		files:  client.Database(database).Collection("files"),
	}, nil
}

// ReadContent returns the current content of a file.
func (s *MongoStore) ReadContent(ctx context.Context, fileID string) (string, error) {
	var doc fileDoc

	err := s.files.FindOne(ctx, bson.D{{Key: "_id", Value: fileID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", ErrFileNotFound
		}

		return "", err
	}

	return doc.Content, nil
}

// WriteContent replaces the content of an existing file.
func (s *MongoStore) WriteContent(ctx context.Context, fileID, content string) error {
	filter := bson.D{{Key: "_id", Value: fileID}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "content", Value: content},
		{Key: "updatedAt", Value: time.Now()},
	}}}

	res, err := s.files.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}

	if res.MatchedCount == 0 {
		return ErrFileNotFound
	}

	return nil
}

// Exists checks whether a file exists.
func (s *MongoStore) Exists(ctx context.Context, fileID string) (bool, error) {
	count, err := s.files.CountDocuments(ctx, bson.D{{Key: "_id", Value: fileID}})
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// CreateFile creates a file with initial content.
func (s *MongoStore) CreateFile(ctx context.Context, fileID, content string) error {
	filter := bson.D{{Key: "_id", Value: fileID}}
	update := bson.D{{Key: "$setOnInsert", Value: bson.D{
		{Key: "content", Value: content},
		{Key: "updatedAt", Value: time.Now()},
	}}}

	res, err := s.files.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return err
	}

	if res.UpsertedCount == 0 {
		return ErrFileExists
	}

	return nil
}

// Close disconnects the underlying MongoDB client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ensure MongoStore implements Store.
var _ Store = (*MongoStore)(nil)
