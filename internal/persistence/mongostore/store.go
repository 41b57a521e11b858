// Package mongostore keeps processed videos and word cards in MongoDB.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/MimeLyc/lingotube/pkg/log"
)

const (
	videosCollection = "processed_videos"
	cardsCollection  = "word_cards"
)

type Store struct {
	client *mongo.Client
	videos *mongo.Collection
	cards  *mongo.Collection
	now    func() time.Time
}

// Open connects to uri, verifies the connection and ensures indexes.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := New(client, database)
	if err := s.EnsureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	log.Info("Connected to MongoDB database %s", database)
	return s, nil
}

// New wraps an already connected client.
func New(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client: client,
		videos: db.Collection(videosCollection),
		cards:  db.Collection(cardsCollection),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	videoIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "ownerId", Value: 1}, {Key: "videoId", Value: 1}},
			Options: options.Index().SetName("owner_video_unique").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "ownerId", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("owner_created"),
		},
	}
	if _, err := s.videos.Indexes().CreateMany(ctx, videoIndexes); err != nil {
		return fmt.Errorf("create video indexes: %w", err)
	}

	cardIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "ownerId", Value: 1}, {Key: "text", Value: 1}, {Key: "type", Value: 1}},
			Options: options.Index().SetName("owner_text_type_unique").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "ownerId", Value: 1}, {Key: "isInErrorBook", Value: 1}, {Key: "createdAt", Value: -1}},
			Options: options.Index().SetName("owner_error_book"),
		},
	}
	if _, err := s.cards.Indexes().CreateMany(ctx, cardIndexes); err != nil {
		return fmt.Errorf("create word card indexes: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
