package mongostore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MimeLyc/lingotube/internal/video"
)

func (s *Store) CreateVideo(ctx context.Context, v *video.ProcessedVideo) error {
	if v == nil {
		return fmt.Errorf("video is nil")
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = v.CreatedAt
	}
	if v.Data.Subtitles == nil {
		v.Data.Subtitles = []video.Subtitle{}
	}
	_, err := s.videos.InsertOne(ctx, v)
	if mongo.IsDuplicateKeyError(err) {
		return video.ErrDuplicate
	}
	return err
}

func (s *Store) FindVideo(ctx context.Context, ownerID, videoID string) (*video.ProcessedVideo, error) {
	return s.findOneVideo(ctx, bson.M{"ownerId": ownerID, "videoId": videoID})
}

func (s *Store) GetVideo(ctx context.Context, id string) (*video.ProcessedVideo, error) {
	return s.findOneVideo(ctx, bson.M{"_id": id})
}

func (s *Store) findOneVideo(ctx context.Context, filter bson.M) (*video.ProcessedVideo, error) {
	var v video.ProcessedVideo
	if err := s.videos.FindOne(ctx, filter).Decode(&v); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, video.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (s *Store) ListVideos(ctx context.Context, ownerID string, limit int) ([]*video.ProcessedVideo, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.videos.Find(ctx, bson.M{"ownerId": ownerID}, opts)
	if err != nil {
		return nil, err
	}
	ret := make([]*video.ProcessedVideo, 0)
	if err := cur.All(ctx, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

// SetTranslations issues one $set per positional path so concurrent readers
// never observe a rewritten subtitle array.
func (s *Store) SetTranslations(ctx context.Context, id string, offset int, translations []string) error {
	if len(translations) == 0 {
		return nil
	}
	if offset < 0 {
		return fmt.Errorf("negative subtitle offset %d", offset)
	}
	set := translationSet(offset, translations)
	set["updatedAt"] = s.now()

	last := fmt.Sprintf("data.subtitles.%d", offset+len(translations)-1)
	res, err := s.videos.UpdateOne(ctx,
		bson.M{"_id": id, last: bson.M{"$exists": true}},
		bson.M{"$set": set},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetVideo(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("update video %s: subtitle range out of bounds", id)
	}
	return nil
}

func translationSet(offset int, translations []string) bson.M {
	set := bson.M{}
	for i, text := range translations {
		set[fmt.Sprintf("data.subtitles.%d.translatedText", offset+i)] = text
	}
	return set
}

func (s *Store) SetStatus(ctx context.Context, id string, status video.Status, message string) error {
	res, err := s.videos.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": status, "error": message, "updatedAt": s.now()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return video.ErrNotFound
	}
	return nil
}
