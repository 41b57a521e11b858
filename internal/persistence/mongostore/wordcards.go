package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MimeLyc/lingotube/internal/grammar"
	"github.com/MimeLyc/lingotube/internal/wordcard"
)

// cardDoc stores the analysis as a native sub-document instead of raw bytes.
type cardDoc struct {
	ID          string               `bson:"_id"`
	OwnerID     string               `bson:"ownerId"`
	Text        string               `bson:"text"`
	Kind        grammar.Kind         `bson:"type"`
	Data        bson.D               `bson:"data"`
	Clips       []wordcard.VideoClip `bson:"videoInfos"`
	InErrorBook bool                 `bson:"isInErrorBook"`
	CreatedAt   time.Time            `bson:"createdAt"`
	UpdatedAt   time.Time            `bson:"updatedAt"`
}

func toCardDoc(c *wordcard.Card) (*cardDoc, error) {
	var data bson.D
	if len(c.Data) > 0 {
		if err := bson.UnmarshalExtJSON(c.Data, false, &data); err != nil {
			return nil, fmt.Errorf("convert card data: %w", err)
		}
	}
	clips := c.Clips
	if clips == nil {
		clips = []wordcard.VideoClip{}
	}
	return &cardDoc{
		ID:          c.ID,
		OwnerID:     c.OwnerID,
		Text:        c.Text,
		Kind:        c.Kind,
		Data:        data,
		Clips:       clips,
		InErrorBook: c.InErrorBook,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}, nil
}

func (d *cardDoc) card() (*wordcard.Card, error) {
	data := json.RawMessage("{}")
	if len(d.Data) > 0 {
		raw, err := bson.MarshalExtJSON(d.Data, false, false)
		if err != nil {
			return nil, fmt.Errorf("convert card data: %w", err)
		}
		data = raw
	}
	return &wordcard.Card{
		ID:          d.ID,
		OwnerID:     d.OwnerID,
		Text:        d.Text,
		Kind:        d.Kind,
		Data:        data,
		Clips:       d.Clips,
		InErrorBook: d.InErrorBook,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}

func (s *Store) FindCard(ctx context.Context, ownerID, text string, kind grammar.Kind) (*wordcard.Card, error) {
	var doc cardDoc
	err := s.cards.FindOne(ctx, bson.M{"ownerId": ownerID, "text": text, "type": kind}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, wordcard.ErrNotFound
		}
		return nil, err
	}
	return doc.card()
}

func (s *Store) CreateCard(ctx context.Context, c *wordcard.Card) error {
	if c == nil {
		return fmt.Errorf("card is nil")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	doc, err := toCardDoc(c)
	if err != nil {
		return err
	}
	_, err = s.cards.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return wordcard.ErrDuplicate
	}
	return err
}

func (s *Store) AddClip(ctx context.Context, cardID string, clip wordcard.VideoClip) error {
	res, err := s.cards.UpdateOne(ctx,
		bson.M{"_id": cardID},
		bson.M{
			"$push": bson.M{"videoInfos": clip},
			"$set":  bson.M{"updatedAt": s.now()},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return wordcard.ErrNotFound
	}
	return nil
}

func (s *Store) ListCards(ctx context.Context, ownerID string, errorBookOnly bool, limit int) ([]*wordcard.Card, error) {
	filter := bson.M{"ownerId": ownerID}
	if errorBookOnly {
		filter["isInErrorBook"] = true
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.cards.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []cardDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	ret := make([]*wordcard.Card, 0, len(docs))
	for i := range docs {
		c, err := docs[i].card()
		if err != nil {
			return nil, err
		}
		ret = append(ret, c)
	}
	return ret, nil
}

func (s *Store) SetErrorBook(ctx context.Context, ownerID, cardID string, inErrorBook bool) error {
	res, err := s.cards.UpdateOne(ctx,
		bson.M{"_id": cardID, "ownerId": ownerID},
		bson.M{"$set": bson.M{"isInErrorBook": inErrorBook, "updatedAt": s.now()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return wordcard.ErrNotFound
	}
	return nil
}
