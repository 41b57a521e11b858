// Package wordcard stores the analyses a user saves as flashcards together
// with every video clip the text was saved from.
package wordcard

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/MimeLyc/lingotube/internal/apperr"
	"github.com/MimeLyc/lingotube/internal/grammar"
	"github.com/MimeLyc/lingotube/pkg/log"
)

var (
	ErrNotFound  = errors.New("word card not found")
	ErrDuplicate = errors.New("word card already exists")
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// VideoClip is one occurrence of the card's text in a video. Times are seconds.
type VideoClip struct {
	VideoID    string  `json:"videoId" bson:"videoId"`
	VideoTitle string  `json:"videoTitle" bson:"videoTitle"`
	Text       string  `json:"text" bson:"text"`
	StartTime  float64 `json:"startTime" bson:"startTime"`
	EndTime    float64 `json:"endTime" bson:"endTime"`
}

func (c VideoClip) sameSpan(o VideoClip) bool {
	return c.VideoID == o.VideoID && c.StartTime == o.StartTime && c.EndTime == o.EndTime
}

type Card struct {
	ID          string          `json:"id" bson:"_id"`
	OwnerID     string          `json:"ownerId" bson:"ownerId"`
	Text        string          `json:"text" bson:"text"`
	Kind        grammar.Kind    `json:"type" bson:"type"`
	Data        json.RawMessage `json:"data" bson:"data"`
	Clips       []VideoClip     `json:"videoInfos" bson:"videoInfos"`
	InErrorBook bool            `json:"isInErrorBook" bson:"isInErrorBook"`
	CreatedAt   time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt" bson:"updatedAt"`
}

type Repository interface {
	// FindCard looks up by owner and normalised text and kind.
	FindCard(ctx context.Context, ownerID, text string, kind grammar.Kind) (*Card, error)
	CreateCard(ctx context.Context, c *Card) error
	AddClip(ctx context.Context, cardID string, clip VideoClip) error
	ListCards(ctx context.Context, ownerID string, errorBookOnly bool, limit int) ([]*Card, error)
	SetErrorBook(ctx context.Context, ownerID, cardID string, inErrorBook bool) error
}

type Outcome string

const (
	OutcomeCreated    Outcome = "created"
	OutcomeClipAdded  Outcome = "clip_added"
	OutcomeClipExists Outcome = "clip_exists"
)

// Message is the user facing description of an outcome.
func (o Outcome) Message() string {
	switch o {
	case OutcomeCreated:
		return "创建了新的单词卡片"
	case OutcomeClipAdded:
		return "添加了新的视频信息"
	default:
		return "该视频片段已存在"
	}
}

type SaveRequest struct {
	Text string
	Kind string
	Data json.RawMessage
	Clip VideoClip
}

type ListOptions struct {
	ErrorBookOnly bool
	Limit         int
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Save creates a card for (owner, text, kind) or appends the clip to the
// existing one. A clip with the same video and span is not added twice.
func (s *Service) Save(ctx context.Context, ownerID string, req SaveRequest) (*Card, Outcome, error) {
	kind, err := s.validate(req)
	if err != nil {
		return nil, "", err
	}
	text := Normalize(req.Text)
	clip := req.Clip
	clip.Text = Normalize(clip.Text)

	existing, err := s.repo.FindCard(ctx, ownerID, text, kind)
	switch {
	case err == nil:
		return s.addClip(ctx, existing, clip)
	case !errors.Is(err, ErrNotFound):
		return nil, "", err
	}

	now := s.now().UTC()
	card := &Card{
		OwnerID:   ownerID,
		Text:      text,
		Kind:      kind,
		Data:      req.Data,
		Clips:     []VideoClip{clip},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateCard(ctx, card); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// lost a race with a concurrent save of the same text
			existing, findErr := s.repo.FindCard(ctx, ownerID, text, kind)
			if findErr != nil {
				return nil, "", findErr
			}
			return s.addClip(ctx, existing, clip)
		}
		return nil, "", err
	}
	log.Info("Created word card %s for %s", card.ID, ownerID)
	return card, OutcomeCreated, nil
}

func (s *Service) addClip(ctx context.Context, card *Card, clip VideoClip) (*Card, Outcome, error) {
	for _, c := range card.Clips {
		if c.sameSpan(clip) {
			return card, OutcomeClipExists, nil
		}
	}
	if err := s.repo.AddClip(ctx, card.ID, clip); err != nil {
		return nil, "", err
	}
	card.Clips = append(card.Clips, clip)
	return card, OutcomeClipAdded, nil
}

func (s *Service) List(ctx context.Context, ownerID string, opts ListOptions) ([]*Card, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	return s.repo.ListCards(ctx, ownerID, opts.ErrorBookOnly, limit)
}

func (s *Service) SetErrorBook(ctx context.Context, ownerID, cardID string, inErrorBook bool) error {
	err := s.repo.SetErrorBook(ctx, ownerID, cardID, inErrorBook)
	if errors.Is(err, ErrNotFound) {
		return apperr.Wrap(err, apperr.KindNotFound, "单词卡片不存在")
	}
	return err
}

func (s *Service) validate(req SaveRequest) (grammar.Kind, error) {
	if strings.TrimSpace(req.Text) == "" || len(req.Data) == 0 || string(req.Data) == "null" {
		return "", apperr.New(apperr.KindValidation, "缺少必要字段")
	}
	kind, err := grammar.ParseKind(req.Kind)
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindValidation, "无效的卡片类型")
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(req.Data, &obj); err != nil {
		return "", apperr.New(apperr.KindValidation, "data 必须是 JSON 对象")
	}
	c := req.Clip
	if c.VideoID == "" || c.StartTime < 0 || c.EndTime <= c.StartTime {
		return "", apperr.New(apperr.KindValidation, "视频信息不完整")
	}
	return kind, nil
}

// Normalize trims, lower-cases and collapses internal whitespace.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
