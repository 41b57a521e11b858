// Package video holds the processed-video record and the storage contract the
// pipeline depends on.
package video

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("video record not found")
	ErrDuplicate = errors.New("video record already exists")
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Subtitle is one time-aligned line. TranslatedText stays empty until translated.
type Subtitle struct {
	ID             string  `json:"id" bson:"id"`
	Start          float64 `json:"start" bson:"start"`
	End            float64 `json:"end" bson:"end"`
	OriginText     string  `json:"originText" bson:"originText"`
	TranslatedText string  `json:"translatedText" bson:"translatedText"`
}

type Meta struct {
	VideoTitle       string `json:"videoTitle" bson:"videoTitle"`
	VideoDescription string `json:"videoDescription" bson:"videoDescription"`
	// VideoDuration is in whole seconds.
	VideoDuration int `json:"videoDuration" bson:"videoDuration"`
}

type Data struct {
	Meta      Meta       `json:"meta" bson:"meta"`
	Subtitles []Subtitle `json:"subtitles" bson:"subtitles"`
}

// Clone returns a deep copy so callers can hand data out without sharing the slice.
func (d Data) Clone() Data {
	out := d
	out.Subtitles = append([]Subtitle(nil), d.Subtitles...)
	return out
}

// Untranslated counts entries with an empty translation.
func (d Data) Untranslated() int {
	n := 0
	for _, s := range d.Subtitles {
		if s.TranslatedText == "" {
			n++
		}
	}
	return n
}

// ProcessedVideo is the durable outcome of processing one video for one owner.
// (OwnerID, VideoID) is unique.
type ProcessedVideo struct {
	ID        string    `json:"id" bson:"_id"`
	OwnerID   string    `json:"ownerId" bson:"ownerId"`
	VideoID   string    `json:"videoId" bson:"videoId"`
	Status    Status    `json:"status" bson:"status"`
	Error     string    `json:"error,omitempty" bson:"error,omitempty"`
	Data      Data      `json:"data" bson:"data"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Repository persists processed videos. Implementations must enforce the
// (owner, video) uniqueness and return ErrDuplicate on a conflicting insert.
type Repository interface {
	// CreateVideo inserts v, assigning ID and timestamps when empty.
	CreateVideo(ctx context.Context, v *ProcessedVideo) error
	FindVideo(ctx context.Context, ownerID, videoID string) (*ProcessedVideo, error)
	GetVideo(ctx context.Context, id string) (*ProcessedVideo, error)
	// ListVideos returns the owner's records newest first.
	ListVideos(ctx context.Context, ownerID string, limit int) ([]*ProcessedVideo, error)
	// SetTranslations overwrites translatedText of subtitles[offset:offset+len(translations)]
	// and nothing else.
	SetTranslations(ctx context.Context, id string, offset int, translations []string) error
	SetStatus(ctx context.Context, id string, status Status, message string) error
}
