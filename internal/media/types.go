// Package media wraps the external tools used to fetch and prepare audio:
// yt-dlp for download and metadata, ffmpeg for transcoding.
package media

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidURL       = errors.New("invalid youtube url")
	ErrVideoPrivate     = errors.New("video is private")
	ErrVideoUnavailable = errors.New("video is unavailable")
	ErrNoAudio          = errors.New("downloaded audio not found")
)

// Metadata describes a video as reported by the platform.
type Metadata struct {
	VideoID     string
	Title       string
	Description string
	Duration    time.Duration
	Thumbnail   string
	IsPrivate   bool
	IsLive      bool
}

// AudioFetcher downloads the audio track of a video into dir. The returned
// path starts with baseName and carries whatever extension the tool chose.
type AudioFetcher interface {
	DownloadAudio(ctx context.Context, videoURL, dir, baseName string) (string, error)
}

type MetadataFetcher interface {
	Metadata(ctx context.Context, videoURL string) (*Metadata, error)
}

// Transcoder converts an audio file to a format the recognizer accepts and
// returns the new path.
type Transcoder interface {
	Transcode(ctx context.Context, src string) (string, error)
}
