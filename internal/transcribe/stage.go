// Package transcribe turns a video URL into English subtitles: download the
// audio, transcode it when needed, recognise speech, validate the language.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"

	"github.com/MimeLyc/lingotube/internal/apperr"
	"github.com/MimeLyc/lingotube/internal/llm"
	"github.com/MimeLyc/lingotube/internal/media"
	"github.com/MimeLyc/lingotube/internal/quota"
	"github.com/MimeLyc/lingotube/internal/video"
	"github.com/MimeLyc/lingotube/pkg/file"
	"github.com/MimeLyc/lingotube/pkg/log"
)

// ErrNotEnglish is matched by every *LanguageError.
var ErrNotEnglish = errors.New("video language is not english")

// LanguageError reports the language the recognizer detected.
type LanguageError struct {
	Detected string
}

func (e *LanguageError) Error() string {
	return fmt.Sprintf("检测到视频语言为 %s，请上传英文视频", e.Detected)
}

func (e *LanguageError) Is(target error) bool {
	return target == ErrNotEnglish
}

// Recognizer converts an audio file into time-aligned text.
type Recognizer interface {
	Transcribe(ctx context.Context, audioPath string) (*llm.Transcription, error)
}

type Limiter interface {
	TryConsume(ctx context.Context, category, operation, identity string) error
}

type Request struct {
	VideoURL      string
	Identity      string
	CorrelationID string
}

type Stage struct {
	fetcher    media.AudioFetcher
	transcoder media.Transcoder
	recognizer Recognizer
	limiter    Limiter
	tempDir    string
	now        func() time.Time
}

func NewStage(fetcher media.AudioFetcher, transcoder media.Transcoder, recognizer Recognizer, limiter Limiter, tempDir string) *Stage {
	return &Stage{
		fetcher:    fetcher,
		transcoder: transcoder,
		recognizer: recognizer,
		limiter:    limiter,
		tempDir:    tempDir,
		now:        time.Now,
	}
}

// Transcribe returns the subtitles of req.VideoURL. Every audio file created
// along the way is removed before it returns.
func (s *Stage) Transcribe(ctx context.Context, req Request) ([]video.Subtitle, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	logger := log.With("owner", req.Identity, "correlation", req.CorrelationID, "stage", "transcribe")

	var artifacts []string
	defer func() {
		for _, path := range artifacts {
			if err := file.RemoveQuietly(path); err != nil {
				logger.Warn("Failed to remove %s: %v", path, err)
			}
		}
	}()

	baseName := artifactName(req.Identity, req.CorrelationID, s.now())
	logger.Info("Downloading audio for %s", req.VideoURL)
	audio, err := s.fetcher.DownloadAudio(ctx, req.VideoURL, s.tempDir, baseName)
	if err != nil {
		return nil, err
	}
	artifacts = append(artifacts, audio)

	if media.NeedsTranscode(audio) {
		logger.Debug("Transcoding %s", audio)
		converted, err := s.transcoder.Transcode(ctx, audio)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, converted)
		audio = converted
	}

	if s.limiter != nil {
		if err := s.limiter.TryConsume(ctx, quota.CategoryOpenAI, quota.OpWhisper, req.Identity); err != nil {
			return nil, err
		}
	}
	result, err := s.recognizer.Transcribe(ctx, audio)
	if err != nil {
		if llm.IsTransient(err) {
			return nil, apperr.Wrap(err, apperr.KindTransient, "speech recognition")
		}
		return nil, err
	}

	if err := checkEnglish(result); err != nil {
		logger.Warn("Rejected transcript: %v", err)
		return nil, apperr.Wrap(err, apperr.KindBusiness, err.Error())
	}

	subs := toSubtitles(result.Segments)
	logger.Info("Transcribed %d subtitles", len(subs))
	return subs, nil
}

// artifactName is unique per (identity, correlation, millisecond).
func artifactName(identity, correlationID string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%d", sanitize(identity), sanitize(correlationID), now.UnixMilli())
}

func sanitize(s string) string {
	if s == "" {
		return "anon"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '-'
		}
	}, s)
}

func checkEnglish(t *llm.Transcription) error {
	lang := strings.ToLower(strings.TrimSpace(t.Language))
	switch lang {
	case "english", "en":
		return nil
	case "":
		info := whatlanggo.Detect(t.Text)
		if info.Lang == whatlanggo.Eng {
			return nil
		}
		return &LanguageError{Detected: info.Lang.String()}
	default:
		return &LanguageError{Detected: t.Language}
	}
}

func toSubtitles(segments []llm.Segment) []video.Subtitle {
	subs := make([]video.Subtitle, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		subs = append(subs, video.Subtitle{
			ID:         fmt.Sprintf("subtitle_%d", len(subs)+1),
			Start:      seg.Start,
			End:        seg.End,
			OriginText: text,
		})
	}
	return subs
}
