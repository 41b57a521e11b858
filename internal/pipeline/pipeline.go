// Package pipeline turns a video URL into a persisted, incrementally
// translated subtitle record.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"github.com/MimeLyc/lingotube/internal/apperr"
	"github.com/MimeLyc/lingotube/internal/jobs"
	"github.com/MimeLyc/lingotube/internal/media"
	"github.com/MimeLyc/lingotube/internal/transcribe"
	"github.com/MimeLyc/lingotube/internal/translate"
	"github.com/MimeLyc/lingotube/internal/video"
	"github.com/MimeLyc/lingotube/pkg/log"
	"github.com/MimeLyc/lingotube/pkg/retry"
)

const (
	defaultListLimit   = 20
	defaultMaxDuration = 600 * time.Second
)

const (
	msgInvalidURL  = "无效的 YouTube 链接"
	msgTooLong     = "视频超过10分钟"
	msgPrivate     = "视频必须是公开的"
	msgLive        = "不支持直播视频"
	msgUnavailable = "视频不存在或已被删除"
	msgExists      = "该视频已经添加过了"
	msgNotFound    = "视频不存在"
)

type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) ([]video.Subtitle, error)
}

type Translator interface {
	TranslateBatch(ctx context.Context, subs []video.Subtitle, opts translate.BatchOptions) ([]video.Subtitle, error)
}

type JobQueue interface {
	Enqueue(req jobs.EnqueueRequest) (*jobs.Job, bool)
}

type Config struct {
	BatchSize      int
	MaxDuration    time.Duration
	ListLimit      int
	TargetLanguage language.Tag
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = translate.DefaultBatchSize
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = defaultMaxDuration
	}
	if c.ListLimit <= 0 {
		c.ListLimit = defaultListLimit
	}
	if c.TargetLanguage == language.Und {
		c.TargetLanguage = language.SimplifiedChinese
	}
	return c
}

type ProcessRequest struct {
	VideoURL string
	// TargetLanguage falls back to the configured default when undefined.
	TargetLanguage language.Tag
	OwnerID        string
}

// CheckResult describes a video that passed the pre-flight checks.
type CheckResult struct {
	VideoID   string `json:"videoId"`
	Title     string `json:"title"`
	Duration  int    `json:"duration"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

type Pipeline struct {
	repo        video.Repository
	transcriber Transcriber
	metadata    media.MetadataFetcher
	translator  Translator
	queue       JobQueue
	cfg         Config
	metaPolicy  retry.Policy
	group       singleflight.Group
}

func New(
	repo video.Repository,
	transcriber Transcriber,
	metadata media.MetadataFetcher,
	translator Translator,
	queue JobQueue,
	cfg Config,
) *Pipeline {
	return &Pipeline{
		repo:        repo,
		transcriber: transcriber,
		metadata:    metadata,
		translator:  translator,
		queue:       queue,
		cfg:         cfg.withDefaults(),
		metaPolicy: retry.DefaultPolicy(func(err error) bool {
			return apperr.IsKind(err, apperr.KindTransient)
		}),
	}
}

// ProcessVideo returns the stored data when the owner already has a record for
// the video. Otherwise it transcribes, translates the first batch, persists a
// processing record and schedules the remainder in the background.
func (p *Pipeline) ProcessVideo(ctx context.Context, req ProcessRequest) (*video.Data, error) {
	videoID, err := media.ParseVideoID(req.VideoURL)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, msgInvalidURL)
	}
	if req.TargetLanguage == language.Und {
		req.TargetLanguage = p.cfg.TargetLanguage
	}

	existing, err := p.repo.FindVideo(ctx, req.OwnerID, videoID)
	if err == nil {
		data := existing.Data.Clone()
		return &data, nil
	}
	if !errors.Is(err, video.ErrNotFound) {
		return nil, apperr.Wrap(err, apperr.KindInternal, "find video")
	}

	// The first caller's work must not be abandoned when its client goes away,
	// since later callers share it.
	v, err, _ := p.group.Do(req.OwnerID+"/"+videoID, func() (any, error) {
		return p.process(context.WithoutCancel(ctx), req, videoID)
	})
	if err != nil {
		return nil, err
	}
	data := v.(*video.ProcessedVideo).Data.Clone()
	return &data, nil
}

func (p *Pipeline) process(ctx context.Context, req ProcessRequest, videoID string) (*video.ProcessedVideo, error) {
	if existing, err := p.repo.FindVideo(ctx, req.OwnerID, videoID); err == nil {
		return existing, nil
	}

	correlationID := uuid.NewString()
	logger := log.With("owner", req.OwnerID, "video", videoID, "correlation", correlationID)
	logger.Info("Processing video %s", req.VideoURL)

	subs, err := p.transcriber.Transcribe(ctx, transcribe.Request{
		VideoURL:      req.VideoURL,
		Identity:      req.OwnerID,
		CorrelationID: correlationID,
	})
	if err != nil {
		logger.Error("Transcription failed: %v", err)
		return nil, err
	}

	meta, err := p.fetchMetadata(ctx, req.VideoURL)
	if err != nil {
		logger.Error("Metadata failed: %v", err)
		return nil, err
	}
	if err := p.admit(meta); err != nil {
		return nil, err
	}

	n := min(p.cfg.BatchSize, len(subs))
	first, err := p.translator.TranslateBatch(ctx, subs[:n], translate.BatchOptions{
		TargetLanguage:   req.TargetLanguage,
		VideoTitle:       meta.Title,
		VideoDescription: meta.Description,
		Identity:         req.OwnerID,
	})
	if err != nil {
		logger.Error("First batch translation failed: %v", err)
		return nil, err
	}

	all := make([]video.Subtitle, 0, len(subs))
	all = append(all, first...)
	all = append(all, subs[n:]...)

	record := &video.ProcessedVideo{
		OwnerID: req.OwnerID,
		VideoID: videoID,
		Status:  video.StatusProcessing,
		Data: video.Data{
			Meta: video.Meta{
				VideoTitle:       meta.Title,
				VideoDescription: meta.Description,
				VideoDuration:    int(meta.Duration / time.Second),
			},
			Subtitles: all,
		},
	}
	if n == len(all) {
		record.Status = video.StatusCompleted
	}

	if err := p.repo.CreateVideo(ctx, record); err != nil {
		if errors.Is(err, video.ErrDuplicate) {
			logger.Info("Record created concurrently, returning stored copy")
			return p.repo.FindVideo(ctx, req.OwnerID, videoID)
		}
		return nil, apperr.Wrap(err, apperr.KindInternal, "create video record")
	}

	if record.Status == video.StatusProcessing {
		job, created := p.queue.Enqueue(jobs.EnqueueRequest{
			Source:    jobs.SourcePipeline,
			DedupeKey: dedupeKey(record.ID),
			Payload: jobs.JobPayload{
				RecordID:       record.ID,
				OwnerID:        req.OwnerID,
				VideoID:        videoID,
				TargetLanguage: req.TargetLanguage.String(),
				StartIndex:     n,
			},
		})
		logger.Info("Scheduled %d remaining subtitles as %s (new=%t)", len(all)-n, job.ID, created)
	}
	return record, nil
}

// admit rejects videos the service does not handle.
func (p *Pipeline) admit(meta *media.Metadata) error {
	switch {
	case meta.IsPrivate:
		return apperr.Wrap(media.ErrVideoPrivate, apperr.KindBusiness, msgPrivate)
	case meta.IsLive:
		return apperr.New(apperr.KindBusiness, msgLive)
	case meta.Duration > p.cfg.MaxDuration:
		return apperr.New(apperr.KindBusiness, msgTooLong).WithContext("duration", meta.Duration)
	}
	return nil
}

func (p *Pipeline) fetchMetadata(ctx context.Context, videoURL string) (*media.Metadata, error) {
	return retry.Do(ctx, p.metaPolicy, func(ctx context.Context) (*media.Metadata, error) {
		return p.metadata.Metadata(ctx, videoURL)
	})
}

// GetVideoStatus returns the owner's record without triggering any processing.
func (p *Pipeline) GetVideoStatus(ctx context.Context, ownerID, videoID string) (*video.ProcessedVideo, error) {
	rec, err := p.repo.FindVideo(ctx, ownerID, videoID)
	if err != nil {
		if errors.Is(err, video.ErrNotFound) {
			return nil, apperr.Wrap(err, apperr.KindNotFound, msgNotFound)
		}
		return nil, apperr.Wrap(err, apperr.KindInternal, "find video")
	}
	return rec, nil
}

// ListVideos returns the owner's records newest first. Limit is clamped to
// the configured page size.
func (p *Pipeline) ListVideos(ctx context.Context, ownerID string, limit int) ([]*video.ProcessedVideo, error) {
	if limit <= 0 || limit > p.cfg.ListLimit {
		limit = p.cfg.ListLimit
	}
	recs, err := p.repo.ListVideos(ctx, ownerID, limit)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "list videos")
	}
	return recs, nil
}

// CheckVideo runs the pre-flight checks a client performs before processing.
func (p *Pipeline) CheckVideo(ctx context.Context, ownerID, videoURL string) (*CheckResult, error) {
	videoID, err := media.ParseVideoID(videoURL)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, msgInvalidURL)
	}

	meta, err := p.fetchMetadata(ctx, videoURL)
	if err != nil {
		if errors.Is(err, media.ErrVideoUnavailable) {
			return nil, apperr.Wrap(err, apperr.KindNotFound, msgUnavailable)
		}
		return nil, err
	}
	if meta.Duration > p.cfg.MaxDuration {
		return nil, apperr.New(apperr.KindBusiness, msgTooLong)
	}

	_, err = p.repo.FindVideo(ctx, ownerID, videoID)
	if err == nil {
		return nil, apperr.New(apperr.KindBusiness, msgExists)
	}
	if !errors.Is(err, video.ErrNotFound) {
		return nil, apperr.Wrap(err, apperr.KindInternal, "find video")
	}
	if err := p.admit(meta); err != nil {
		return nil, err
	}

	return &CheckResult{
		VideoID:   videoID,
		Title:     meta.Title,
		Duration:  int(meta.Duration / time.Second),
		Thumbnail: meta.Thumbnail,
	}, nil
}

func dedupeKey(recordID string) string {
	return "video:" + recordID
}
