package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/text/language"

	"github.com/MimeLyc/lingotube/internal/apperr"
	"github.com/MimeLyc/lingotube/internal/jobs"
	"github.com/MimeLyc/lingotube/internal/translate"
	"github.com/MimeLyc/lingotube/internal/video"
	"github.com/MimeLyc/lingotube/pkg/log"
)

const msgTranslationFailed = "字幕翻译失败"

// RunJob translates the subtitles a job is responsible for, one batch at a
// time, and marks the record completed. Any failure, including a panic, marks
// the record as error and keeps what was already written. A cancelled context
// leaves the record untouched so the job can resume.
func (p *Pipeline) RunJob(ctx context.Context, job *jobs.Job) error {
	payload := job.Payload
	logger := log.With("job", job.ID, "record", payload.RecordID, "owner", payload.OwnerID, "video", payload.VideoID)

	rec, err := p.repo.GetVideo(ctx, payload.RecordID)
	if err != nil {
		if errors.Is(err, video.ErrNotFound) {
			logger.Warn("Record is gone, dropping job")
			return nil
		}
		return err
	}
	if rec.Status.Terminal() {
		logger.Info("Record already %s", rec.Status)
		return nil
	}

	target := p.cfg.TargetLanguage
	if payload.TargetLanguage != "" {
		if tag, err := language.Parse(payload.TargetLanguage); err == nil {
			target = tag
		}
	}

	err = apperr.SafeExecute(func() error {
		return p.translateRemainder(ctx, rec, payload.StartIndex, target)
	})
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			logger.Info("Interrupted, will resume")
			return err
		}
		logger.Error("Background translation failed: %v", err)
		if serr := p.repo.SetStatus(context.WithoutCancel(ctx), rec.ID, video.StatusError, apperr.UserMessage(err, msgTranslationFailed)); serr != nil {
			logger.Error("Failed to record error status: %v", serr)
		}
		return err
	}

	if err := p.repo.SetStatus(ctx, rec.ID, video.StatusCompleted, ""); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	logger.Info("Completed %d subtitles", len(rec.Data.Subtitles))
	return nil
}

// translateRemainder walks subtitles[start:] in batches. Entries that already
// carry a translation are written back unchanged, so a resumed job only pays
// for what is missing.
func (p *Pipeline) translateRemainder(ctx context.Context, rec *video.ProcessedVideo, start int, target language.Tag) error {
	subs := rec.Data.Subtitles
	opts := translate.BatchOptions{
		TargetLanguage:   target,
		VideoTitle:       rec.Data.Meta.VideoTitle,
		VideoDescription: rec.Data.Meta.VideoDescription,
		Identity:         rec.OwnerID,
		Bulk:             true,
	}

	for offset := max(start, 0); offset < len(subs); offset += p.cfg.BatchSize {
		end := min(offset+p.cfg.BatchSize, len(subs))
		batch := subs[offset:end]

		var pending []video.Subtitle
		var slots []int
		for i, s := range batch {
			if s.TranslatedText == "" {
				pending = append(pending, s)
				slots = append(slots, i)
			}
		}
		if len(pending) == 0 {
			continue
		}

		translated, err := p.translator.TranslateBatch(ctx, pending, opts)
		if err != nil {
			return fmt.Errorf("translate subtitles %d-%d: %w", offset+1, end, err)
		}
		if len(translated) != len(pending) {
			return fmt.Errorf("translate subtitles %d-%d: got %d results for %d inputs", offset+1, end, len(translated), len(pending))
		}

		texts := make([]string, len(batch))
		for i, s := range batch {
			texts[i] = s.TranslatedText
		}
		for i, slot := range slots {
			texts[slot] = translated[i].TranslatedText
		}
		if err := p.repo.SetTranslations(ctx, rec.ID, offset, texts); err != nil {
			return fmt.Errorf("save subtitles %d-%d: %w", offset+1, end, err)
		}
		log.Debug("Saved subtitles %d-%d of %d for %s", offset+1, end, len(subs), rec.ID)
	}
	return nil
}
