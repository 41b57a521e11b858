// Package translate translates subtitle text with a chat model, caching by
// source text and isolating per-item failures inside a batch.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/MimeLyc/lingotube/internal/apperr"
	"github.com/MimeLyc/lingotube/internal/llm"
	"github.com/MimeLyc/lingotube/internal/quota"
	"github.com/MimeLyc/lingotube/internal/video"
	"github.com/MimeLyc/lingotube/pkg/log"
	"github.com/MimeLyc/lingotube/pkg/retry"
)

// FailedText replaces the translation of an item that could not be translated.
const FailedText = "翻译失败"

const (
	DefaultBatchSize   = 5
	defaultQuotaWaits  = 3
	defaultMaxWait     = time.Minute
	defaultConcurrency = 5
	temperature        = 0.3
)

type Completer interface {
	Complete(ctx context.Context, prompt string, opts *llm.ChatCompletionOptions) (string, error)
}

type Limiter interface {
	TryConsume(ctx context.Context, category, operation, identity string) error
}

type Request struct {
	Text             string
	TargetLanguage   language.Tag
	VideoTitle       string
	VideoDescription string
	Identity         string
	// Bulk selects the background budget instead of the interactive one.
	Bulk bool
}

type BatchOptions struct {
	TargetLanguage   language.Tag
	VideoTitle       string
	VideoDescription string
	Identity         string
	Bulk             bool
}

type Service struct {
	llm         Completer
	limiter     Limiter
	policy      retry.Policy
	quotaWaits  int
	maxWait     time.Duration
	concurrency int
	sleep       func(ctx context.Context, d time.Duration) error

	mu    sync.RWMutex
	cache map[string]string
	group singleflight.Group
}

type Option func(*Service)

func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithQuotaWaits bounds how many times a bulk item waits out a rate limit.
func WithQuotaWaits(n int, maxWait time.Duration) Option {
	return func(s *Service) {
		s.quotaWaits = n
		if maxWait > 0 {
			s.maxWait = maxWait
		}
	}
}

func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func NewService(completer Completer, limiter Limiter, opts ...Option) *Service {
	s := &Service{
		llm:         completer,
		limiter:     limiter,
		policy:      retry.DefaultPolicy(llm.IsTransient),
		quotaWaits:  defaultQuotaWaits,
		maxWait:     defaultMaxWait,
		concurrency: defaultConcurrency,
		sleep:       sleepContext,
		cache:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TranslateOne returns the cached translation of req.Text or asks the model.
// The cache key is the source text alone. Concurrent misses collapse only
// among callers with the same identity and quota operation, so each caller is
// charged against and blocked by its own budget.
func (s *Service) TranslateOne(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", nil
	}
	if out, ok := s.cached(req.Text); ok {
		return out, nil
	}

	// The flight outlives any single caller; each caller waits on its own ctx.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(flightKey(req), func() (any, error) {
		if out, ok := s.cached(req.Text); ok {
			return out, nil
		}
		out, err := s.translate(flightCtx, req)
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		s.cache[req.Text] = out
		s.mu.Unlock()
		return out, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			log.Debug("Shared in-flight translation for %q", truncate(req.Text, 40))
		}
		return res.Val.(string), nil
	}
}

func flightKey(req Request) string {
	return quotaOp(req.Bulk) + "|" + req.Identity + "|" + req.Text
}

func quotaOp(bulk bool) string {
	if bulk {
		return quota.OpGPTBatch
	}
	return quota.OpGPT
}

// TranslateBatch returns a copy of subs with TranslatedText filled, in input
// order. An item that fails gets FailedText. An interactive batch aborts on a
// rate limit instead; a bulk batch waits it out a bounded number of times.
func (s *Service) TranslateBatch(ctx context.Context, subs []video.Subtitle, opts BatchOptions) ([]video.Subtitle, error) {
	out := append([]video.Subtitle(nil), subs...)
	if len(out) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range out {
		g.Go(func() error {
			text, err := s.translateItem(gctx, Request{
				Text:             out[i].OriginText,
				TargetLanguage:   opts.TargetLanguage,
				VideoTitle:       opts.VideoTitle,
				VideoDescription: opts.VideoDescription,
				Identity:         opts.Identity,
				Bulk:             opts.Bulk,
			})
			if err == nil {
				out[i].TranslatedText = text
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, limited := rateLimited(err); limited && !opts.Bulk {
				return err
			}
			log.Warn("Translation of %s failed: %v", out[i].ID, err)
			out[i].TranslatedText = FailedText
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) translateItem(ctx context.Context, req Request) (string, error) {
	for attempt := 0; ; attempt++ {
		text, err := s.TranslateOne(ctx, req)
		wait, limited := rateLimited(err)
		if !limited || !req.Bulk || attempt >= s.quotaWaits {
			return text, err
		}
		wait = min(wait, s.maxWait)
		log.Debug("Bulk translation rate limited, waiting %s", wait)
		if err := s.sleep(ctx, wait); err != nil {
			return "", err
		}
	}
}

func (s *Service) translate(ctx context.Context, req Request) (string, error) {
	if s.limiter != nil {
		if err := s.limiter.TryConsume(ctx, quota.CategoryOpenAI, quotaOp(req.Bulk), req.Identity); err != nil {
			return "", err
		}
	}

	opts := llm.NewChatCompletionOptions().
		WithSystemPrompt(systemPrompt(req.TargetLanguage)).
		WithTemperature(temperature)
	reply, err := retry.Do(ctx, s.policy, func(ctx context.Context) (string, error) {
		return s.llm.Complete(ctx, buildPrompt(req), opts)
	})
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", apperr.New(apperr.KindInternal, "empty translation")
	}
	return reply, nil
}

func (s *Service) cached(text string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.cache[text]
	return out, ok
}

// CacheSize reports the number of cached translations.
func (s *Service) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

func languageName(tag language.Tag) string {
	if tag == language.Und {
		tag = language.SimplifiedChinese
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return fmt.Sprintf("%s (%s)", name, tag)
	}
	return tag.String()
}

func systemPrompt(target language.Tag) string {
	return "You are a subtitle translator. Translate the user's text to " + languageName(target) +
		". Reply with the translation only, without quotes or explanations."
}

func buildPrompt(req Request) string {
	var prompt strings.Builder
	if req.VideoTitle != "" || req.VideoDescription != "" {
		prompt.WriteString("The text is a subtitle line from a video. Use the video information to resolve ambiguous words.\n\n")
		if req.VideoTitle != "" {
			prompt.WriteString(fmt.Sprintf("Video Title: %s\n", req.VideoTitle))
		}
		if req.VideoDescription != "" {
			prompt.WriteString(fmt.Sprintf("Video Description: %s\n", truncate(req.VideoDescription, 500)))
		}
		prompt.WriteString("\n")
	}
	prompt.WriteString("Text:\n")
	prompt.WriteString(req.Text)
	return prompt.String()
}

// rateLimited reports whether err is a local quota block or a provider 429,
// with the retry-after hint.
func rateLimited(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	var exceeded *quota.ExceededError
	if errors.As(err, &exceeded) {
		return exceeded.RetryAfter, true
	}
	var provider *llm.RateLimitError
	if errors.As(err, &provider) {
		return provider.RetryAfter, true
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
