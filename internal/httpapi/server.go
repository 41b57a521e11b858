// Package httpapi exposes the pipeline, grammar analysis and word cards over
// HTTP with gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MimeLyc/lingotube/internal/auth"
	"github.com/MimeLyc/lingotube/internal/grammar"
	"github.com/MimeLyc/lingotube/internal/pipeline"
	"github.com/MimeLyc/lingotube/internal/quota"
	"github.com/MimeLyc/lingotube/internal/video"
	"github.com/MimeLyc/lingotube/internal/wordcard"
)

type VideoService interface {
	ProcessVideo(ctx context.Context, req pipeline.ProcessRequest) (*video.Data, error)
	GetVideoStatus(ctx context.Context, ownerID, videoID string) (*video.ProcessedVideo, error)
	ListVideos(ctx context.Context, ownerID string, limit int) ([]*video.ProcessedVideo, error)
	CheckVideo(ctx context.Context, ownerID, videoURL string) (*pipeline.CheckResult, error)
}

type GrammarAnalyzer interface {
	Analyze(ctx context.Context, req grammar.Request) (*grammar.Result, error)
}

type WordCardService interface {
	Save(ctx context.Context, ownerID string, req wordcard.SaveRequest) (*wordcard.Card, wordcard.Outcome, error)
	List(ctx context.Context, ownerID string, opts wordcard.ListOptions) ([]*wordcard.Card, error)
	SetErrorBook(ctx context.Context, ownerID, cardID string, inErrorBook bool) error
}

type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

type Limiter interface {
	TryConsume(ctx context.Context, category, operation, identity string) error
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	videos  VideoService
	grammar GrammarAnalyzer
	cards   WordCardService
	tokens  TokenValidator
	limiter Limiter
	pinger  Pinger

	streamInterval time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration

	engine *gin.Engine
	server *http.Server
}

type Option func(*Server)

// WithLimiter enables the per-route api/* budgets.
func WithLimiter(l Limiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

func WithPinger(p Pinger) Option {
	return func(s *Server) {
		s.pinger = p
	}
}

func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func WithTimeouts(read, write time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
	}
}

func NewServer(videos VideoService, analyzer GrammarAnalyzer, cards WordCardService, tokens TokenValidator, opts ...Option) *Server {
	s := &Server{
		videos:         videos,
		grammar:        analyzer,
		cards:          cards,
		tokens:         tokens,
		streamInterval: time.Second,
		engine:         gin.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	registerValidators()
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.engine.Use(recoverer(), requestLogger())
	s.engine.GET("/healthz", s.handleHealth)

	api := s.engine.Group("/api", s.requireAuth())

	videos := api.Group("/videos")
	videos.POST("/check", s.rateLimit(quota.OpResource), s.handleCheckVideo)
	videos.POST("/process", s.rateLimit(quota.OpResource), s.handleProcessVideo)
	videos.GET("", s.rateLimit(quota.OpNormal), s.handleListVideos)
	videos.GET("/:videoId", s.rateLimit(quota.OpNormal), s.handleGetVideo)
	videos.GET("/:videoId/events", s.rateLimit(quota.OpNormal), s.handleVideoEvents)
	videos.GET("/:videoId/subtitles.srt", s.rateLimit(quota.OpNormal), s.handleExportSRT)

	api.POST("/grammar/analyze", s.rateLimit(quota.OpSensitive), s.handleAnalyze)

	cards := api.Group("/wordcards", s.rateLimit(quota.OpNormal))
	cards.POST("", s.handleSaveCard)
	cards.GET("", s.handleListCards)
	cards.PATCH("/:id/error-book", s.handleSetErrorBook)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
