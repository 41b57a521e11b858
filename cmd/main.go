package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/MimeLyc/lingotube/internal/auth"
	"github.com/MimeLyc/lingotube/internal/cleanup"
	"github.com/MimeLyc/lingotube/internal/config"
	"github.com/MimeLyc/lingotube/internal/grammar"
	"github.com/MimeLyc/lingotube/internal/httpapi"
	"github.com/MimeLyc/lingotube/internal/jobs"
	"github.com/MimeLyc/lingotube/internal/llm"
	"github.com/MimeLyc/lingotube/internal/media"
	"github.com/MimeLyc/lingotube/internal/persistence"
	"github.com/MimeLyc/lingotube/internal/persistence/mongostore"
	"github.com/MimeLyc/lingotube/internal/pipeline"
	"github.com/MimeLyc/lingotube/internal/quota"
	"github.com/MimeLyc/lingotube/internal/transcribe"
	"github.com/MimeLyc/lingotube/internal/translate"
	"github.com/MimeLyc/lingotube/internal/video"
	"github.com/MimeLyc/lingotube/internal/wordcard"
	"github.com/MimeLyc/lingotube/pkg/icron"
	"github.com/MimeLyc/lingotube/pkg/log"
)

// recordStore holds processed videos and word cards.
type recordStore interface {
	video.Repository
	wordcard.Repository
	Ping(ctx context.Context) error
	Close() error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

type backgroundQueue interface {
	Start(exec jobs.Executor)
	Stop()
}

type app struct {
	cron     *cron.Cron
	queue    *jobs.Queue
	pipeline *pipeline.Pipeline
	server   *httpapi.Server
	closers  []func() error
}

func main() {
	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	closeLog, err := setupLogging(cfg.Log)
	if err != nil {
		log.Fatal("Failed to set up logging: %v", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to start: %v", err)
	}
	defer a.close()

	if err := runWithComponents(ctx, cfg, a.pipeline.RunJob, a.cron, a.queue, a.server); err != nil {
		log.Error("Server stopped: %v", err)
	}
}

func setupLogging(cfg config.LogConfig) (func(), error) {
	level := log.ParseLevel(cfg.Level)
	if cfg.File == "" {
		log.InitLogger(level)
		return func() {}, nil
	}
	fl, err := log.NewFileLogger(cfg.File, level)
	if err != nil {
		return nil, err
	}
	log.SetLogger(fl.Logger)
	return func() { _ = fl.Close() }, nil
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	sqlite, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, sqlite.Close)

	var records recordStore = sqlite
	if cfg.Storage.Driver == config.StorageMongo {
		ms, err := mongostore.Open(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDatabase)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, ms.Close)
		records = ms
	}
	log.Info("Using %s for videos and word cards", cfg.Storage.Driver)

	backend, err := quotaBackend(ctx, cfg, a)
	if err != nil {
		a.close()
		return nil, err
	}
	limiter := quota.NewLimiter(backend, quota.DefaultPolicies())

	llmClient, err := llm.NewClient(&llm.Config{
		APIKey:         cfg.LLM.APIKey,
		APIURL:         cfg.LLM.APIURL,
		Model:          cfg.LLM.Model,
		MaxTokens:      cfg.LLM.MaxTokens,
		Temperature:    cfg.LLM.Temperature,
		Timeout:        cfg.LLM.Timeout,
		SiteURL:        cfg.LLM.SiteURL,
		AppName:        cfg.LLM.AppName,
		WhisperModel:   cfg.Whisper.Model,
		WhisperTimeout: cfg.Whisper.Timeout,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	ytdlp := media.NewYtDlp(cfg.Pipeline.YtDlpPath)
	stage := transcribe.NewStage(ytdlp, media.NewFfmpeg(cfg.Pipeline.FfmpegPath), llmClient, limiter, cfg.Pipeline.TempDir)
	translator := translate.NewService(llmClient, limiter)

	a.queue = jobs.NewQueue(cfg.Pipeline.Workers, sqlite)
	a.pipeline = pipeline.New(records, stage, ytdlp, translator, a.queue, pipeline.Config{
		BatchSize:      cfg.Pipeline.BatchSize,
		MaxDuration:    cfg.Pipeline.MaxVideoDuration,
		ListLimit:      cfg.Pipeline.ListLimit,
		TargetLanguage: cfg.Pipeline.TargetLanguage,
	})

	a.cron = icron.New()
	if _, err := cleanup.Schedule(a.cron, cfg.Cleanup.CronExpr, cleanup.NewSweeper(cfg.Pipeline.TempDir, cfg.Cleanup.MaxAge)); err != nil {
		a.close()
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	a.server = httpapi.NewServer(
		a.pipeline,
		grammar.NewAnalyzer(llmClient, limiter),
		wordcard.NewService(records),
		auth.NewService(cfg.Auth.JWTSecret, 0),
		httpapi.WithLimiter(limiter),
		httpapi.WithPinger(records),
		httpapi.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
	)
	return a, nil
}

func quotaBackend(ctx context.Context, cfg *config.Config, a *app) (quota.Backend, error) {
	if cfg.Quota.Backend != config.QuotaRedis {
		return quota.NewMemoryBackend(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return quota.NewRedisBackend(client, "lingotube:quota"), nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn("Close failed: %v", err)
		}
	}
	a.closers = nil
}

// runWithComponents serves until ctx is cancelled or the server fails, then
// stops the HTTP server, the cron engine and the background queue in that order.
func runWithComponents(ctx context.Context, cfg *config.Config, exec jobs.Executor, cronEngine cronEngine, queue backgroundQueue, srv httpServer) error {
	queue.Start(exec)
	cronEngine.Start()

	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case serveErr = <-errCh:
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	<-cronEngine.Stop().Done()
	queue.Stop()
	return serveErr
}
