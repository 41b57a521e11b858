package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"

	"github.com/MimeLyc/lingotube/pkg/icron"
	"github.com/MimeLyc/lingotube/pkg/log"
)

// Config holds all application configuration.
// Values come from the environment (optionally seeded from a .env file) with sensible defaults.
//
// Environment Variables:
// Server:
// - HTTP_ADDR: listen address (default: :8080)
// - HTTP_READ_TIMEOUT / HTTP_WRITE_TIMEOUT: seconds (default: 30 / 120)
// - SHUTDOWN_TIMEOUT: seconds to drain on shutdown (default: 15)
//
// LLM (OpenAI compatible, used for translation, grammar analysis and Whisper):
// - LLM_API_KEY: API key (required)
// - LLM_API_URL: endpoint base URL (default: https://api.openai.com/v1)
// - LLM_MODEL: chat model (default: gpt-3.5-turbo)
// - LLM_MAX_TOKENS, LLM_TEMPERATURE, LLM_TIMEOUT, LLM_SITE_URL, LLM_APP_NAME
// - WHISPER_MODEL: speech recognition model (default: whisper-1)
// - WHISPER_TIMEOUT: seconds (default: 300)
//
// Storage:
// - STORAGE_DRIVER: sqlite or mongo (default: sqlite)
// - DATA_DIR: directory for the sqlite database (default: /app/data)
// - MONGO_URI, MONGO_DATABASE (default database: lingotube)
//
// Quota:
// - QUOTA_BACKEND: memory or redis (default: memory)
// - REDIS_ADDR, REDIS_PASSWORD, REDIS_DB
//
// Auth:
// - JWT_SECRET: HS256 secret shared with the token issuer (required)
//
// Pipeline:
// - TEMP_DIR: audio artifact directory (default: os.TempDir()/lingotube)
// - TRANSLATE_BATCH_SIZE (default: 5), TARGET_LANGUAGE (default: zh)
// - MAX_VIDEO_DURATION: seconds (default: 600)
// - PIPELINE_WORKERS: background translation workers (default: 2)
// - YTDLP_PATH, FFMPEG_PATH
//
// Cleanup:
// - CLEANUP_CRON (default: */10 * * * *), CLEANUP_MAX_AGE: seconds (default: 3600)
//
// Logging:
// - LOG_LEVEL (default: info), LOG_FILE (optional)
type Config struct {
	Server   ServerConfig   `json:"server"`
	LLM      LLMConfig      `json:"llm"`
	Whisper  WhisperConfig  `json:"whisper"`
	Storage  StorageConfig  `json:"storage"`
	Quota    QuotaConfig    `json:"quota"`
	Redis    RedisConfig    `json:"redis"`
	Auth     AuthConfig     `json:"-"`
	Pipeline PipelineConfig `json:"pipeline"`
	Cleanup  CleanupConfig  `json:"cleanup"`
	Log      LogConfig      `json:"log"`
}

type ServerConfig struct {
	Addr            string        `json:"addr"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// LLMConfig holds the configuration for the OpenAI compatible client
type LLMConfig struct {
	APIKey      string  `json:"-"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`
}

type WhisperConfig struct {
	Model   string `json:"model"`
	Timeout int    `json:"timeout"`
}

const (
	StorageSQLite = "sqlite"
	StorageMongo  = "mongo"

	QuotaMemory = "memory"
	QuotaRedis  = "redis"
)

type StorageConfig struct {
	Driver        string `json:"driver"`
	DataDir       string `json:"data_dir"`
	MongoURI      string `json:"-"`
	MongoDatabase string `json:"mongo_database"`
}

type QuotaConfig struct {
	Backend string `json:"backend"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type AuthConfig struct {
	JWTSecret string
}

type PipelineConfig struct {
	TempDir          string        `json:"temp_dir"`
	BatchSize        int           `json:"batch_size"`
	TargetLanguage   language.Tag  `json:"target_language"`
	MaxVideoDuration time.Duration `json:"max_video_duration"`
	Workers          int           `json:"workers"`
	ListLimit        int           `json:"list_limit"`
	YtDlpPath        string        `json:"ytdlp_path"`
	FfmpegPath       string        `json:"ffmpeg_path"`
}

type CleanupConfig struct {
	CronExpr string        `json:"cron_expr"`
	MaxAge   time.Duration `json:"max_age"`
}

type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// DBPath returns the sqlite database file path.
func (c Config) DBPath() string {
	return filepath.Join(c.Storage.DataDir, "lingotube.db")
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	_ = godotenv.Load()

	targetLanguage, err := language.Parse(getEnvString("TARGET_LANGUAGE", "zh"))
	if err != nil {
		return nil, fmt.Errorf("invalid TARGET_LANGUAGE: %w", err)
	}

	config := &Config{
		Server: ServerConfig{
			Addr:            getEnvString("HTTP_ADDR", ":8080"),
			ReadTimeout:     getEnvSeconds("HTTP_READ_TIMEOUT", 30),
			WriteTimeout:    getEnvSeconds("HTTP_WRITE_TIMEOUT", 120),
			ShutdownTimeout: getEnvSeconds("SHUTDOWN_TIMEOUT", 15),
		},
		LLM: LLMConfig{
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", "https://api.openai.com/v1"),
			Model:       getEnvString("LLM_MODEL", "gpt-3.5-turbo"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 2000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
			Timeout:     getEnvInt("LLM_TIMEOUT", 60),
			SiteURL:     getEnvString("LLM_SITE_URL", ""),
			AppName:     getEnvString("LLM_APP_NAME", ""),
		},
		Whisper: WhisperConfig{
			Model:   getEnvString("WHISPER_MODEL", "whisper-1"),
			Timeout: getEnvInt("WHISPER_TIMEOUT", 300),
		},
		Storage: StorageConfig{
			Driver:        strings.ToLower(getEnvString("STORAGE_DRIVER", StorageSQLite)),
			DataDir:       getEnvString("DATA_DIR", "/app/data"),
			MongoURI:      getEnvString("MONGO_URI", ""),
			MongoDatabase: getEnvString("MONGO_DATABASE", "lingotube"),
		},
		Quota: QuotaConfig{
			Backend: strings.ToLower(getEnvString("QUOTA_BACKEND", QuotaMemory)),
		},
		Redis: RedisConfig{
			Addr:     getEnvString("REDIS_ADDR", "localhost:6379"),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret: getEnvString("JWT_SECRET", ""),
		},
		Pipeline: PipelineConfig{
			TempDir:          getEnvString("TEMP_DIR", filepath.Join(os.TempDir(), "lingotube")),
			BatchSize:        getEnvInt("TRANSLATE_BATCH_SIZE", 5),
			TargetLanguage:   targetLanguage,
			MaxVideoDuration: getEnvSeconds("MAX_VIDEO_DURATION", 600),
			Workers:          getEnvInt("PIPELINE_WORKERS", 2),
			ListLimit:        getEnvInt("VIDEO_LIST_LIMIT", 20),
			YtDlpPath:        getEnvString("YTDLP_PATH", "yt-dlp"),
			FfmpegPath:       getEnvString("FFMPEG_PATH", "ffmpeg"),
		},
		Cleanup: CleanupConfig{
			CronExpr: getEnvString("CLEANUP_CRON", "*/10 * * * *"),
			MaxAge:   getEnvSeconds("CLEANUP_MAX_AGE", 3600),
		},
		Log: LogConfig{
			Level: getEnvString("LOG_LEVEL", "info"),
			File:  getEnvString("LOG_FILE", ""),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Info("Config: %+v", *config)
	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.Storage.Driver {
	case StorageSQLite:
	case StorageMongo:
		if c.Storage.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when STORAGE_DRIVER=mongo")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}
	switch c.Quota.Backend {
	case QuotaMemory, QuotaRedis:
	default:
		return fmt.Errorf("unknown QUOTA_BACKEND %q", c.Quota.Backend)
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("TRANSLATE_BATCH_SIZE must be greater than 0")
	}
	if _, err := icron.Parse(c.Cleanup.CronExpr); err != nil {
		return fmt.Errorf("invalid CLEANUP_CRON: %w", err)
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}
