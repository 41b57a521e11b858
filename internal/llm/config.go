package llm

import (
	"fmt"
)

// Config holds the configuration for the OpenAI compatible client.
// The same endpoint serves chat completions and audio transcriptions.
//
// Fields map to the LLM_* and WHISPER_* environment variables read by internal/config.
type Config struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`

	// WhisperModel is the speech recognition model (default whisper-1).
	WhisperModel string `json:"whisper_model"`
	// WhisperTimeout bounds an audio upload in seconds. Falls back to Timeout.
	WhisperTimeout int `json:"whisper_timeout"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be greater than 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// GetHeaders returns the headers shared by every request.
// Content-Type is set per request since audio uploads are multipart.
func (c *Config) GetHeaders() map[string]string {
	headers := map[string]string{
		"Authorization": "Bearer " + c.APIKey,
	}

	if c.SiteURL != "" {
		headers["HTTP-Referer"] = c.SiteURL
	}
	if c.AppName != "" {
		headers["X-Title"] = c.AppName
	}

	return headers
}

func (c *Config) whisperModel() string {
	if c.WhisperModel != "" {
		return c.WhisperModel
	}
	return "whisper-1"
}

func (c *Config) whisperTimeout() int {
	if c.WhisperTimeout > 0 {
		return c.WhisperTimeout
	}
	return c.Timeout
}
