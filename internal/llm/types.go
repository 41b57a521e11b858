package llm

import (
	"fmt"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
)

// Message is one chat turn; Role is system, user or assistant.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ResponseFormat asks the provider for a JSON object reply.
type ResponseFormat struct {
	Type string `json:"type"`
}

type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
	Error   *Error   `json:"error,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Error is the provider's error body.
type Error struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error: %s (type: %s, code: %s)", e.Message, e.Type, e.Code)
}

// Transcription is the verbose_json reply of the audio transcription endpoint.
type Transcription struct {
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Error    *Error    `json:"error,omitempty"`
}

// Segment is one time-aligned chunk of recognised speech, times in seconds.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// audioFile is an upload read into memory.
type audioFile struct {
	name        string
	contentType string
	content     []byte
}

// ChatCompletionOptions tunes one completion. Zero MaxTokens and a negative
// Temperature fall back to the client configuration.
type ChatCompletionOptions struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	JSONMode     bool
}

func NewChatCompletionOptions() *ChatCompletionOptions {
	return &ChatCompletionOptions{Temperature: -1}
}

func (o *ChatCompletionOptions) WithSystemPrompt(prompt string) *ChatCompletionOptions {
	o.SystemPrompt = prompt
	return o
}

func (o *ChatCompletionOptions) WithTemperature(temperature float64) *ChatCompletionOptions {
	o.Temperature = temperature
	return o
}

// WithJSONMode asks for a response_format of json_object.
func (o *ChatCompletionOptions) WithJSONMode() *ChatCompletionOptions {
	o.JSONMode = true
	return o
}

func readAudioFile(path string) (*audioFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read audio %s: %w", path, err)
	}
	return &audioFile{
		name:        filepath.Base(path),
		contentType: audioContentType(path),
		content:     content,
	}, nil
}

func (f *audioFile) writeTo(w *multipart.Writer, field string) error {
	part, err := w.CreateFormFile(field, f.name)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	_, err = part.Write(f.content)
	return err
}

func audioContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3", ".mpga", ".mpeg":
		return "audio/mpeg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".webm":
		return "audio/webm"
	case ".ogg", ".opus":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
