package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

// Client is an OpenAI compatible API client for chat completions and audio
// transcription. Safe for concurrent use.
type Client struct {
	config        *Config
	httpClient    *http.Client
	whisperClient *http.Client
	baseURL       string
	now           func() time.Time
}

// NewClient creates a new LLM client with the given configuration
//
// Example:
//
//	client, err := llm.NewClient(&llm.Config{APIKey: key, APIURL: url, Model: "gpt-3.5-turbo", MaxTokens: 2000, Timeout: 60})
//	if err != nil {
//		log.Fatal(err)
//	}
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	client := &Client{
		config:  config,
		baseURL: config.APIURL,
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
		whisperClient: &http.Client{
			Timeout: time.Duration(config.whisperTimeout()) * time.Second,
		},
		now: time.Now,
	}

	return client, nil
}

// ChatCompletion creates a chat completion request to the configured LLM API
//
// Example:
//
//	messages := []llm.Message{
//		{Role: "user", Content: "Hello, how are you?"},
//	}
//	response, err := client.ChatCompletion(ctx, messages, nil)
func (c *Client) ChatCompletion(ctx context.Context, messages []Message, opts *ChatCompletionOptions) (*ChatResponse, error) {
	if opts == nil {
		opts = NewChatCompletionOptions()
	}

	if opts.SystemPrompt != "" {
		systemMessage := Message{
			Role:    "system",
			Content: opts.SystemPrompt,
		}
		messages = append([]Message{systemMessage}, messages...)
	}

	request := ChatRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.getMaxTokens(opts),
		Temperature: c.getTemperature(opts),
	}
	if opts.JSONMode {
		request.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var response ChatResponse
	if err := c.do(c.httpClient, req, &response); err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if response.Error != nil && response.Error.Message != "" {
		return &response, fmt.Errorf("chat completion failed: %w", response.Error)
	}

	return &response, nil
}

// SimpleChat sends one user prompt and returns the assistant's reply.
//
// Example:
//
//	response, err := client.SimpleChat(ctx, "What is Go?", "You are a helpful assistant.")
func (c *Client) SimpleChat(ctx context.Context, prompt string, systemPrompt string) (string, error) {
	opts := NewChatCompletionOptions()
	if systemPrompt != "" {
		opts = opts.WithSystemPrompt(systemPrompt)
	}
	return c.Complete(ctx, prompt, opts)
}

// Complete sends one user prompt with the given options and returns the reply text.
func (c *Client) Complete(ctx context.Context, prompt string, opts *ChatCompletionOptions) (string, error) {
	messages := []Message{
		{Role: "user", Content: prompt},
	}

	response, err := c.ChatCompletion(ctx, messages, opts)
	if err != nil {
		return "", err
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return response.Choices[0].Message.Content, nil
}

// Transcribe uploads an audio file and returns time-aligned segments.
// The reply is requested as verbose_json so segments and language are present.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (*Transcription, error) {
	file, err := readAudioFile(audioPath)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := file.writeTo(writer, "file"); err != nil {
		return nil, err
	}
	fields := map[string]string{
		"model":                     c.config.whisperModel(),
		"response_format":           "verbose_json",
		"timestamp_granularities[]": "segment",
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var transcription Transcription
	if err := c.do(c.whisperClient, req, &transcription); err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}
	if transcription.Error != nil && transcription.Error.Message != "" {
		return nil, fmt.Errorf("transcription failed: %w", transcription.Error)
	}

	return &transcription, nil
}

// do sends req and decodes a 2xx JSON body into out. 429 becomes
// *RateLimitError and other non-2xx replies become *StatusError.
func (c *Client) do(httpClient *http.Client, req *http.Request, out any) error {
	for key, value := range c.config.GetHeaders() {
		req.Header.Set(key, value)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return fmt.Errorf("request timed out: %w", err)
		}
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
			Message:    apiErrorMessage(responseBody),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: string(responseBody)}
		var envelope struct {
			Error *Error `json:"error"`
		}
		if json.Unmarshal(responseBody, &envelope) == nil {
			statusErr.APIError = envelope.Error
		}
		return statusErr
	}

	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func apiErrorMessage(body []byte) string {
	var envelope struct {
		Error *Error `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
		return envelope.Error.Message
	}
	return string(body)
}

// getMaxTokens returns the max tokens to use for the request
func (c *Client) getMaxTokens(opts *ChatCompletionOptions) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return c.config.MaxTokens
}

// getTemperature returns the temperature to use for the request
func (c *Client) getTemperature(opts *ChatCompletionOptions) float64 {
	if opts.Temperature >= 0 && opts.Temperature <= 2 {
		return opts.Temperature
	}
	return c.config.Temperature
}
