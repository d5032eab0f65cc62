// Package llm talks to an OpenRouter-compatible chat completions API for
// image analysis and text translation.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"screen-capture-stage/src/logutil"
	"screen-capture-stage/src/screenshot"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	maxRetries     = 3
	initialDelay   = 1 * time.Second
	requestTimeout = 45 * time.Second
)

var (
	ErrNotConfigured = errors.New("LLM client not configured")
	ErrEmptyResponse = errors.New("no content in API response")
)

type Config struct {
	APIKey    string
	Model     string
	Providers []string
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
}

// AnalysisRequest is one image plus the instruction to apply to it.
type AnalysisRequest struct {
	ImageData []byte // PNG
	Prompt    string
}

// AnalysisResult is the model output and token accounting.
type AnalysisResult struct {
	Content string
	Usage   Usage
}

// TranslationRequest asks for Text to be translated.
type TranslationRequest struct {
	Text       string
	SourceLang string
	TargetLang string
}

// TranslationResult holds the translated text.
type TranslationResult struct {
	Content string
	Usage   Usage
}

// Client is safe for concurrent use.
type Client struct {
	cfg   Config
	http  *http.Client
	sleep func(ctx context.Context, d time.Duration) error
	log   *zerolog.Logger
}

// New builds a client. An empty key or model is reported on first use.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: requestTimeout},
		sleep: sleepContext,
		log:   logutil.WithComponent("llm"),
	}
}

// OpenRouter API structures
type Message struct {
	Role    string    `json:"role"`
	Content []Content `json:"content"`
}

type Content struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ProviderPreferences struct {
	Order          []string `json:"order,omitempty"`
	AllowFallbacks *bool    `json:"allow_fallbacks,omitempty"`
}

type ChatRequest struct {
	Model       string               `json:"model"`
	Messages    []Message            `json:"messages"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens"`
	Provider    *ProviderPreferences `json:"provider,omitempty"`
}

type ChatResponse struct {
	Choices []Choice  `json:"choices"`
	Usage   *Usage    `json:"usage,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

type Choice struct {
	Message ResponseMessage `json:"message"`
}

type ResponseMessage struct {
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type APIError struct {
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Code    interface{} `json:"code"` // Can be string or number
}

// StatusError is a non-2xx reply.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API returned status %d", e.StatusCode)
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) validate() error {
	if c == nil {
		return ErrNotConfigured
	}
	if c.cfg.APIKey == "" {
		return fmt.Errorf("API key is required: %w", ErrNotConfigured)
	}
	if c.cfg.Model == "" {
		return fmt.Errorf("model is required: %w", ErrNotConfigured)
	}
	return nil
}

// providerPreferences pins the configured providers without fallback.
func (c *Client) providerPreferences() *ProviderPreferences {
	if len(c.cfg.Providers) == 0 {
		return nil
	}
	allowFallbacks := false
	return &ProviderPreferences{Order: c.cfg.Providers, AllowFallbacks: &allowFallbacks}
}

// Analyze sends an image with a prompt to the vision model.
func (c *Client) Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResult, error) {
	if err := c.validate(); err != nil {
		return AnalysisResult{}, err
	}
	if len(req.ImageData) == 0 {
		return AnalysisResult{}, errors.New("image data is required")
	}

	chat := ChatRequest{
		Model: c.cfg.Model,
		Messages: []Message{{
			Role: "user",
			Content: []Content{
				{Type: "text", Text: req.Prompt},
				{Type: "image_url", ImageURL: &ImageURL{URL: screenshot.EncodeDataURL("image/png", req.ImageData)}},
			},
		}},
		Temperature: 0.1,
		MaxTokens:   2000,
		Provider:    c.providerPreferences(),
	}

	content, usage, err := c.complete(ctx, chat)
	if err != nil {
		return AnalysisResult{}, err
	}
	return AnalysisResult{Content: cleanContent(content), Usage: usage}, nil
}

// Translate asks the model to translate text between languages.
func (c *Client) Translate(ctx context.Context, req TranslationRequest) (TranslationResult, error) {
	if err := c.validate(); err != nil {
		return TranslationResult{}, err
	}
	if strings.TrimSpace(req.Text) == "" {
		return TranslationResult{}, errors.New("text is required")
	}

	chat := ChatRequest{
		Model: c.cfg.Model,
		Messages: []Message{{
			Role:    "user",
			Content: []Content{{Type: "text", Text: translationPrompt(req)}},
		}},
		Temperature: 0.2,
		MaxTokens:   4000,
		Provider:    c.providerPreferences(),
	}

	content, usage, err := c.complete(ctx, chat)
	if err != nil {
		return TranslationResult{}, err
	}
	return TranslationResult{Content: strings.TrimSpace(content), Usage: usage}, nil
}

func translationPrompt(req TranslationRequest) string {
	target := req.TargetLang
	if target == "" {
		target = "English"
	}
	from := "the detected source language"
	if req.SourceLang != "" && !strings.EqualFold(req.SourceLang, "auto") {
		from = req.SourceLang
	}
	return fmt.Sprintf("Translate the following text from %s to %s. Return only the translation.\n\n%s", from, target, req.Text)
}

// Ping checks that the API is reachable with the configured key.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.validate(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

// complete runs a chat request with retry and backoff.
func (c *Client) complete(ctx context.Context, chat ChatRequest) (string, Usage, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(initialDelay) * (1.5 * float64(attempt)))
			if err := c.sleep(ctx, delay); err != nil {
				return "", Usage{}, err
			}
		}

		response, err := c.makeAPIRequest(ctx, chat)
		if err != nil {
			lastErr = err
			c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("chat request failed")
			if !retryable(err) {
				break
			}
			continue
		}

		if len(response.Choices) == 0 || strings.TrimSpace(response.Choices[0].Message.Content) == "" {
			lastErr = ErrEmptyResponse
			continue
		}

		var usage Usage
		if response.Usage != nil {
			usage = *response.Usage
		}
		return response.Choices[0].Message.Content, usage, nil
	}

	return "", Usage{}, fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("X-Title", "Screen Capture Stage")
}

func (c *Client) makeAPIRequest(ctx context.Context, chat ChatRequest) (*ChatResponse, error) {
	jsonData, err := json.Marshal(chat)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	var response ChatResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&response)

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{StatusCode: resp.StatusCode}
		if decodeErr == nil && response.Error != nil {
			se.Message = response.Error.Message
		}
		return nil, se
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("API error: %s (type: %s, code: %v)", response.Error.Message, response.Error.Type, response.Error.Code)
	}

	return &response, nil
}

// cleanContent strips the stray image tag some vision models append.
func cleanContent(text string) string {
	text = strings.TrimSuffix(strings.TrimSpace(text), "</image>")
	return strings.TrimSpace(text)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
