// Package vision turns captured images into short text descriptions
// using an OpenAI-compatible chat completions API.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://api.openai.com"
	defaultModel     = "gpt-4o-mini"
	defaultMaxTokens = 150

	defaultPrompt = "Describe this photo in one or two short sentences. " +
		"Mention any people, what they are doing, and the lighting of the room."
)

// Vision errors.
var (
	ErrNoDescription = errors.New("vision: response contained no description")
)

// Client calls the chat completions endpoint with an inline image.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	prompt     string
	maxTokens  int
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithModel sets the model identifier.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL sets the API base URL (scheme and host, no trailing path).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithPrompt overrides the description prompt.
func WithPrompt(prompt string) Option {
	return func(c *Client) {
		if prompt != "" {
			c.prompt = prompt
		}
	}
}

// WithTimeout bounds each API request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a vision client.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		prompt:     defaultPrompt,
		maxTokens:  defaultMaxTokens,
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Describe sends image to the API and returns the model's text answer.
func (c *Client) Describe(ctx context.Context, image []byte) (string, error) {
	req := &chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: c.prompt},
					{Type: "image_url", ImageURL: &imageURL{URL: dataURI(image)}},
				},
			},
		},
		MaxTokens: c.maxTokens,
	}

	httpReq, err := c.newHTTPRequest(ctx, http.MethodPost, "/v1/chat/completions", req)
	if err != nil {
		return "", fmt.Errorf("vision: create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("vision: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("vision: api error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("vision: decode response: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", ErrNoDescription
	}
	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrNoDescription
	}

	c.logger.Debug("image described", "model", c.model, "chars", len(text))
	return text, nil
}

// newHTTPRequest creates a JSON request with auth headers set.
func (c *Client) newHTTPRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return req, nil
}

// dataURI encodes image as a base64 data URI with a sniffed MIME type.
func dataURI(image []byte) string {
	return "data:" + sniffMIME(image) + ";base64," + base64.StdEncoding.EncodeToString(image)
}

// sniffMIME inspects magic bytes. Unknown formats fall back to JPEG,
// which is what fswebcam produces.
func sniffMIME(data []byte) string {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case len(data) >= 8 && bytes.Equal(data[:8], []byte("\x89PNG\r\n\x1a\n")):
		return "image/png"
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("GIF8")):
		return "image/gif"
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// Chat completions API types.

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}
