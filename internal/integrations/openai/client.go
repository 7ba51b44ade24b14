package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"coach-proxy/internal/domain"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 60 * time.Second
)

// chatAPI is the subset of *goopenai.Client used by Client.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPStatusError) Unwrap() error {
	return e.Err
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused chat completions client. The underlying go-openai
// handle is created on the first call and reused until the API key changes.
type Client struct {
	baseURL    string
	httpClient *http.Client
	newAPI     func(apiKey string) chatAPI
	observe    func(err error, d time.Duration)

	mu     sync.Mutex
	apiKey string
	api    chatAPI
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the timeout of the default HTTP client. It has no effect
// when WithHTTPClient is also given.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 && c.httpClient == nil {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithObserver registers a callback invoked after every completion call.
func WithObserver(observe func(err error, d time.Duration)) Option {
	return func(c *Client) {
		c.observe = observe
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{baseURL: defaultBaseURL}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	c.newAPI = c.buildAPI
	return c
}

func (c *Client) buildAPI(apiKey string) chatAPI {
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = normalizeBaseURL(c.baseURL)
	cfg.HTTPClient = c.httpClient
	return goopenai.NewClientWithConfig(cfg)
}

// normalizeBaseURL makes sure the base URL ends in the /v1 API version prefix.
func normalizeBaseURL(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

// handle returns the cached API handle for apiKey, rebuilding it only when
// the key differs from the one it was created with.
func (c *Client) handle(apiKey string) chatAPI {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api == nil || c.apiKey != apiKey {
		c.api = c.newAPI(apiKey)
		c.apiKey = apiKey
	}
	return c.api
}

// Complete sends one chat completion request and returns the content of the
// first choice.
func (c *Client) Complete(ctx context.Context, apiKey, model string, messages []domain.ChatMessage) (string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", errors.New("openai: api key must not be empty")
	}
	if strings.TrimSpace(model) == "" {
		return "", errors.New("openai: model must not be empty")
	}

	req := goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]goopenai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	start := time.Now()
	resp, err := c.handle(apiKey).CreateChatCompletion(ctx, req)
	if c.observe != nil {
		c.observe(err, time.Since(start))
	}
	if err != nil {
		return "", fmt.Errorf("openai: create chat completion: %w", statusError(err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// statusError lifts go-openai's status-carrying errors into HTTPStatusError.
func statusError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &HTTPStatusError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return &HTTPStatusError{StatusCode: reqErr.HTTPStatusCode, Message: msg, Err: err}
	}
	return err
}
