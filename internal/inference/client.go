package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashureev/chatrelay/internal/domain"
)

const (
	// DefaultBaseURL is the OpenAI-compatible Hugging Face inference router.
	DefaultBaseURL = "https://router.huggingface.co/v1"

	// DefaultModel is the model used when none is configured.
	DefaultModel = "HuggingFaceTB/SmolLM3-3B"

	// DefaultTimeout bounds a single request attempt.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is how many times a transient failure is retried.
	DefaultMaxRetries = 1

	// MaxResponseSize caps the provider response body.
	MaxResponseSize = 4 * 1024 * 1024

	retryBaseDelay = 250 * time.Millisecond
	retryMaxDelay  = 2 * time.Second

	maxErrorTextRunes = 200

	instrumentationName = "github.com/ashureev/chatrelay/internal/inference"
)

var (
	// ErrNotConfigured indicates the API credential is not set.
	ErrNotConfigured = errors.New("inference API key not configured")

	// ErrAuthFailed indicates the provider rejected the credential.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates the provider throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the configured model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrEmptyResponse indicates a well-formed response without any choice.
	ErrEmptyResponse = errors.New("empty response from provider")
)

// APIError is a non-2xx provider response that has no dedicated sentinel.
type APIError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("provider error (HTTP %d): %s", e.Status, e.Message)
}

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []domain.Message `json:"messages"`
	Stream   bool             `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message      domain.Message `json:"message"`
		FinishReason string         `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

type apiErrorResponse struct {
	Error json.RawMessage `json:"error"`
}

// Config holds client settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	maxRetries int
	budget     time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	tracer   trace.Tracer
	duration metric.Float64Histogram
	tokens   metric.Int64Counter
}

// NewClient creates a client. An empty API key is accepted; every call then
// fails with ErrNotConfigured.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	meter := otel.Meter(instrumentationName)
	duration, err := meter.Float64Histogram(
		"inference.request.duration",
		metric.WithDescription("Inference request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		logger.Warn("failed to create inference duration histogram", "error", err)
	}
	tokens, err := meter.Int64Counter(
		"inference.tokens",
		metric.WithDescription("Tokens reported by the inference provider"),
	)
	if err != nil {
		logger.Warn("failed to create inference token counter", "error", err)
	}

	return &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		budget:     RequestBudget(cfg.Timeout, cfg.MaxRetries),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		duration:   duration,
		tokens:     tokens,
	}
}

// IsConfigured reports whether an API key is set.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// RequestBudget is the longest a Complete call can take: every attempt
// running into timeout, plus the backoff between attempts.
func RequestBudget(timeout time.Duration, maxRetries int) time.Duration {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	budget := time.Duration(maxRetries+1) * timeout
	for attempt := 1; attempt <= maxRetries; attempt++ {
		budget += calculateBackoff(attempt)
	}
	return budget
}

// Budget returns the RequestBudget of this client.
func (c *Client) Budget() time.Duration {
	return c.budget
}

// Model returns the model identifier sent with each request.
func (c *Client) Model() string {
	return c.model
}

// Complete sends messages to the provider, retrying transient failures.
// The whole call, retries included, never outlasts Budget.
func (c *Client) Complete(ctx context.Context, messages []domain.Message) Result {
	ctx, cancel := context.WithTimeout(ctx, c.budget)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "inference.complete", trace.WithAttributes(
		attribute.String("inference.model", c.model),
		attribute.Int("inference.messages", len(messages)),
	))
	defer span.End()

	reply, err := c.complete(ctx, messages)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Failure(err)
	}
	return Success(reply)
}

func (c *Client) complete(ctx context.Context, messages []domain.Message) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt)
			c.logger.Debug("retrying inference request", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		reply, err := c.doRequest(ctx, body)
		if err == nil {
			return reply, nil
		}
		if !isRetryable(ctx, err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doRequest(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.duration != nil {
		c.duration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := readResponse(resp)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", handleErrorResponse(resp.StatusCode, data)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	if c.tokens != nil {
		c.tokens.Add(ctx, parsed.Usage.PromptTokens, metric.WithAttributes(attribute.String("kind", "prompt")))
		c.tokens.Add(ctx, parsed.Usage.CompletionTokens, metric.WithAttributes(attribute.String("kind", "completion")))
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func readResponse(resp *http.Response) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(data) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return data, nil
}

// handleErrorResponse converts a non-2xx response into an error.
func handleErrorResponse(status int, body []byte) error {
	msg := errorMessage(body)

	var sentinel error
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = ErrAuthFailed
	case http.StatusNotFound:
		sentinel = ErrModelNotFound
	case http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	default:
		return &APIError{Status: status, Message: msg}
	}
	if msg == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}

// errorMessage extracts a readable message from the provider error body,
// which is either {"error": "text"} or {"error": {"message": "text"}}.
func errorMessage(body []byte) string {
	var envelope apiErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Error) > 0 {
		var text string
		if json.Unmarshal(envelope.Error, &text) == nil {
			return text
		}
		var detail struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(envelope.Error, &detail) == nil && detail.Message != "" {
			return detail.Message
		}
	}
	return truncateRunes(strings.TrimSpace(string(body)), maxErrorTextRunes)
}

// truncateRunes cuts s to at most n runes without splitting a UTF-8 sequence.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// isRetryable reports whether err is a transient failure: throttling, a 5xx,
// or a network error. Cancellation of the caller's context never is.
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 && apiErr.Status < 600
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
