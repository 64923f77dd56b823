package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/chatrelay/internal/domain"
)

const okBody = `{
	"id": "chatcmpl-1",
	"choices": [{"message": {"role": "assistant", "content": "  Hi **there**  "}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 10, "completion_tokens": 3}
}`

func newTestClient(t *testing.T, url string, retries int) *Client {
	t.Helper()
	return NewClient(Config{
		APIKey:     "hf_test",
		BaseURL:    url,
		Model:      "test/model",
		Timeout:    time.Second,
		MaxRetries: retries,
	}, nil)
}

func TestComplete_Success(t *testing.T) {
	t.Parallel()

	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okBody))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, 0)
	msgs := []domain.Message{domain.SystemMessage("be nice"), domain.UserMessage("hello")}
	res := c.Complete(context.Background(), msgs)

	require.True(t, res.OK(), "unexpected error: %v", res.Err)
	assert.Equal(t, "Hi **there**", res.Reply)
	assert.Equal(t, "test/model", got.Model)
	assert.Equal(t, msgs, got.Messages)
	assert.False(t, got.Stream)
}

func TestComplete_NotConfigured(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{}, nil)
	assert.False(t, c.IsConfigured())
	assert.Equal(t, DefaultModel, c.Model())

	res := c.Complete(context.Background(), nil)
	assert.False(t, res.OK())
	assert.ErrorIs(t, res.Err, ErrNotConfigured)
}

func TestComplete_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error": "Invalid credentials"}`, ErrAuthFailed},
		{"not found", http.StatusNotFound, `{"error": {"message": "no such model"}}`, ErrModelNotFound},
		{"rate limited", http.StatusTooManyRequests, ``, ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			res := newTestClient(t, server.URL, 0).Complete(context.Background(), nil)
			assert.ErrorIs(t, res.Err, tt.want)
		})
	}
}

func TestComplete_APIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "context too long"}`))
	}))
	defer server.Close()

	res := newTestClient(t, server.URL, 0).Complete(context.Background(), nil)
	var apiErr *APIError
	require.ErrorAs(t, res.Err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "context too long", apiErr.Message)
}

func TestComplete_MalformedAndEmpty(t *testing.T) {
	t.Parallel()

	malformed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer malformed.Close()
	res := newTestClient(t, malformed.URL, 0).Complete(context.Background(), nil)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "parse response")

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer empty.Close()
	res = newTestClient(t, empty.URL, 0).Complete(context.Background(), nil)
	assert.ErrorIs(t, res.Err, ErrEmptyResponse)
}

func TestComplete_RetriesServerErrorOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(okBody))
	}))
	defer server.Close()

	res := newTestClient(t, server.URL, 1).Complete(context.Background(), nil)
	require.True(t, res.OK(), "unexpected error: %v", res.Err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestComplete_DoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	res := newTestClient(t, server.URL, 3).Complete(context.Background(), nil)
	assert.ErrorIs(t, res.Err, ErrAuthFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestComplete_GivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	res := newTestClient(t, server.URL, 1).Complete(context.Background(), nil)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "max retries exceeded")
	assert.Equal(t, int32(2), calls.Load())
}

func TestComplete_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := NewClient(Config{APIKey: "k", BaseURL: server.URL, Timeout: 50 * time.Millisecond}, nil)
	res := c.Complete(context.Background(), nil)
	assert.False(t, res.OK())
}

func TestComplete_CanceledContextIsNotRetried(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(okBody))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := newTestClient(t, server.URL, 3).Complete(ctx, nil)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, retryBaseDelay, calculateBackoff(1))
	assert.Equal(t, 2*retryBaseDelay, calculateBackoff(2))
	assert.Equal(t, retryMaxDelay, calculateBackoff(10))
}

func TestRequestBudget(t *testing.T) {
	assert.Equal(t, 60*time.Second, RequestBudget(60*time.Second, 0))
	assert.Equal(t, 120*time.Second+retryBaseDelay, RequestBudget(60*time.Second, 1))
	assert.Equal(t, 4*time.Second+retryBaseDelay+2*retryBaseDelay+4*retryBaseDelay, RequestBudget(time.Second, 3))
	assert.Equal(t, DefaultTimeout, RequestBudget(0, -1))
}

func TestComplete_HangingUpstreamStaysWithinBudget(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-r.Context().Done()
	}))
	defer server.Close()

	c := NewClient(Config{APIKey: "k", BaseURL: server.URL, Timeout: 100 * time.Millisecond, MaxRetries: 2}, nil)

	start := time.Now()
	res := c.Complete(context.Background(), nil)
	elapsed := time.Since(start)

	require.False(t, res.OK())
	assert.LessOrEqual(t, elapsed, c.Budget()+500*time.Millisecond)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestErrorMessageTruncatesOnRuneBoundary(t *testing.T) {
	t.Parallel()

	body := []byte(strings.Repeat("é", 150) + strings.Repeat("漢", 150))
	msg := errorMessage(body)

	assert.True(t, utf8.ValidString(msg))
	assert.Equal(t, maxErrorTextRunes, utf8.RuneCountInString(msg))
	assert.True(t, strings.HasSuffix(msg, "漢"))
}
