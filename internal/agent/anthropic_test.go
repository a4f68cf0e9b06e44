package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

func TestNewAnthropicAgent_RequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := NewAnthropicAgent("", "")
	if !errors.Is(err, errAPIKeyRequired) {
		t.Fatalf("expected errAPIKeyRequired, got %v", err)
	}
}

func TestNewAnthropicAgent_EnvVarOverridesExplicitKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "from-env")

	a, err := NewAnthropicAgent("explicit-key", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == nil {
		t.Fatal("expected non-nil agent")
	}
}

func mockAnthropicResponse(text string) map[string]interface{} {
	return map[string]interface{}{
		"id":          "msg_test",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-3-5-haiku-20241022",
		"stop_reason": "end_turn",
		"content": []map[string]interface{}{
			{"type": "text", "text": text},
		},
	}
}

func newTestAgent(t *testing.T, baseURL string, opts ...option.RequestOption) *AnthropicAgent {
	t.Setenv("ANTHROPIC_API_KEY", "")
	allOpts := append([]option.RequestOption{option.WithBaseURL(baseURL)}, opts...)
	a, err := NewAnthropicAgent("test-key", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a.client = anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey("test-key")}, allOpts...)...)
	a.initialBackoff = 5 * time.Millisecond
	return a
}

func TestComplete_ReturnsTextAndStopReason(t *testing.T) {
	server := httptest.NewServer(func() http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(mockAnthropicResponse("classification complete"))
		}
	}())
	defer server.Close()

	a := newTestAgent(t, server.URL)

	result, err := a.Complete(context.Background(), "classify this", 5_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "classification complete" {
		t.Errorf("unexpected text: %q", result.Text)
	}
	if result.StopReason != "end_turn" {
		t.Errorf("unexpected stop reason: %q", result.StopReason)
	}
}

func TestCallWithRetry_RetriesOn429ThenSucceeds(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"type":  "error",
				"error": map[string]interface{}{"type": "rate_limit_error", "message": "slow down"},
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mockAnthropicResponse("succeeded after retries"))
	}))
	defer server.Close()

	a := newTestAgent(t, server.URL, option.WithMaxRetries(0))

	result, err := a.Complete(context.Background(), "prompt", 5_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "succeeded after retries" {
		t.Errorf("unexpected text: %q", result.Text)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestCallWithRetry_NonRetryableFailsImmediately(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"type":  "error",
			"error": map[string]interface{}{"type": "invalid_request_error", "message": "bad request"},
		})
	}))
	defer server.Close()

	a := newTestAgent(t, server.URL)

	_, err := a.Complete(context.Background(), "prompt", 5_000)
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", attempts)
	}
}

func TestComplete_ContextTimeoutWrapsErrTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mockAnthropicResponse("too late"))
	}))
	defer server.Close()

	a := newTestAgent(t, server.URL)

	_, err := a.Complete(context.Background(), "prompt", 20)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"context deadline exceeded", context.DeadlineExceeded, false},
		{"generic error", errors.New("boom"), false},
		{"429", &anthropic.Error{StatusCode: 429}, true},
		{"500", &anthropic.Error{StatusCode: 500}, true},
		{"400", &anthropic.Error{StatusCode: 400}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.want {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

type mockTimeoutError struct{ timeout bool }

func (e *mockTimeoutError) Error() string   { return "mock timeout" }
func (e *mockTimeoutError) Timeout() bool   { return e.timeout }
func (e *mockTimeoutError) Temporary() bool { return false }

var _ net.Error = (*mockTimeoutError)(nil)

func TestIsRetryable_NetworkTimeout(t *testing.T) {
	if !isRetryable(&mockTimeoutError{timeout: true}) {
		t.Error("expected timeout network error to be retryable")
	}
	if isRetryable(&mockTimeoutError{timeout: false}) {
		t.Error("expected non-timeout network error to not be retryable")
	}
}

func TestCallWithRetry_ExhaustsRetries(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"type":  "error",
			"error": map[string]interface{}{"type": "rate_limit_error", "message": "slow down"},
		})
	}))
	defer server.Close()

	a := newTestAgent(t, server.URL, option.WithMaxRetries(0))

	_, err := a.Complete(context.Background(), "prompt", 5_000)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !strings.Contains(err.Error(), "failed after") {
		t.Errorf("expected 'failed after' in error, got: %v", err)
	}
	if attempts != int32(maxRetries) {
		t.Errorf("expected %d attempts, got %d", maxRetries, attempts)
	}
}
