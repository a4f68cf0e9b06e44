package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/noobynull/laminark/internal/logging"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

var errAPIKeyRequired = errors.New("agent: ANTHROPIC_API_KEY is required")

const (
	maxRetries            = 3
	defaultInitialBackoff = 1 * time.Second
)

// AnthropicAgent is an alternate TextAgent backend for operators who
// prefer Claude over Gemini for curation and entity extraction.
type AnthropicAgent struct {
	client         anthropic.Client
	model          anthropic.Model
	initialBackoff time.Duration
}

// NewAnthropicAgent builds an Anthropic-backed text agent. The
// ANTHROPIC_API_KEY environment variable, if set, overrides apiKey.
// model defaults to Claude's Haiku tier when empty, since curation and
// extraction prompts are short and frequent.
func NewAnthropicAgent(apiKey string, model anthropic.Model) (*AnthropicAgent, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	if model == "" {
		model = anthropic.ModelClaude3_5HaikuLatest
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicAgent{client: client, model: model, initialBackoff: defaultInitialBackoff}, nil
}

// Complete calls the Messages API with a single user turn, retrying
// transient failures with exponential backoff.
func (a *AnthropicAgent) Complete(ctx context.Context, prompt string, timeoutMS int) (Result, error) {
	timer := logging.StartTimer(logging.CategoryAgent, "Anthropic.Complete")
	defer timer.Stop()

	callCtx, cancel := withTimeout(ctx, timeoutMS)
	defer cancel()

	msg, err := a.callWithRetry(callCtx, prompt)
	if err != nil {
		if callCtx.Err() != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Result{}, err
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	logging.AgentDebug("Anthropic.Complete: completed, stop_reason=%s, response_length=%d", msg.StopReason, len(text))
	return Result{Text: text, StopReason: string(msg.StopReason)}, nil
}

func (a *AnthropicAgent) callWithRetry(ctx context.Context, prompt string) (*anthropic.Message, error) {
	var lastErr error
	backoff := a.initialBackoff
	if backoff <= 0 {
		backoff = defaultInitialBackoff
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     a.model,
			MaxTokens: 1024,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err == nil {
			return msg, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryable(err) || attempt == maxRetries {
			return nil, fmt.Errorf("anthropic completion failed after %d attempt(s): %w", attempt, err)
		}

		logging.AgentWarn("Anthropic.Complete: attempt %d/%d failed, retrying in %v: %v", attempt, maxRetries, backoff, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

// isRetryable reports whether err represents a transient failure worth
// a backoff-and-retry: request timeouts and 429/5xx API responses.
// Context cancellation and deadline errors are never retryable since
// retrying them can't possibly help.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}

	return false
}
