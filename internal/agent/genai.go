package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/noobynull/laminark/internal/logging"

	"google.golang.org/genai"
)

// GenAIAgent is the default TextAgent backend: Google's Gemini API,
// the same client family laminark already uses for embeddings.
type GenAIAgent struct {
	client *genai.Client
	model  string
}

// NewGenAIAgent creates a GenAI-backed text agent. model defaults to
// "gemini-2.0-flash" when empty.
func NewGenAIAgent(apiKey, model string) (*GenAIAgent, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create GenAI client: %w", err)
	}

	return &GenAIAgent{client: client, model: model}, nil
}

// Complete renders prompt through the configured model, returning the
// first candidate's text.
func (a *GenAIAgent) Complete(ctx context.Context, prompt string, timeoutMS int) (Result, error) {
	timer := logging.StartTimer(logging.CategoryAgent, "GenAI.Complete")
	defer timer.Stop()

	callCtx, cancel := withTimeout(ctx, timeoutMS)
	defer cancel()

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	start := time.Now()
	resp, err := a.client.Models.GenerateContent(callCtx, a.model, contents, nil)
	latency := time.Since(start)

	if err != nil {
		if callCtx.Err() != nil {
			logging.AgentWarn("GenAI.Complete: timed out after %v", latency)
			return Result{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		logging.AgentWarn("GenAI.Complete: call failed after %v: %v", latency, err)
		return Result{}, fmt.Errorf("GenAI completion failed: %w", err)
	}

	text := resp.Text()
	stopReason := "stop"
	if len(resp.Candidates) > 0 {
		stopReason = string(resp.Candidates[0].FinishReason)
	}

	logging.AgentDebug("GenAI.Complete: completed in %v, response_length=%d", latency, len(text))
	return Result{Text: text, StopReason: stopReason}, nil
}
