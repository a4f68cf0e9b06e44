package embedding

import (
	"context"

	"github.com/noobynull/laminark/internal/logging"
)

// Embedder is the collaborator interface the store depends on: a
// text-to-vector function that returns (nil, nil) — "none" — rather than
// an error when dense signal is unavailable for this call, so callers
// never have to distinguish "embedding service down" from "no embedding".
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	IsReady() bool
}

// embedderAdapter wraps an EmbeddingEngine (which does return errors) and
// converts failures into the none contract, logging the failure instead of
// propagating it. This is the seam between the engine-level providers
// above and the store's Embedder dependency.
type embedderAdapter struct {
	engine EmbeddingEngine
}

// NewEmbedder wraps an EmbeddingEngine to satisfy the Embedder contract.
func NewEmbedder(engine EmbeddingEngine) Embedder {
	return &embedderAdapter{engine: engine}
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}
	vec, err := a.engine.Embed(ctx, text)
	if err != nil {
		logging.EmbeddingWarn("embed failed, treating as none: %v", err)
		return nil, nil
	}
	return vec, nil
}

func (a *embedderAdapter) Dimensions() int {
	return a.engine.Dimensions()
}

func (a *embedderAdapter) IsReady() bool {
	if hc, ok := a.engine.(HealthChecker); ok {
		return hc.HealthCheck(context.Background()) == nil
	}
	return true
}
