// Package embedding generates vector embeddings for document retrieval.
// Two backends are supported: a local Ollama server and the Google GenAI
// API. Both produce float32 vectors consumed by the store's chunk index.
package embedding

import (
	"context"
	"fmt"

	"dialectica/internal/config"
	"dialectica/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of produced vectors.
	Dimensions() int

	// Name identifies the backend for logging.
	Name() string
}

// HealthChecker is an optional interface for engines that can verify
// availability before batch work starts.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NewEngine creates an embedding engine from configuration.
func NewEngine(cfg config.EmbeddingConfig, apiKey string) (Engine, error) {
	var engine Engine
	var err error

	switch cfg.Provider {
	case "ollama":
		engine, err = NewOllamaEngine(cfg.BaseURL, cfg.Model)
	case "gemini":
		engine, err = NewGenAIEngine(apiKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'gemini')", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logging.Embedding("embedding engine ready: %s (%d dims)", engine.Name(), engine.Dimensions())
	return engine, nil
}
