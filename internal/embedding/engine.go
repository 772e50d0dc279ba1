// Package embedding provides vector embedding generation for semantic
// retrieval. Supports two backends: Ollama (local) and Google GenAI (cloud).
//
// The embedding model in use is asymmetric: documents are embedded with a
// "passage: " prefix and queries with a "query: " prefix. Both sides must
// keep their prefix or scores stop being comparable.
package embedding

import (
	"context"
	"fmt"
	"math"

	"terrasite/internal/logging"

	"go.uber.org/zap"
)

// Prefix conventions for the asymmetric embedding model.
const (
	QueryPrefix   = "query: "
	PassagePrefix = "passage: "
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// EmbedQuery embeds text with the query-side prefix.
func EmbedQuery(ctx context.Context, e Engine, text string) ([]float32, error) {
	return e.Embed(ctx, QueryPrefix+text)
}

// EmbedPassage embeds text with the document-side prefix.
func EmbedPassage(ctx context.Context, e Engine, text string) ([]float32, error) {
	return e.Embed(ctx, PassagePrefix+text)
}

// Config holds embedding engine configuration.
type Config struct {
	// Provider: "ollama" or "genai"
	Provider string

	OllamaEndpoint string
	OllamaModel    string

	GenAIAPIKey string
	GenAIModel  string
}

// NewEngine creates an embedding engine based on configuration.
func NewEngine(cfg Config) (Engine, error) {
	log := logging.Get(logging.CategoryEmbedding)

	var engine Engine
	var err error

	switch cfg.Provider {
	case "ollama", "":
		engine, err = NewOllamaEngine(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		engine, err = NewGenAIEngine(cfg.GenAIAPIKey, cfg.GenAIModel)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'genai')", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	log.Info("embedding engine created",
		zap.String("name", engine.Name()),
		zap.Int("dimensions", engine.Dimensions()))
	return engine, nil
}

// CosineDistance computes 1 - cosine similarity between two vectors.
// The result lies in [0,2]; lower means more similar. Zero-magnitude
// vectors are treated as maximally dissimilar to unit vectors.
func CosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}

	if aMag == 0 || bMag == 0 {
		return 1, nil
	}

	return 1 - dot/(math.Sqrt(aMag)*math.Sqrt(bMag)), nil
}
