// Package embedding provides text embedding providers for the vector store.
package embedding

import (
	"context"
	"errors"
)

// ErrEmptyInput is returned when no texts are given.
var ErrEmptyInput = errors.New("embedding: empty input")

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// modelDimensions maps known OpenAI embedding models to their output size.
var modelDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
}

// DimensionFor returns the vector size of a known model, or 0.
func DimensionFor(model string) int {
	return modelDimensions[model]
}
