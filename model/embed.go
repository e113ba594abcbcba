package model

import (
	"context"
	"fmt"
	"log/slog"
	"math"
)

// Embedder maps passages and queries to fixed-dimension vectors. The same
// embedder must be used for passages and for the queries run against them.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

type Config struct {
	Type       string // hash, ollama or openai
	Model      string
	URL        string
	APIKey     string
	Dimensions int
}

// NewEmbedder builds the embedder selected by cfg.Type.
func NewEmbedder(cfg Config) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch cfg.Type {
	case "hash", "":
		e = NewHashEmbedder(cfg.Dimensions)
	case "ollama":
		e = NewOllamaEmbedder(cfg.URL, cfg.Model)
	case "openai":
		e, err = NewOpenAIEmbedder(cfg.APIKey, cfg.URL, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("[EMBEDDER] embedder ready", "type", e.Name(), "model", cfg.Model)
	return e, nil
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder %s returned %d vectors for 1 text", e.Name(), len(vecs))
	}
	return vecs[0], nil
}

// normalize scales vec to unit length in place. Zero vectors are left as is.
func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	for i, x := range vec {
		vec[i] = float32(float64(x) / norm)
	}
	return vec
}
