package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"edumate-rag/internal/config"
)

const hashDimensions = 256

// NewEmbedder creates a langchaingo embedder for the configured provider.
func NewEmbedder(cfg config.EmbedConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"provider": cfg.Provider,
		"base_url": cfg.BaseURL,
		"model":    cfg.Model,
	}).Msg("Creating embedder")

	var client embeddings.EmbedderClient
	switch cfg.Provider {
	case config.ProviderOllama:
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		client = llm
	case config.ProviderOpenAI:
		llm, err := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithEmbeddingModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	return embeddings.NewEmbedder(client)
}

// NewEmbedFunc returns the embedding function shared by indexing and search.
func NewEmbedFunc(cfg config.EmbedConfig) (chromem.EmbeddingFunc, error) {
	if cfg.Provider == config.ProviderHash {
		return NewHashEmbedFunc(hashDimensions), nil
	}
	embedder, err := NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	return FromEmbedder(embedder), nil
}

// FromEmbedder adapts a langchaingo embedder to chromem's embedding signature.
func FromEmbedder(e embeddings.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		vec, err := e.EmbedQuery(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text: %w", err)
		}
		return vec, nil
	}
}

// NewHashEmbedFunc is a deterministic bag-of-words embedding that needs no model
// server. Texts sharing words end up close to each other; nothing more.
func NewHashEmbedFunc(dim int) chromem.EmbeddingFunc {
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dim)
		vec[0] = 0.01
		for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			h := fnv.New32a()
			h.Write([]byte(tok))
			vec[1+h.Sum32()%uint32(dim-1)] += 1
		}
		return normalize(vec), nil
	}
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
