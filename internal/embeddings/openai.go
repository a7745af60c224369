package embeddings

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/conductorhq/conductor/pkg/models"
)

// maxBatchSize bounds texts per embedding request.
const maxBatchSize = 100

// OpenAIProvider generates embeddings through any OpenAI-compatible API.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	dimension int
}

// OpenAIConfig configures the embedding provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string

	// Dimension declares the model's output dimension. Defaults to 1536.
	Dimension int
}

// NewOpenAIProvider creates an OpenAI-compatible embedding provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	dim := cfg.Dimension
	if dim <= 0 {
		dim = 1536
	}
	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		dimension: dim,
	}
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string { return "openai" }

// Dimension returns the configured embedding dimension.
func (p *OpenAIProvider) Dimension() int { return p.dimension }

// Embed generates a normalized embedding for one text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates normalized embeddings for multiple texts, splitting
// into provider-sized batches.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts[start:end],
			Model: openai.EmbeddingModel(p.model),
		})
		if err != nil {
			return nil, models.NewError(models.ErrUpstream, err)
		}
		if len(resp.Data) != end-start {
			return nil, models.Errorf(models.ErrUpstream, "embedding count mismatch: got %d, want %d", len(resp.Data), end-start)
		}
		for _, d := range resp.Data {
			out = append(out, Normalize(d.Embedding))
		}
	}
	return out, nil
}
