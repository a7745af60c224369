package embeddings

import (
	"context"
	"hash/fnv"
	"strings"
)

// MockProvider produces deterministic pseudo-embeddings from token hashes.
// Texts sharing tokens produce nearby vectors, which is enough structure for
// retrieval tests and the --mock dev harness.
type MockProvider struct {
	// Dim is the vector dimension. Defaults to 64.
	Dim int

	// Fail, when set, makes every call return this error.
	Fail error
}

// NewMockProvider creates a deterministic mock with dimension 64.
func NewMockProvider() *MockProvider {
	return &MockProvider{Dim: 64}
}

// Name returns "mock".
func (p *MockProvider) Name() string { return "mock" }

// Dimension returns the vector dimension.
func (p *MockProvider) Dimension() int {
	if p.Dim <= 0 {
		return 64
	}
	return p.Dim
}

// Embed generates a normalized deterministic vector for text.
func (p *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.Fail != nil {
		return nil, p.Fail
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dim := p.Dimension()
	vec := make([]float32, dim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		sum := h.Sum32()
		vec[sum%uint32(dim)] += 1
		vec[(sum>>8)%uint32(dim)] += 0.5
	}
	return Normalize(vec), nil
}

// EmbedBatch generates deterministic vectors for each text.
func (p *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
