package embedding

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const openAIDimension = 1536

// OpenAIProvider embeds text through the OpenAI embeddings API using the
// text-embedding-3-small model.
type OpenAIProvider struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

var _ Provider = (*OpenAIProvider)(nil)

// OpenAIConfig configures the hosted embedding provider.
type OpenAIConfig struct {
	// APIKey is required; without it the provider reports unavailable.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for a compatible proxy.
	BaseURL string
}

// NewOpenAIProvider builds the hosted provider. A missing API key is not an
// error here: the chain simply skips an unavailable provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	p := &OpenAIProvider{model: openai.SmallEmbedding3}
	if cfg.APIKey == "" {
		return p
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	p.client = openai.NewClientWithConfig(config)
	return p
}

func (p *OpenAIProvider) Name() string        { return "openai" }
func (p *OpenAIProvider) Dimension() int      { return openAIDimension }
func (p *OpenAIProvider) MaxInputTokens() int { return 8191 }

// Available reports whether the provider was configured with credentials.
func (p *OpenAIProvider) Available(_ context.Context) bool { return p.client != nil }

// Embed requests a single embedding.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.client == nil {
		return nil, ErrProviderUnavailable
	}
	if text == "" {
		return nil, ErrEmptyInput
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: p.model,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai: %v", ErrProviderUnavailable, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: openai returned no embedding data", ErrProviderUnavailable)
	}

	vec := resp.Data[0].Embedding
	if len(vec) != openAIDimension {
		return nil, fmt.Errorf("openai returned %d dimensions, expected %d", len(vec), openAIDimension)
	}
	return vec, nil
}
