package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

const ollamaDimension = 768

// OllamaProvider embeds text through a local Ollama server's /api/embed
// endpoint, by default with the nomic-embed-text model.
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client

	// lastProbe caches the health check result so Available does not hit
	// the server on every embed call.
	lastProbe   atomic.Int64 // unix nanos of last probe
	lastHealthy atomic.Bool
}

var _ Provider = (*OllamaProvider)(nil)

// OllamaConfig configures the local-server provider.
type OllamaConfig struct {
	// BaseURL is the Ollama endpoint (default http://localhost:11434).
	BaseURL string

	// Model is the embedding model name (default nomic-embed-text).
	Model string

	// Timeout bounds a single request (default 10s).
	Timeout time.Duration
}

// NewOllamaProvider builds the provider with defaults applied.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &OllamaProvider{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *OllamaProvider) Name() string        { return "ollama" }
func (p *OllamaProvider) Dimension() int      { return ollamaDimension }
func (p *OllamaProvider) MaxInputTokens() int { return 2048 }

// Available probes /api/tags, caching the result for 30 seconds.
func (p *OllamaProvider) Available(ctx context.Context) bool {
	const probeInterval = 30 * time.Second

	now := time.Now().UnixNano()
	if last := p.lastProbe.Load(); now-last < int64(probeInterval) {
		return p.lastHealthy.Load()
	}
	p.lastProbe.Store(now)

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		p.lastHealthy.Store(false)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.lastHealthy.Store(false)
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	healthy := resp.StatusCode == http.StatusOK
	p.lastHealthy.Store(healthy)
	return healthy
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// The embeddings field is a 2D array; single input means a single row.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed posts to /api/embed and returns the first embedding row.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: p.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.lastHealthy.Store(false)
		return nil, fmt.Errorf("%w: ollama: %v", ErrProviderUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: ollama returned %d: %s", ErrProviderUnavailable, resp.StatusCode, payload)
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: ollama: decode response: %v", ErrProviderUnavailable, err)
	}
	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: ollama returned no embedding", ErrProviderUnavailable)
	}
	return parsed.Embeddings[0], nil
}
