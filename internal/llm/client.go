package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/recallkit/recallkit/pkg/types"
)

// HTTPClient talks to an Ollama-compatible completion/embedding API and
// implements Classifier, Extractor, and Embedder. Every call is rate-limited
// and passes through a shared circuit breaker.
type HTTPClient struct {
	baseURL        string
	model          string
	embeddingModel string
	client         *http.Client
	limiter        *rate.Limiter
	breaker        *Breaker
}

// HTTPConfig holds HTTPClient configuration.
type HTTPConfig struct {
	// BaseURL is the API base URL (default: http://localhost:11434).
	BaseURL string
	// Model is the completion model (default: qwen2.5:7b).
	Model string
	// EmbeddingModel is the embedding model (default: nomic-embed-text).
	EmbeddingModel string
	// Timeout bounds each request (default: 20s).
	Timeout time.Duration
	// RequestsPerSecond caps outbound call rate (default: 5).
	RequestsPerSecond float64
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// The embeddings field is a 2D array; single-input requests use the first row.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewHTTPClient creates an HTTP provider client. Zero config fields take
// their defaults.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "qwen2.5:7b"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "nomic-embed-text"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.RequestsPerSecond == 0 {
		cfg.RequestsPerSecond = 5
	}

	return &HTTPClient{
		baseURL:        cfg.BaseURL,
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		client:         &http.Client{Timeout: cfg.Timeout},
		limiter:        rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		breaker:        NewBreaker(),
	}
}

// Classify implements Classifier.
func (c *HTTPClient) Classify(ctx context.Context, req ClassifyRequest) (Decision, error) {
	raw, err := c.complete(ctx, buildClassifyPrompt(req))
	if err != nil {
		return Decision{}, err
	}
	return ParseDecision(raw)
}

// ExtractStructured implements Extractor.
func (c *HTTPClient) ExtractStructured(ctx context.Context, req ExtractRequest) ([]types.MemoryCandidate, ExtractMeta, error) {
	raw, err := c.complete(ctx, buildExtractPrompt(req))
	if err != nil {
		return nil, ExtractMeta{}, err
	}
	return ParseExtraction(raw)
}

// Embed implements Embedder.
func (c *HTTPClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(ctx, func() (any, error) {
		return c.embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

// complete sends one completion request through the limiter and breaker.
func (c *HTTPClient) complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	result, err := c.breaker.Execute(ctx, func() (any, error) {
		return c.generate(ctx, prompt)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("llm: provider circuit open: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

func (c *HTTPClient) generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("llm: failed to marshal request: %w", err)
	}

	resp, err := c.post(ctx, "/api/generate", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("llm: generate returned %d: %s", resp.StatusCode, payload)
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("llm: failed to decode generate response: %w", err)
	}
	return parsed.Response, nil
}

func (c *HTTPClient) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.embeddingModel, Input: text})
	if err != nil {
		return nil, fmt.Errorf("llm: failed to marshal embed request: %w", err)
	}

	resp, err := c.post(ctx, "/api/embed", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("llm: embed returned %d: %s", resp.StatusCode, payload)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("llm: failed to decode embed response: %w", err)
	}
	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("llm: embed returned no vectors")
	}
	return parsed.Embeddings[0], nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: request failed: %w", err)
	}
	return resp, nil
}
