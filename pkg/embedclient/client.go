// Package embedclient provides the thin contract over the external
// embedding model plus concrete adapters: an HTTP client for a local
// Ollama-compatible server, and a fixed-vector stub for tests.
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/orneryd/noteindex/pkg/vectorops"
)

// Result is the embedding response shape: a flat concatenation of
// per-text vectors, each of length Dim.
type Result struct {
	Vector []float32
	Dim    int
}

// Client is the contract the search engine and sync orchestrator embed
// text through. Implementations must be safe for concurrent use.
type Client interface {
	// Ready performs idempotent warm-up (e.g. a health check, model
	// pull). The engine and orchestrator do not call it themselves; safe
	// to call repeatedly.
	Ready(ctx context.Context) error

	// Embed generates embeddings for texts, returned as a flat
	// concatenation of per-text vectors.
	Embed(ctx context.Context, texts []string) (Result, error)
}

// SearchQueryPrefix is prepended to query text before embedding.
const SearchQueryPrefix = "search_query: "

// NormalizeResult L2-normalizes each per-text vector in a Result
// regardless of what convention the backing model uses — the engine
// always normalizes on receipt.
func NormalizeResult(r Result) Result {
	if r.Dim == 0 || len(r.Vector) == 0 {
		return r
	}
	out := make([]float32, len(r.Vector))
	for start := 0; start+r.Dim <= len(r.Vector); start += r.Dim {
		copy(out[start:start+r.Dim], vectorops.Normalize(r.Vector[start:start+r.Dim]))
	}
	return Result{Vector: out, Dim: r.Dim}
}

// OllamaConfig configures OllamaClient.
type OllamaConfig struct {
	URL        string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// DefaultOllamaConfig returns sensible defaults for a local Ollama
// install.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		URL:        "http://localhost:11434",
		Model:      "mxbai-embed-large",
		Dimensions: 1024,
		Timeout:    30 * time.Second,
	}
}

// OllamaClient is an HTTP JSON client against a local Ollama-compatible
// embedding endpoint.
type OllamaClient struct {
	cfg        OllamaConfig
	httpClient *http.Client
}

// NewOllamaClient constructs a client from cfg, filling in defaults for
// zero fields.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	def := DefaultOllamaConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = def.Dimensions
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	return &OllamaClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Ready issues a lightweight embed call to confirm the server and model
// are reachable. Idempotent; safe to call from multiple goroutines.
func (c *OllamaClient) Ready(ctx context.Context) error {
	_, err := c.Embed(ctx, []string{"ready"})
	return err
}

// Embed embeds each text sequentially against the Ollama endpoint and
// concatenates the results. Ollama has no native batch endpoint for all
// models, so sequential calls are the simplest robust approach.
func (c *OllamaClient) Embed(ctx context.Context, texts []string) (Result, error) {
	out := make([]float32, 0, len(texts)*c.cfg.Dimensions)
	for _, text := range texts {
		vec, err := c.embedOne(ctx, text)
		if err != nil {
			return Result{}, err
		}
		out = append(out, vec...)
	}
	return Result{Vector: out, Dim: c.cfg.Dimensions}, nil
}

func (c *OllamaClient) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: c.cfg.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedclient: status %d: %s", resp.StatusCode, string(data))
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("embedclient: decode response: %w", err)
	}
	if len(parsed.Embedding) != c.cfg.Dimensions {
		return nil, fmt.Errorf("embedclient: expected %d dims, got %d", c.cfg.Dimensions, len(parsed.Embedding))
	}
	return parsed.Embedding, nil
}

// StaticClient is a fixed-vector test double: it deterministically maps
// text to a vector via a simple hash-based generator, so the same text
// always embeds to the same vector without a real model.
type StaticClient struct {
	Dimensions int
}

// NewStaticClient returns a deterministic embedder for tests.
func NewStaticClient(dimensions int) *StaticClient {
	return &StaticClient{Dimensions: dimensions}
}

func (c *StaticClient) Ready(context.Context) error { return nil }

func (c *StaticClient) Embed(_ context.Context, texts []string) (Result, error) {
	out := make([]float32, 0, len(texts)*c.Dimensions)
	for _, text := range texts {
		out = append(out, deterministicVector(text, c.Dimensions)...)
	}
	return Result{Vector: out, Dim: c.Dimensions}, nil
}

// deterministicVector derives a pseudo-random but stable vector from
// text using a simple FNV-style rolling hash per dimension slot.
func deterministicVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	var h uint64 = 1469598103934665603 // FNV offset basis
	for i := 0; i < dim; i++ {
		for _, b := range []byte(text) {
			h ^= uint64(b)
			h *= 1099511628211 // FNV prime
		}
		h ^= uint64(i)
		h *= 1099511628211
		// Map the hash into [-1, 1) via its top bits.
		v[i] = float32(int32(h>>32)) / float32(1<<31)
	}
	return v
}
