// Package embedding provides a pluggable interface for text embedding
// providers: a local Ollama client for the same always-available tier
// internal/executor's LocalExecutor dispatches to, and a Gemini-shaped
// remote client matching internal/executor's RemoteExecutor so the two
// "remote tier" integrations share one provider and one auth convention.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"time"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// requestTimeout bounds a single embed call. Shorter than the teacher's
// 30s: a retrieval-path embed call sits inside the same turn's budget as
// the rest of Engine.Retrieve, so a hung provider shouldn't stall a turn
// for half a minute.
const requestTimeout = 10 * time.Second

// --- Ollama provider ---

// OllamaEmbedder uses a local Ollama instance for embeddings, the same
// process internal/executor.LocalExecutor dispatches generation to.
type OllamaEmbedder struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// ollamaDims maps known Ollama embedding models to their output
// dimensionality, since the API itself doesn't report it.
var ollamaDims = map[string]int{
	"nomic-embed-text":  768,
	"all-minilm":        384,
	"mxbai-embed-large": 1024,
}

// NewOllamaEmbedder creates an embedder against Ollama's embeddings API.
// The base URL is read from OLLAMA_HOST, defaulting to
// http://localhost:11434.
func NewOllamaEmbedder(model string) *OllamaEmbedder {
	baseURL := os.Getenv("OLLAMA_HOST")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	dims, ok := ollamaDims[model]
	if !ok {
		dims = 768
	}
	return &OllamaEmbedder{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	body, _ := json.Marshal(ollamaRequest{Model: e.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama embed error %d: %s", resp.StatusCode, string(b))
	}

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Embedding, nil
}

func (e *OllamaEmbedder) Dims() int { return e.dims }

// --- Gemini provider ---

// GeminiEmbedder calls Google's embedContent API, the same family
// internal/executor.RemoteExecutor dispatches generation to, so a
// deployment wiring a Gemini API key gets both generation and embedding
// from one provider and one credential.
type GeminiEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
}

type geminiEmbedPart struct {
	Text string `json:"text"`
}
type geminiEmbedContent struct {
	Parts []geminiEmbedPart `json:"parts"`
}
type geminiEmbedRequest struct {
	Model   string             `json:"model"`
	Content geminiEmbedContent `json:"content"`
}
type geminiEmbedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

// NewGeminiEmbedder creates an embedder against Google's generative
// language API. baseURL defaults to the public endpoint, matching
// internal/executor.NewRemoteExecutor's default.
func NewGeminiEmbedder(baseURL, apiKey, model string, dims int) *GeminiEmbedder {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	if model == "" {
		model = "text-embedding-004"
	}
	if dims == 0 {
		dims = 768
	}
	return &GeminiEmbedder{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

func (e *GeminiEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	body, _ := json.Marshal(geminiEmbedRequest{
		Model:   "models/" + e.model,
		Content: geminiEmbedContent{Parts: []geminiEmbedPart{{Text: text}}},
	})

	url := fmt.Sprintf("%s/v1beta/models/%s:embedContent?key=%s", e.baseURL, e.model, e.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gemini embed error %d: %s", resp.StatusCode, string(b))
	}

	var result geminiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini returned no embedding")
	}
	return result.Embedding.Values, nil
}

func (e *GeminiEmbedder) Dims() int { return e.dims }

// --- Factory ---

// NewFromEnv builds an Embedder from environment variables, mirroring the
// env-var-only configuration internal/cli uses throughout (no config
// file loading):
//
//	AGENT_MEMORY_EMBED_PROVIDER: "ollama" | "gemini" | "" (disabled)
//	AGENT_MEMORY_EMBED_MODEL: model name
//	AGENT_MEMORY_EMBED_URL: base URL override for the gemini provider
//	  (the ollama provider reads OLLAMA_HOST instead)
//	GEMINI_API_KEY: for the gemini provider, the same variable tick.go
//	  reads for RemoteExecutor
func NewFromEnv() Embedder {
	provider := os.Getenv("AGENT_MEMORY_EMBED_PROVIDER")
	model := os.Getenv("AGENT_MEMORY_EMBED_MODEL")

	switch provider {
	case "ollama":
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaEmbedder(model)
	case "gemini":
		url := os.Getenv("AGENT_MEMORY_EMBED_URL")
		key := os.Getenv("GEMINI_API_KEY")
		return NewGeminiEmbedder(url, key, model, 0)
	default:
		return nil // embeddings disabled
	}
}
