package embedding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
		delta    float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0, 0.001},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.707, 0.01},
		{"empty", Vector{}, Vector{}, 0.0, 0.001},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0, 0.001},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			assert.InDelta(t, tt.expected, got, tt.delta)
		})
	}
}

func TestNewFromEnv_Disabled(t *testing.T) {
	e := NewFromEnv()
	assert.Nil(t, e)
}

func TestNewFromEnv_GeminiReadsAPIKeyAndModel(t *testing.T) {
	t.Setenv("AGENT_MEMORY_EMBED_PROVIDER", "gemini")
	t.Setenv("AGENT_MEMORY_EMBED_MODEL", "text-embedding-004")
	t.Setenv("GEMINI_API_KEY", "test-key")

	e := NewFromEnv()
	require.NotNil(t, e)
	g, ok := e.(*GeminiEmbedder)
	require.True(t, ok)
	assert.Equal(t, "test-key", g.apiKey)
	assert.Equal(t, "text-embedding-004", g.model)
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		w.Write([]byte(`{"embedding": [0.1, 0.2, 0.3]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder("nomic-embed-text")
	e.baseURL = srv.URL
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, Vector{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, 768, e.Dims())
}

func TestOllamaEmbedder_DimsForKnownModel(t *testing.T) {
	assert.Equal(t, 384, NewOllamaEmbedder("all-minilm").Dims())
	assert.Equal(t, 768, NewOllamaEmbedder("unrecognized-model").Dims())
}

func TestGeminiEmbedder_EmbedUsesQueryAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Contains(t, r.URL.Path, "embedContent")
		w.Write([]byte(`{"embedding": {"values": [0.4, 0.5]}}`))
	}))
	defer srv.Close()

	e := NewGeminiEmbedder(srv.URL, "test-key", "text-embedding-004", 0)
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, Vector{0.4, 0.5}, vec)
}

func TestGeminiEmbedder_NoEmbeddingIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embedding": {"values": []}}`))
	}))
	defer srv.Close()

	e := NewGeminiEmbedder(srv.URL, "test-key", "", 0)
	_, err := e.Embed(context.Background(), "hello")
	assert.Error(t, err)
}
