package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/config"
	"docqa/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.StoreDriver = "sqlite"
	cfg.SQLitePath = filepath.Join(t.TempDir(), "documents.db")
	cfg.StaticDir = ""
	cfg.CountPromptTokens = false
	cfg.EmbeddingDim = 128
	return cfg
}

func get(t *testing.T, s *Server, path string, out any) int {
	t.Helper()
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestNewServer_RestoresDocuments(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	first, err := NewServer(ctx, cfg)
	require.NoError(t, err)
	doc, err := first.Engine().AddDocument(ctx, "s1", "garden.pdf", "Tomato plants need full sun.", types.Metadata{Pages: 1})
	require.NoError(t, err)
	first.Stop()

	second, err := NewServer(ctx, cfg)
	require.NoError(t, err)
	defer second.Stop()

	var list struct {
		Documents []types.DocumentInfo `json:"documents"`
	}
	require.Equal(t, http.StatusOK, get(t, second, "/documents/s1", &list))
	require.Len(t, list.Documents, 1)
	assert.Equal(t, doc.ID, list.Documents[0].DocID)

	var health types.HealthResponse
	require.Equal(t, http.StatusOK, get(t, second, "/health", &health))
	assert.Equal(t, 1, health.TotalDocuments)
	assert.False(t, health.LocalLLMLoaded)

	hits := second.Engine().Retrieve(ctx, "s1", "tomato sun", 5)
	require.Len(t, hits, 1)
	assert.Equal(t, doc.ID, hits[0].DocID)
}

func TestNewServer_ModelsAndStatic(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreDriver = "memory"
	cfg.StaticDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.StaticDir, "index.html"), []byte("<html>docqa</html>"), 0o644))

	s, err := NewServer(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Stop()

	var catalog map[string][]string
	require.Equal(t, http.StatusOK, get(t, s, "/models", &catalog))
	assert.Contains(t, catalog, "local")
	assert.Contains(t, catalog, "openai")
	assert.Contains(t, catalog, "gemini")
	assert.Contains(t, catalog, "aiml_gateway")

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestNewServer_LocalModelProbe(t *testing.T) {
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/show" {
			w.Write([]byte(`{"modelfile":""}`))
			return
		}
		w.Write([]byte(`{"response":"Plants need sun.","done":true}`))
	}))
	defer ollama.Close()

	cfg := testConfig(t)
	cfg.StoreDriver = "memory"
	cfg.LocalLLMURL = ollama.URL + "/api/generate"
	cfg.LocalLLMModel = "llama3"

	s, err := NewServer(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Stop()

	var health types.HealthResponse
	get(t, s, "/health", &health)
	assert.True(t, health.LocalLLMLoaded)

	_, err = s.Engine().AddDocument(context.Background(), "s1", "garden.pdf", "Tomato plants need full sun.", types.Metadata{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(`{"question":"What do tomato plants need?","session_id":"s1"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	var answer types.AskResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&answer))
	assert.Equal(t, "Plants need sun.", answer.Answer)
}

func TestNewServer_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Embedder = "word2vec"
	_, err := NewServer(context.Background(), cfg)
	assert.ErrorContains(t, err, "creating embedder")
}
