package model

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqDist(a, b []float32) float64 {
	var d float64
	for i := range a {
		x := float64(a[i] - b[i])
		d += x * x
	}
	return d
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestNewEmbedder(t *testing.T) {
	e, err := NewEmbedder(Config{Type: "hash", Dimensions: 64})
	require.NoError(t, err)
	assert.Equal(t, "hash", e.Name())
	assert.Equal(t, 64, e.Dimensions())

	_, err = NewEmbedder(Config{Type: "bogus"})
	assert.Error(t, err)

	_, err = NewEmbedder(Config{Type: "openai"})
	assert.Error(t, err, "openai requires an api key")
}

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(0)
	assert.Equal(t, DefaultHashDimensions, e.Dimensions())

	ctx := context.Background()
	vecs, err := e.Embed(ctx, []string{
		"Solar panels convert sunlight into electricity.",
		"Bread dough needs yeast and flour.",
		"",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	assert.InDelta(t, 1.0, norm(vecs[0]), 1e-5)
	assert.InDelta(t, 1.0, norm(vecs[1]), 1e-5)
	assert.Zero(t, norm(vecs[2]), "empty text embeds to the zero vector")

	again, err := e.Embed(ctx, []string{"Solar panels convert sunlight into electricity."})
	require.NoError(t, err)
	assert.Equal(t, vecs[0], again[0], "embedding is deterministic")

	q, err := EmbedOne(ctx, e, "How do solar panels make electricity?")
	require.NoError(t, err)
	assert.Less(t, sqDist(q, vecs[0]), sqDist(q, vecs[1]))
}

func TestHashEmbedder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashEmbedder(16).Embed(ctx, []string{"text"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req OllamaEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		if req.Prompt == "fail" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(OllamaEmbeddingResponse{Embedding: []float64{3, 4}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "")
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.InDelta(t, 0.6, vecs[0][0], 1e-6)
	assert.InDelta(t, 0.8, vecs[0][1], 1e-6)
	assert.Equal(t, 2, e.Dimensions())

	_, err = e.Embed(context.Background(), []string{"fail"})
	assert.ErrorContains(t, err, "status 500")
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[
			{"object":"embedding","index":1,"embedding":[0,2]},
			{"object":"embedding","index":0,"embedding":[1,0]}
		]}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder("sk-test", srv.URL+"/v1", "")
	require.NoError(t, err)
	vecs, err := e.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])
	assert.Equal(t, 2, e.Dimensions())
}
