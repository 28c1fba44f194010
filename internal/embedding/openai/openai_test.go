package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wraith/internal/domain"
)

type embeddingResponse struct {
	Object string `json:"object"`
	Data   []struct {
		Object    string    `json:"object"`
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func serve(t *testing.T, status int, vec []float32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultModel, req["model"])
		assert.EqualValues(t, 4, req["dimensions"])

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded","type":"insufficient_quota"}}`))
			return
		}
		resp := embeddingResponse{Object: "list", Model: DefaultModel}
		resp.Data = append(resp.Data, struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}{Object: "embedding", Embedding: vec})
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newEmbedder(t *testing.T, url string) *Embedder {
	t.Helper()
	e, err := NewEmbedder(Config{APIKey: "test-key", BaseURL: url, Dimensions: 4})
	require.NoError(t, err)
	return e
}

func TestEmbed(t *testing.T) {
	srv := serve(t, http.StatusOK, []float32{0.1, 0.2, 0.3, 0.4})
	v, err := newEmbedder(t, srv.URL).Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, v)
}

func TestEmbed_WrongDimensions(t *testing.T) {
	srv := serve(t, http.StatusOK, []float32{0.1, 0.2})
	_, err := newEmbedder(t, srv.URL).Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, domain.ErrEmbedding)
}

func TestEmbed_APIError(t *testing.T) {
	srv := serve(t, http.StatusTooManyRequests, nil)
	_, err := newEmbedder(t, srv.URL).Embed(context.Background(), "hello")
	require.ErrorIs(t, err, domain.ErrEmbedding)
	assert.Contains(t, err.Error(), "429")
	assert.True(t, domain.IsTransient(err))
}

func TestEmbed_TransientStatuses(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, false},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := serve(t, tt.status, nil)
			_, err := newEmbedder(t, srv.URL).Embed(context.Background(), "hello")
			require.ErrorIs(t, err, domain.ErrEmbedding)
			assert.Equal(t, tt.transient, domain.IsTransient(err))
		})
	}
}

func TestNewEmbedder_Validation(t *testing.T) {
	_, err := NewEmbedder(Config{Dimensions: 4})
	assert.Error(t, err)
	_, err = NewEmbedder(Config{APIKey: "k"})
	assert.Error(t, err)
}
