package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedRestoresInputOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, InputDocument, req.InputType)
		// Answer out of order.
		resp := embeddingResponse{}
		for i := len(req.Input) - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, embeddingData{Index: i, Embedding: []float32{float32(i)}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient("key", "").WithURL(srv.URL)
	got, err := c.Embed(context.Background(), []string{"a", "b", "c"}, InputDocument)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0}, {1}, {2}}, got)
}

func TestEmbedBatchSplits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req embeddingRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := embeddingResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, embeddingData{Index: i, Embedding: []float32{1}})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient("key", "").WithURL(srv.URL)
	got, err := c.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"}, InputDocument, 2)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"bad key"}`))
	}))
	defer srv.Close()

	c := NewClient("key", "").WithURL(srv.URL)
	_, err := c.Embed(context.Background(), []string{"a"}, InputDocument)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
	assert.Equal(t, int32(1), calls.Load())
}
