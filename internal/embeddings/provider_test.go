package embeddings

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/vibematch/internal/testsupport"
)

func TestClientEmbedImagesNormalizes(t *testing.T) {
	var got imageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed/image", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{3, 4}, {0, 2}}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", time.Second, nil)
	imgs := []image.Image{
		testsupport.Solid(color.NRGBA{R: 255, A: 255}, 8, 8),
		testsupport.Solid(color.NRGBA{G: 255, A: 255}, 8, 8),
	}

	vectors, err := c.EmbedImages(context.Background(), imgs)
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, got.Images, 2)
	assert.NotEmpty(t, got.Images[0])
	assert.InDelta(t, 0.6, vectors[0][0], 1e-6)
	assert.InDelta(t, 1.0, vectors[1][1], 1e-6)
}

func TestClientEmbedTexts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed/text", r.URL.Path)
		var req textRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a boho fashion style"}, req.Texts)
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0, 5}}})
	}))
	defer srv.Close()

	vectors, err := NewClient(srv.URL, time.Second, nil).EmbedTexts(context.Background(), []string{"a boho fashion style"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}}, vectors)
}

func TestClientRejectsBadResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload embedResponse
		wantErr string
	}{
		{name: "server error", status: http.StatusInternalServerError, wantErr: "status 500"},
		{name: "count mismatch", status: http.StatusOK, payload: embedResponse{Embeddings: [][]float32{{1}, {1}}}, wantErr: "expected 1 embeddings"},
		{name: "empty vector", status: http.StatusOK, payload: embedResponse{Embeddings: [][]float32{{}}}, wantErr: "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(tt.payload)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second, nil).EmbedTexts(context.Background(), []string{"x"})
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestClientHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.True(t, NewClient(srv.URL, time.Second, nil).IsHealthy(context.Background()))
	srv.Close()
	assert.False(t, NewClient(srv.URL, time.Second, nil).IsHealthy(context.Background()))
}
