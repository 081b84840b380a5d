package embeddings

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

// Provider turns images and text prompts into unit-length vectors that live in
// the same embedding space.
type Provider interface {
	EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedImage embeds a single image
func EmbedImage(ctx context.Context, p Provider, img image.Image) ([]float32, error) {
	vectors, err := p.EmbedImages(ctx, []image.Image{img})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vectors))
	}
	return vectors[0], nil
}

// Client talks to an image/text embedding inference service (CLIP-style).
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new embedding service client
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type imageRequest struct {
	Images []string `json:"images"`
}

type textRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// EmbedImages returns one normalized embedding per image
func (c *Client) EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	if len(images) == 0 {
		return nil, nil
	}

	encoded := make([]string, len(images))
	for i, img := range images {
		s, err := EncodeJPEG(img)
		if err != nil {
			return nil, fmt.Errorf("encode image %d: %w", i, err)
		}
		encoded[i] = s
	}

	return c.post(ctx, "/embed/image", imageRequest{Images: encoded}, len(images))
}

// EmbedTexts returns one normalized embedding per text prompt
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.post(ctx, "/embed/text", textRequest{Texts: texts}, len(texts))
}

func (c *Client) post(ctx context.Context, path string, payload any, want int) ([][]float32, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed %s: status %d", path, resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	if len(result.Embeddings) != want {
		return nil, fmt.Errorf("embed %s: expected %d embeddings, got %d", path, want, len(result.Embeddings))
	}

	dim := len(result.Embeddings[0])
	out := make([][]float32, len(result.Embeddings))
	for i, v := range result.Embeddings {
		if len(v) == 0 || len(v) != dim {
			return nil, fmt.Errorf("embed %s: malformed embedding at %d", path, i)
		}
		out[i] = Normalize(v)
	}

	c.logger.Debug("embedded batch", "path", path, "count", want, "dim", dim, "took", time.Since(start))
	return out, nil
}

// IsHealthy checks whether the embedding service answers
func (c *Client) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// EncodeJPEG encodes img as a base64 JPEG payload for inference services
func EncodeJPEG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(95)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
