package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/bdougie/vibematch/internal/embeddings"
	"github.com/bdougie/vibematch/internal/models"
)

// DefaultThreshold is the minimum detection confidence kept by the adapter
const DefaultThreshold = 0.2

// Detector finds product regions in a frame for the given category prompts
type Detector interface {
	Detect(ctx context.Context, frame image.Image, prompts []string) ([]models.Detection, error)
}

// Candidate is a raw region reported by an open-vocabulary detection model,
// in center-size pixel coordinates.
type Candidate struct {
	Label string     `json:"label"`
	Score float64    `json:"score"`
	Box   [4]float64 `json:"box"` // cx, cy, w, h
}

// CenterToCorners converts a center-size box to integer pixel corners
func CenterToCorners(cx, cy, w, h float64) models.Box {
	return models.Box{
		X1: int(math.Round(cx - w/2)),
		Y1: int(math.Round(cy - h/2)),
		X2: int(math.Round(cx + w/2)),
		Y2: int(math.Round(cy + h/2)),
	}
}

// Clamp limits box to bounds
func Clamp(box models.Box, bounds image.Rectangle) models.Box {
	r := box.Rect().Intersect(bounds)
	return models.Box{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// Filter turns raw candidates into detections: it enforces the confidence
// threshold and the prompt vocabulary, converts and clamps boxes, and crops.
func Filter(frame image.Image, candidates []Candidate, prompts []string, threshold float64) []models.Detection {
	vocab := make(map[string]struct{}, len(prompts))
	for _, p := range prompts {
		vocab[p] = struct{}{}
	}

	bounds := frame.Bounds()
	detections := make([]models.Detection, 0, len(candidates))
	for _, c := range candidates {
		if c.Score <= threshold {
			continue
		}
		if _, ok := vocab[c.Label]; !ok {
			continue
		}
		box := Clamp(CenterToCorners(c.Box[0], c.Box[1], c.Box[2], c.Box[3]), bounds)
		if box.Empty() {
			continue
		}
		detections = append(detections, models.Detection{
			Category: c.Label,
			Box:      box,
			Score:    c.Score,
			Crop:     imaging.Crop(frame, box.Rect()),
		})
	}
	return detections
}

// Client calls a remote open-vocabulary detection service (OWL-ViT style)
type Client struct {
	baseURL    string
	threshold  float64
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new detection service client
func NewClient(baseURL string, threshold float64, timeout time.Duration, logger *slog.Logger) *Client {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		threshold:  threshold,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type detectRequest struct {
	Image     string   `json:"image"`
	Prompts   []string `json:"prompts"`
	Threshold float64  `json:"threshold"`
}

type detectResponse struct {
	Detections []Candidate `json:"detections"`
}

// Detect sends the frame to the detection service and post-processes its answer
func (c *Client) Detect(ctx context.Context, frame image.Image, prompts []string) ([]models.Detection, error) {
	if len(prompts) == 0 {
		return nil, nil
	}

	encoded, err := embeddings.EncodeJPEG(frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	body, err := json.Marshal(detectRequest{Image: encoded, Prompts: prompts, Threshold: c.threshold})
	if err != nil {
		return nil, fmt.Errorf("marshal detect request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detect: status %d", resp.StatusCode)
	}

	var result detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode detect response: %w", err)
	}

	detections := Filter(frame, result.Detections, prompts, c.threshold)
	c.logger.Debug("frame detections", "candidates", len(result.Detections), "kept", len(detections))
	return detections, nil
}

// IsHealthy checks whether the detection service answers
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
