package detector

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

	"github.com/bdougie/vibematch/internal/models"
	"github.com/bdougie/vibematch/internal/testsupport"
)

func TestCenterToCorners(t *testing.T) {
	assert.Equal(t, models.Box{X1: 10, Y1: 20, X2: 30, Y2: 60}, CenterToCorners(20, 40, 20, 40))
	assert.Equal(t, models.Box{X1: 10, Y1: 10, X2: 15, Y2: 15}, CenterToCorners(12.6, 12.4, 5, 5))
}

func TestClamp(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 50)
	assert.Equal(t, models.Box{X1: 0, Y1: 10, X2: 100, Y2: 50}, Clamp(models.Box{X1: -5, Y1: 10, X2: 120, Y2: 70}, bounds))
	assert.True(t, Clamp(models.Box{X1: 200, Y1: 200, X2: 210, Y2: 210}, bounds).Empty())
}

func TestFilter(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	frame := testsupport.Solid(color.NRGBA{A: 255}, 100, 100)
	testsupport.Paint(frame, image.Rect(10, 10, 30, 50), red)

	candidates := []Candidate{
		{Label: "dress", Score: 0.8, Box: [4]float64{20, 30, 20, 40}},
		{Label: "dress", Score: 0.2, Box: [4]float64{20, 30, 20, 40}}, // at threshold
		{Label: "hat", Score: 0.9, Box: [4]float64{20, 30, 20, 40}},   // not a prompt
		{Label: "top", Score: 0.5, Box: [4]float64{500, 500, 10, 10}}, // outside frame
		{Label: "top", Score: 0.5, Box: [4]float64{95, 95, 20, 20}},   // clipped
	}

	detections := Filter(frame, candidates, []string{"dress", "top"}, 0.2)
	require.Len(t, detections, 2)

	d := detections[0]
	assert.Equal(t, "dress", d.Category)
	assert.Equal(t, models.Box{X1: 10, Y1: 10, X2: 30, Y2: 50}, d.Box)
	assert.Equal(t, 20, d.Crop.Bounds().Dx())
	assert.Equal(t, 40, d.Crop.Bounds().Dy())
	assert.Equal(t, red, testsupport.ColorKey(d.Crop))

	assert.Equal(t, models.Box{X1: 85, Y1: 85, X2: 100, Y2: 100}, detections[1].Box)
}

func TestClientDetect(t *testing.T) {
	var got detectRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/detect", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(detectResponse{Detections: []Candidate{
			{Label: "jacket", Score: 0.6, Box: [4]float64{8, 8, 8, 8}},
			{Label: "jacket", Score: 0.1, Box: [4]float64{8, 8, 8, 8}},
		}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, time.Second, nil)
	frame := testsupport.Solid(color.NRGBA{B: 200, A: 255}, 16, 16)

	detections, err := c.Detect(context.Background(), frame, []string{"jacket", "skirt"})
	require.NoError(t, err)
	require.Len(t, detections, 1)
	assert.Equal(t, models.Box{X1: 4, Y1: 4, X2: 12, Y2: 12}, detections[0].Box)
	assert.Equal(t, []string{"jacket", "skirt"}, got.Prompts)
	assert.Equal(t, DefaultThreshold, got.Threshold)
	assert.NotEmpty(t, got.Image)
}

func TestClientDetectErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	frame := testsupport.Solid(color.NRGBA{A: 255}, 4, 4)
	_, err := NewClient(srv.URL, 0.3, time.Second, nil).Detect(context.Background(), frame, []string{"top"})
	assert.ErrorContains(t, err, "status 503")

	detections, err := NewClient(srv.URL, 0.3, time.Second, nil).Detect(context.Background(), frame, nil)
	assert.NoError(t, err)
	assert.Empty(t, detections)
}

func TestClientIsHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	c := NewClient(srv.URL, 0, time.Second, nil)
	assert.True(t, c.IsHealthy(context.Background()))

	srv.Close()
	assert.False(t, c.IsHealthy(context.Background()))
}
