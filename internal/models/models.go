package models

import "image"

// Frame is a single sampled video frame
type Frame struct {
	Index  int         // position in the sampled sequence, 0-based
	Source int         // decoded frame number in the source video
	Image  image.Image // RGB raster
}

// Width returns the frame width in pixels
func (f Frame) Width() int { return f.Image.Bounds().Dx() }

// Height returns the frame height in pixels
func (f Frame) Height() int { return f.Image.Bounds().Dy() }

// Box is a bounding box in pixel corner coordinates
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Empty reports whether the box has no area
func (b Box) Empty() bool {
	return b.X2 <= b.X1 || b.Y2 <= b.Y1
}

// Rect converts the box to an image.Rectangle
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Detection is a candidate product region found in a frame
type Detection struct {
	Category string
	Box      Box
	Score    float64
	Crop     image.Image
	Frame    int
}

// CatalogEntry is a single catalog row after the image table join
type CatalogEntry struct {
	ProductID    string `json:"product_id"`
	Category     string `json:"category"`
	Color        string `json:"color"`
	ImageURL     string `json:"image_url,omitempty"`
	MissingImage bool   `json:"missing_image,omitempty"`
}

// MatchType classifies how close a match is
type MatchType string

const (
	MatchExact   MatchType = "exact"
	MatchSimilar MatchType = "similar"
)

// MatchResult represents a detection matched to a catalog product
type MatchResult struct {
	Type             string    `json:"type"`
	Color            string    `json:"color"`
	MatchType        MatchType `json:"match_type"`
	MatchedProductID string    `json:"matched_product_id"`
	Confidence       float64   `json:"confidence"`
	DetectionScore   float64   `json:"-"`
}

// Score is the ranking key: visual confidence weighted by detection confidence
func (m MatchResult) Score() float64 {
	return m.Confidence * m.DetectionScore
}

// AnalysisResult is the outcome of analyzing one video
type AnalysisResult struct {
	VideoID  string        `json:"video_id"`
	Vibes    []string      `json:"vibes"`
	Products []MatchResult `json:"products"`
}
