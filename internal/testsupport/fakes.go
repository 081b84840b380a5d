package testsupport

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"
	"sync/atomic"

	"github.com/bdougie/vibematch/internal/models"
)

// Provider is an in-memory embedding provider. Images are looked up by the
// color of their first pixel, texts by exact string.
type Provider struct {
	mu          sync.Mutex
	Images      map[color.NRGBA][]float32
	Texts       map[string][]float32
	FailImages  map[color.NRGBA]bool
	FailBatches bool

	ImageCalls   atomic.Int64
	ImageBatches atomic.Int64
	TextCalls    atomic.Int64
}

// NewProvider returns an empty Provider
func NewProvider() *Provider {
	return &Provider{
		Images:     make(map[color.NRGBA][]float32),
		Texts:      make(map[string][]float32),
		FailImages: make(map[color.NRGBA]bool),
	}
}

// SetImage registers the vector returned for images of color c
func (p *Provider) SetImage(c color.NRGBA, v []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Images[c] = v
}

// SetText registers the vector returned for text
func (p *Provider) SetText(text string, v []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts[text] = v
}

func (p *Provider) EmbedImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	p.ImageBatches.Add(1)
	p.ImageCalls.Add(int64(len(images)))
	if p.FailBatches {
		return nil, fmt.Errorf("provider unavailable")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]float32, len(images))
	for i, img := range images {
		key := ColorKey(img)
		if p.FailImages[key] {
			return nil, fmt.Errorf("embedding failed for %v", key)
		}
		v, ok := p.Images[key]
		if !ok {
			return nil, fmt.Errorf("no embedding registered for %v", key)
		}
		out[i] = v
	}
	return out, nil
}

func (p *Provider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	p.TextCalls.Add(int64(len(texts)))

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, ok := p.Texts[text]
		if !ok {
			return nil, fmt.Errorf("no embedding registered for %q", text)
		}
		out[i] = v
	}
	return out, nil
}

// DetectFunc produces detections for a frame
type DetectFunc func(img image.Image, prompts []string) ([]models.Detection, error)

// Detector is a scripted object detector
type Detector struct {
	Fn    DetectFunc
	Calls atomic.Int64
}

func (d *Detector) Detect(ctx context.Context, img image.Image, prompts []string) ([]models.Detection, error) {
	d.Calls.Add(1)
	if d.Fn == nil {
		return nil, nil
	}
	return d.Fn(img, prompts)
}

// Stream is a scripted decoded video stream
type Stream struct {
	Rate   float64
	Frames []image.Image
	// FailAt returns an error instead of the frame at this position when >= 0
	FailAt int

	pos    int
	Closed bool
}

// NewStream returns a stream of n solid frames at rate fps. Frame i is colored
// with R=i%256, G=i/256 so tests can identify which decoded frame was emitted.
func NewStream(rate float64, n int) *Stream {
	frames := make([]image.Image, n)
	for i := range frames {
		frames[i] = Solid(FrameColor(i), 4, 4)
	}
	return &Stream{Rate: rate, Frames: frames, FailAt: -1}
}

// FrameColor is the color NewStream uses for decoded frame i
func FrameColor(i int) color.NRGBA {
	return color.NRGBA{R: uint8(i % 256), G: uint8(i / 256), B: 7, A: 255}
}

func (s *Stream) FrameRate() float64 { return s.Rate }

func (s *Stream) Next() (image.Image, error) {
	if s.FailAt >= 0 && s.pos == s.FailAt {
		return nil, io.ErrUnexpectedEOF
	}
	if s.pos >= len(s.Frames) {
		return nil, io.EOF
	}
	img := s.Frames[s.pos]
	s.pos++
	return img, nil
}

// Decoded returns how many frames were read from the stream
func (s *Stream) Decoded() int { return s.pos }

func (s *Stream) Close() error {
	s.Closed = true
	return nil
}
