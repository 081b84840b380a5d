package extractor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/bdougie/vibematch/internal/models"
)

const (
	DefaultTargetRate = 1.0
	DefaultMaxFrames  = 15
)

// Stream is an open decode session. Next returns io.EOF once the stream is exhausted.
type Stream interface {
	FrameRate() float64
	Next() (image.Image, error)
	Close() error
}

// Decoder opens video files for sequential decoding
type Decoder interface {
	Open(ctx context.Context, path string) (Stream, error)
}

// Sampler pulls a bounded, evenly spaced set of frames out of a video
type Sampler struct {
	decoder    Decoder
	targetRate float64
	maxFrames  int
	logger     *slog.Logger
}

// NewSampler creates a sampler emitting roughly targetRate frames per second of
// video, at most maxFrames in total.
func NewSampler(decoder Decoder, targetRate float64, maxFrames int, logger *slog.Logger) (*Sampler, error) {
	if targetRate <= 0 || math.IsNaN(targetRate) || math.IsInf(targetRate, 0) {
		return nil, fmt.Errorf("invalid target frame rate %v", targetRate)
	}
	if maxFrames <= 0 {
		return nil, fmt.Errorf("invalid max frame count %d", maxFrames)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{decoder: decoder, targetRate: targetRate, maxFrames: maxFrames, logger: logger}, nil
}

// Interval returns how many decoded frames separate two sampled frames.
func Interval(nativeRate, targetRate float64) (int, error) {
	if nativeRate <= 0 || math.IsNaN(nativeRate) || math.IsInf(nativeRate, 0) {
		return 0, models.Wrap(models.ErrUnreadableVideo, "extractor", fmt.Sprintf("invalid native frame rate %v", nativeRate), nil)
	}
	interval := int(math.Round(nativeRate / targetRate))
	if interval < 1 {
		interval = 1
	}
	return interval, nil
}

// Sample decodes the video at path and returns the sampled frames in order.
// Any decode error discards the partial result.
func (s *Sampler) Sample(ctx context.Context, path string) (frames []models.Frame, err error) {
	stream, err := s.decoder.Open(ctx, path)
	if err != nil {
		if errors.Is(err, models.ErrUnreadableVideo) {
			return nil, err
		}
		return nil, models.Wrap(models.ErrUnreadableVideo, "extractor", "open", err)
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			s.logger.Debug("decoder close", "path", path, "error", cerr)
		}
	}()

	interval, err := Interval(stream.FrameRate(), s.targetRate)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("sampling frames",
		"path", filepath.Base(path),
		"native_fps", stream.FrameRate(),
		"interval", interval,
		"max_frames", s.maxFrames,
	)

	for decoded := 0; len(frames) < s.maxFrames; decoded++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, models.Wrap(models.ErrUnreadableVideo, "extractor", fmt.Sprintf("decode frame %d", decoded), err)
		}

		if decoded%interval != 0 {
			continue
		}
		frames = append(frames, models.Frame{
			Index:  len(frames),
			Source: decoded,
			Image:  toRGB(img),
		})
	}

	return frames, nil
}

// toRGB drops any alpha channel so every frame is an opaque RGB raster.
func toRGB(img image.Image) image.Image {
	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Opaque() {
		return nrgba
	}
	bg := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), color.NRGBA{A: 255})
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

// SaveFrames writes frames as JPEG files into outputDir, mirroring the
// frame_0001.jpg layout of ffmpeg's image2 muxer.
func SaveFrames(frames []models.Frame, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create frame directory '%s': %w", outputDir, err)
	}
	for _, f := range frames {
		path := filepath.Join(outputDir, fmt.Sprintf("frame_%04d.jpg", f.Index+1))
		if err := imaging.Save(f.Image, path); err != nil {
			return fmt.Errorf("failed to save frame %d: %w", f.Index, err)
		}
	}
	return nil
}
