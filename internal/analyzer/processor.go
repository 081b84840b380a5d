package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bdougie/vibematch/internal/extractor"
	"github.com/bdougie/vibematch/internal/models"
	"github.com/bdougie/vibematch/internal/storage"
)

// FrameSampler turns a video file into a bounded list of frames
type FrameSampler interface {
	Sample(ctx context.Context, path string) ([]models.Frame, error)
}

// VibePredictor labels a set of frames with style vibes
type VibePredictor interface {
	Predict(ctx context.Context, frames []models.Frame) []string
}

// ProductMatcher finds catalog products in a set of frames
type ProductMatcher interface {
	Run(ctx context.Context, frames []models.Frame) ([]models.MatchResult, error)
}

// Processor runs the full analysis for one video
type Processor struct {
	sampler FrameSampler
	tagger  VibePredictor
	matcher ProductMatcher
	results storage.ResultStore
	logger  *slog.Logger

	// FramesDir, when set, receives the sampled frames of each video as JPEGs
	FramesDir string
}

// NewProcessor creates a processor. results may be nil.
func NewProcessor(sampler FrameSampler, tagger VibePredictor, matcher ProductMatcher, results storage.ResultStore, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		sampler: sampler,
		tagger:  tagger,
		matcher: matcher,
		results: results,
		logger:  logger,
	}
}

// ProcessVideo samples frames from the video at path, then tags vibes and
// matches products concurrently.
func (p *Processor) ProcessVideo(ctx context.Context, videoID, path string) (models.AnalysisResult, error) {
	logger := p.logger.With("video_id", videoID)
	logger.Info("processing video", "path", path)
	start := time.Now()

	frames, err := p.sampler.Sample(ctx, path)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	if len(frames) == 0 {
		return models.AnalysisResult{}, models.Wrap(models.ErrUnreadableVideo, "analyzer", "no frames in "+filepath.Base(path), nil)
	}
	logger.Info("sampled frames", "frames", len(frames))

	if p.FramesDir != "" {
		dir := filepath.Join(p.FramesDir, videoID)
		if err := extractor.SaveFrames(frames, dir); err != nil {
			logger.Warn("failed to save frames", "dir", dir, "error", err)
		}
	}

	var (
		vibes    []string
		products []models.MatchResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vibes = p.tagger.Predict(gctx, frames)
		return nil
	})
	g.Go(func() error {
		var err error
		products, err = p.matcher.Run(gctx, frames)
		if err != nil {
			return fmt.Errorf("match products: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return models.AnalysisResult{}, err
	}

	if vibes == nil {
		vibes = []string{}
	}
	if products == nil {
		products = []models.MatchResult{}
	}

	result := models.AnalysisResult{
		VideoID:  videoID,
		Vibes:    vibes,
		Products: products,
	}

	if p.results != nil {
		if err := p.results.Save(ctx, result); err != nil {
			logger.Warn("failed to save result", "error", err)
		}
	}

	logger.Info("video processed",
		"vibes", len(result.Vibes),
		"products", len(result.Products),
		"took", time.Since(start))
	return result, nil
}
