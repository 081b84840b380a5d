package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bdougie/vibematch/internal/catalog"
	"github.com/bdougie/vibematch/internal/detector"
	"github.com/bdougie/vibematch/internal/embeddings"
	"github.com/bdougie/vibematch/internal/models"
)

// Defaults used when Options leaves a field unset
const (
	DefaultMatchThreshold = 0.75
	DefaultExactThreshold = 0.9
	DefaultMaxProducts    = 4
	DefaultWorkers        = 4
)

// Index is the catalog view the matcher needs
type Index interface {
	Nearest(query []float32) (catalog.Hit, bool)
	Categories() []string
	Dimensions() int
}

// Options tunes matching
type Options struct {
	MatchThreshold float64
	ExactThreshold float64
	MaxProducts    int
	Workers        int
}

func (o Options) withDefaults() Options {
	if o.MatchThreshold <= 0 {
		o.MatchThreshold = DefaultMatchThreshold
	}
	if o.ExactThreshold <= 0 {
		o.ExactThreshold = DefaultExactThreshold
	}
	if o.MaxProducts <= 0 {
		o.MaxProducts = DefaultMaxProducts
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	return o
}

// Matcher finds catalog products visible in a set of frames
type Matcher struct {
	detector detector.Detector
	index    Index
	pool     *embeddings.Pool
	opts     Options
	logger   *slog.Logger
}

// New creates a matcher. The pool is shared and not closed by the matcher.
func New(d detector.Detector, index Index, pool *embeddings.Pool, opts Options, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		detector: d,
		index:    index,
		pool:     pool,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// Run detects and matches products across frames
func (m *Matcher) Run(ctx context.Context, frames []models.Frame) ([]models.MatchResult, error) {
	detections, err := m.Detect(ctx, frames)
	if err != nil {
		return nil, err
	}
	return m.Match(ctx, detections), nil
}

type frameWork struct {
	slot  int
	frame models.Frame
}

type frameResult struct {
	slot       int
	detections []models.Detection
	err        error
}

// Detect runs the detector over every frame on a worker pool. Detections are
// returned in frame order. A frame whose detection fails is skipped; if every
// frame fails the error is ErrDetection.
func (m *Matcher) Detect(ctx context.Context, frames []models.Frame) ([]models.Detection, error) {
	if len(frames) == 0 {
		return nil, nil
	}

	prompts := m.index.Categories()
	start := time.Now()

	workChan := make(chan frameWork, len(frames))
	resultsChan := make(chan frameResult, len(frames))

	var remaining atomic.Int64
	remaining.Store(int64(len(frames)))

	var wg sync.WaitGroup
	for i := 0; i < m.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for work := range workChan {
				res := frameResult{slot: work.slot}
				if err := ctx.Err(); err != nil {
					res.err = err
				} else {
					res.detections, res.err = m.detector.Detect(ctx, work.frame.Image, prompts)
				}
				resultsChan <- res

				left := remaining.Add(-1)
				m.logger.Debug("frame detected",
					"frame", work.frame.Index,
					"remaining", left,
					"total", len(frames))
			}
		}()
	}

	for i, f := range frames {
		workChan <- frameWork{slot: i, frame: f}
	}
	close(workChan)

	wg.Wait()
	close(resultsChan)

	perFrame := make([][]models.Detection, len(frames))
	failed := 0
	var lastErr error
	for res := range resultsChan {
		if res.err != nil {
			failed++
			lastErr = res.err
			m.logger.Warn("detection failed for frame",
				"frame", frames[res.slot].Index,
				"error", res.err)
			continue
		}
		perFrame[res.slot] = res.detections
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failed == len(frames) {
		return nil, models.Wrap(models.ErrDetection, "matcher",
			fmt.Sprintf("all %d frames failed", len(frames)), lastErr)
	}

	var detections []models.Detection
	for slot, dets := range perFrame {
		for _, d := range dets {
			d.Frame = frames[slot].Index
			detections = append(detections, d)
		}
	}

	m.logger.Info("detection complete",
		"frames", len(frames),
		"failed_frames", failed,
		"detections", len(detections),
		"took", time.Since(start))
	return detections, nil
}

// Match embeds each detection crop, finds its nearest catalog product and
// returns the deduplicated, ranked matches.
func (m *Matcher) Match(ctx context.Context, detections []models.Detection) []models.MatchResult {
	if len(detections) == 0 {
		return []models.MatchResult{}
	}

	jobs := make([]embeddings.Job, len(detections))
	for i, d := range detections {
		jobs[i] = embeddings.Job{Image: d.Crop}
	}
	results := m.pool.Embed(ctx, jobs)

	dim := m.index.Dimensions()
	mismatched := 0
	matches := make([]models.MatchResult, 0, len(detections))
	for i, r := range results {
		d := detections[i]
		if r.Error != nil {
			err := models.Wrap(models.ErrCropEmbedding, "matcher", fmt.Sprintf("frame %d %s", d.Frame, d.Category), r.Error)
			m.logger.Warn("skipping detection", "error", err)
			continue
		}
		if len(r.Embedding) != dim {
			if mismatched == 0 {
				m.logger.Warn("crop embedding width does not match catalog, rebuild the catalog index",
					"crop_dimensions", len(r.Embedding),
					"catalog_dimensions", dim)
			}
			mismatched++
			continue
		}

		hit, ok := m.index.Nearest(r.Embedding)
		if !ok || hit.Similarity < m.opts.MatchThreshold {
			continue
		}

		matchType := models.MatchSimilar
		if hit.Similarity >= m.opts.ExactThreshold {
			matchType = models.MatchExact
		}
		matches = append(matches, models.MatchResult{
			Type:             hit.Entry.Category,
			Color:            hit.Entry.Color,
			MatchType:        matchType,
			MatchedProductID: hit.Entry.ProductID,
			Confidence:       hit.Similarity,
			DetectionScore:   d.Score,
		})
	}

	if mismatched > 0 {
		m.logger.Warn("detections skipped for embedding width mismatch", "skipped", mismatched, "total", len(detections))
	}
	return Rank(matches, m.opts.MaxProducts)
}

// Rank keeps the most confident match per product, orders by confidence
// weighted by detection score and truncates to limit. Equal confidences keep
// the first match seen; equal scores keep first-seen order.
func Rank(matches []models.MatchResult, limit int) []models.MatchResult {
	position := make(map[string]int, len(matches))
	deduped := make([]models.MatchResult, 0, len(matches))
	for _, mr := range matches {
		i, seen := position[mr.MatchedProductID]
		if !seen {
			position[mr.MatchedProductID] = len(deduped)
			deduped = append(deduped, mr)
			continue
		}
		if mr.Confidence > deduped[i].Confidence {
			deduped[i] = mr
		}
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Score() > deduped[j].Score()
	})

	if limit > 0 && len(deduped) > limit {
		deduped = deduped[:limit]
	}
	return deduped
}
