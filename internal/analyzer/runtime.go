package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdougie/vibematch/internal/catalog"
	"github.com/bdougie/vibematch/internal/config"
	"github.com/bdougie/vibematch/internal/detector"
	"github.com/bdougie/vibematch/internal/embeddings"
	"github.com/bdougie/vibematch/internal/extractor"
	"github.com/bdougie/vibematch/internal/matcher"
	"github.com/bdougie/vibematch/internal/storage"
	"github.com/bdougie/vibematch/internal/vibes"
)

// Deps are the external adapters the pipeline runs on
type Deps struct {
	Decoder  extractor.Decoder
	Detector detector.Detector
	Provider embeddings.Provider
	Cache    storage.EmbeddingCache
	Fetcher  catalog.ImageFetcher
	Results  storage.ResultStore
}

// Runtime is the fully initialized pipeline. Everything in it is read-only
// after Initialize and safe to share between requests.
type Runtime struct {
	Catalog   *catalog.Store
	Tagger    *vibes.Tagger
	Processor *Processor

	pool *embeddings.Pool
}

// Status summarizes what the runtime has loaded
type Status struct {
	CatalogSize int      `json:"catalog_size"`
	Categories  []string `json:"categories"`
	Vibes       []string `json:"vibes"`
}

// Initialize loads the vibe vocabulary and the catalog, then wires the
// sampler, tagger and matcher. It must finish before any video is processed.
func Initialize(ctx context.Context, cfg *config.Config, deps Deps, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	vocab, err := vibes.LoadVocabulary(cfg.Data.VibesPath)
	if err != nil {
		return nil, err
	}

	tagger, err := vibes.NewTagger(ctx, deps.Provider, vocab, vibes.Options{
		BatchSize: cfg.Vibes.BatchSize,
		MaxVibes:  cfg.Vibes.MaxVibes,
	}, logger.With("component", "vibes"))
	if err != nil {
		return nil, fmt.Errorf("initialize vibe tagger: %w", err)
	}

	pool := embeddings.NewPool(deps.Provider, cfg.Embedding.Workers)

	store, err := LoadCatalog(ctx, cfg, deps, pool, false, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	sampler, err := extractor.NewSampler(deps.Decoder, cfg.Sampler.TargetFPS, cfg.Sampler.MaxFrames, logger.With("component", "sampler"))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize sampler: %w", err)
	}

	m := matcher.New(deps.Detector, store, pool, matcher.Options{
		MatchThreshold: cfg.Matcher.MatchThreshold,
		ExactThreshold: cfg.Matcher.ExactThreshold,
		MaxProducts:    cfg.Matcher.MaxProducts,
		Workers:        cfg.Matcher.Workers,
	}, logger.With("component", "matcher"))

	logger.Info("analyzer initialized",
		"catalog_size", store.Len(),
		"categories", len(store.Categories()),
		"vibes", len(vocab),
		"took", time.Since(start))

	return &Runtime{
		Catalog:   store,
		Tagger:    tagger,
		Processor: NewProcessor(sampler, tagger, m, deps.Results, logger),
		pool:      pool,
	}, nil
}

// LoadCatalog loads the catalog store through the configured cache. With
// rebuild set, cached embeddings are ignored and overwritten.
func LoadCatalog(ctx context.Context, cfg *config.Config, deps Deps, pool *embeddings.Pool, rebuild bool, logger *slog.Logger) (*catalog.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return catalog.Load(ctx, catalog.Options{
		CatalogPath: cfg.Data.CatalogPath,
		ImagesPath:  cfg.Data.ImagesPath,
		Cache:       deps.Cache,
		Pool:        pool,
		Fetcher:     deps.Fetcher,
		Workers:     cfg.Embedding.Workers,
		Dimensions:  cfg.Embedding.Dimensions,
		Logger:      logger.With("component", "catalog"),
		Rebuild:     rebuild,
	})
}

// Status reports catalog and vocabulary sizes
func (r *Runtime) Status() Status {
	return Status{
		CatalogSize: r.Catalog.Len(),
		Categories:  r.Catalog.Categories(),
		Vibes:       r.Tagger.Vocabulary(),
	}
}

// Close releases the embedding workers
func (r *Runtime) Close() {
	r.pool.Close()
}
