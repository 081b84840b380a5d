package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bdougie/vibematch/internal/catalog"
	"github.com/bdougie/vibematch/internal/config"
	"github.com/bdougie/vibematch/internal/detector"
	"github.com/bdougie/vibematch/internal/embeddings"
	"github.com/bdougie/vibematch/internal/extractor"
	"github.com/bdougie/vibematch/internal/models"
	"github.com/bdougie/vibematch/internal/storage"
)

const healthTimeout = 5 * time.Second

type healthChecker interface {
	IsHealthy(ctx context.Context) bool
}

// Connect builds the production adapters from cfg: ffmpeg decoding, the
// detection and embedding services, the embedding cache and the result
// writer. The returned func releases anything Connect opened.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Deps, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	det := detector.NewClient(cfg.Detector.URL, cfg.Detector.Threshold, cfg.Detector.Timeout, logger.With("component", "detector"))
	emb := embeddings.NewClient(cfg.Embedding.URL, cfg.Embedding.Timeout, logger.With("component", "embeddings"))

	// Check the inference services are running
	for name, svc := range map[string]healthChecker{"detector": det, "embedding": emb} {
		checkCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		healthy := svc.IsHealthy(checkCtx)
		cancel()
		if !healthy {
			logger.Warn("inference service not reachable", "service", name)
		}
	}

	cache, closeCache, err := OpenCache(ctx, cfg, logger)
	if err != nil {
		return Deps{}, nil, err
	}

	deps := Deps{
		Decoder:  extractor.NewFFmpegDecoder(cfg.Sampler.FFmpegBin, cfg.Sampler.FFprobeBin),
		Detector: det,
		Provider: emb,
		Cache:    cache,
		Fetcher:  catalog.NewHTTPFetcher(cfg.Embedding.FetchTimeout, logger.With("component", "fetcher")),
	}
	if cfg.Data.OutputDir != "" {
		deps.Results = storage.NewJSONResultStore(cfg.Data.OutputDir)
	}
	return deps, closeCache, nil
}

// OpenCache opens the configured embedding cache backend
func OpenCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.EmbeddingCache, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Cache.Backend {
	case "postgres":
		pg := cfg.Cache.Postgres
		cache, err := storage.NewPostgresCache(ctx, storage.PostgresConfig{
			Host:     pg.Host,
			Port:     strconv.Itoa(pg.Port),
			User:     pg.User,
			Password: pg.Password,
			DBName:   pg.DBName,
			DSN:      pg.DSN,
		}, cfg.Cache.Name, logger.With("component", "cache"))
		if err != nil {
			return nil, nil, models.Wrap(models.ErrCatalogLoad, "cache", "connect postgres", err)
		}
		return cache, cache.Close, nil
	case "file", "":
		return storage.NewFileCache(cfg.Cache.Path), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}
