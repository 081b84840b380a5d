package catalog

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bdougie/vibematch/internal/embeddings"
	"github.com/bdougie/vibematch/internal/models"
	"github.com/bdougie/vibematch/internal/storage"
)

// DefaultDimensions is used for an all-zero matrix when no row could be embedded
const DefaultDimensions = 512

// Hit is the nearest catalog row for a query vector
type Hit struct {
	Index      int
	Entry      models.CatalogEntry
	Similarity float64
}

// Store holds the catalog rows and one embedding per row
type Store struct {
	entries    []models.CatalogEntry
	vectors    [][]float32
	usable     []bool
	categories []string
	dim        int
}

// NewStore builds a store from rows and their embeddings. Vectors are
// normalized; zero vectors are kept but never returned as a match.
func NewStore(entries []models.CatalogEntry, vectors [][]float32) (*Store, error) {
	if len(entries) != len(vectors) {
		return nil, models.Wrap(models.ErrCatalogLoad, "catalog",
			fmt.Sprintf("embedding matrix has %d rows, catalog has %d", len(vectors), len(entries)), nil)
	}

	s := &Store{
		entries:    entries,
		vectors:    make([][]float32, len(vectors)),
		usable:     make([]bool, len(vectors)),
		categories: Categories(entries),
	}

	dim := -1
	for i, v := range vectors {
		if dim == -1 {
			dim = len(v)
		} else if len(v) != dim {
			return nil, models.Wrap(models.ErrCatalogLoad, "catalog",
				fmt.Sprintf("row %d has %d dimensions, expected %d", i, len(v), dim), nil)
		}
		s.vectors[i] = embeddings.Normalize(v)
		s.usable[i] = embeddings.Norm(v) > 0
	}
	s.dim = max(dim, 0)
	return s, nil
}

// Entries returns the catalog rows in order
func (s *Store) Entries() []models.CatalogEntry { return s.entries }

// Categories returns the distinct categories in first-seen order
func (s *Store) Categories() []string { return s.categories }

// Len returns the number of rows
func (s *Store) Len() int { return len(s.entries) }

// Dimensions returns the embedding width shared by every row, 0 for an empty store
func (s *Store) Dimensions() int { return s.dim }

// Vector returns the normalized embedding of row i
func (s *Store) Vector(i int) []float32 { return s.vectors[i] }

// Nearest returns the row with the highest cosine similarity to query. Ties go
// to the lowest row index. ok is false when no row has a usable embedding, the
// query is a zero vector or its width differs from Dimensions.
func (s *Store) Nearest(query []float32) (Hit, bool) {
	if len(query) != s.dim || embeddings.Norm(query) == 0 {
		return Hit{}, false
	}

	best := -1
	var bestSim float64
	for i, v := range s.vectors {
		if !s.usable[i] {
			continue
		}
		sim := embeddings.Cosine(query, v)
		if best == -1 || sim > bestSim {
			best, bestSim = i, sim
		}
	}

	if best == -1 {
		return Hit{}, false
	}
	return Hit{Index: best, Entry: s.entries[best], Similarity: bestSim}, true
}

// Options configures Load
type Options struct {
	CatalogPath string
	ImagesPath  string
	Cache       storage.EmbeddingCache
	Pool        *embeddings.Pool
	Fetcher     ImageFetcher
	Workers     int
	Dimensions  int
	Logger      *slog.Logger

	// Rebuild ignores an existing cache and recomputes every embedding
	Rebuild bool
}

// Load reads the catalog and returns a store. Embeddings come from the cache
// when present; otherwise they are computed and written back.
func Load(ctx context.Context, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := LoadEntries(opts.CatalogPath, opts.ImagesPath, logger)
	if err != nil {
		return nil, err
	}

	if opts.Cache != nil && !opts.Rebuild {
		vectors, found, err := opts.Cache.Load(ctx)
		if err != nil {
			return nil, models.Wrap(models.ErrCatalogLoad, "catalog", "load embedding cache "+opts.Cache.Location(), err)
		}
		if found {
			logger.Info("loaded catalog embeddings from cache",
				"location", opts.Cache.Location(),
				"rows", len(vectors))
			return NewStore(entries, vectors)
		}
	}

	if opts.Pool == nil {
		return nil, models.Wrap(models.ErrCatalogLoad, "catalog", "no embedding cache and no embedding pool", nil)
	}

	vectors, err := Build(ctx, entries, opts, logger)
	if err != nil {
		return nil, err
	}

	if opts.Cache != nil {
		if err := opts.Cache.Save(ctx, vectors); err != nil {
			logger.Warn("failed to save catalog embeddings", "location", opts.Cache.Location(), "error", err)
		} else {
			logger.Info("saved catalog embeddings", "location", opts.Cache.Location(), "rows", len(vectors))
		}
	}

	return NewStore(entries, vectors)
}

// Build computes one embedding per catalog row. Rows without an image, with a
// failed download, or with a failed embedding get a zero vector.
func Build(ctx context.Context, entries []models.CatalogEntry, opts Options, logger *slog.Logger) ([][]float32, error) {
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher(DefaultFetchTimeout, logger)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	start := time.Now()
	images := make([]image.Image, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, e := range entries {
		if e.MissingImage {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, err := fetcher.Fetch(gctx, e.ImageURL)
			if err != nil {
				if cerr := gctx.Err(); cerr != nil {
					return cerr
				}
				logger.Warn("catalog image unavailable",
					"product_id", e.ProductID,
					"url", e.ImageURL,
					"error", err)
				return nil
			}
			images[i] = img
			return nil
		})
	}
	// Download failures are tolerated per row; only cancellation aborts the build
	if err := g.Wait(); err != nil {
		return nil, models.Wrap(models.ErrCatalogLoad, "catalog", "fetch images", err)
	}

	var jobs []embeddings.Job
	var rows []int
	for i, img := range images {
		if img == nil {
			continue
		}
		jobs = append(jobs, embeddings.Job{Key: entries[i].ImageURL, Image: img})
		rows = append(rows, i)
	}

	results := opts.Pool.Embed(ctx, jobs)
	if err := ctx.Err(); err != nil {
		return nil, models.Wrap(models.ErrCatalogLoad, "catalog", "embed images", err)
	}

	vectors := make([][]float32, len(entries))
	dim := 0
	failed := 0
	for j, r := range results {
		if r.Error != nil {
			failed++
			logger.Warn("catalog image embedding failed",
				"product_id", entries[rows[j]].ProductID,
				"error", r.Error)
			continue
		}
		if dim == 0 {
			dim = len(r.Embedding)
		}
		vectors[rows[j]] = r.Embedding
	}

	if dim == 0 {
		dim = opts.Dimensions
		if dim <= 0 {
			dim = DefaultDimensions
		}
	}
	for i := range vectors {
		if vectors[i] == nil {
			vectors[i] = make([]float32, dim)
		}
	}

	logger.Info("built catalog embeddings",
		"rows", len(entries),
		"embedded", len(jobs)-failed,
		"dimensions", dim,
		"took", time.Since(start))
	return vectors, nil
}
