package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bdougie/vibematch/internal/models"
)

// EmbeddingCache persists the catalog embedding matrix between runs. Rows are
// stored and returned in catalog row order.
type EmbeddingCache interface {
	// Load returns the cached matrix; found is false when no cache exists yet
	Load(ctx context.Context) (vectors [][]float32, found bool, err error)

	// Save replaces the cached matrix
	Save(ctx context.Context, vectors [][]float32) error

	// Location describes where the cache lives, for logs
	Location() string
}

type cacheFile struct {
	Rows       int         `json:"rows"`
	Dimensions int         `json:"dimensions"`
	CreatedAt  time.Time   `json:"created_at"`
	Embeddings [][]float32 `json:"embeddings"`
}

// FileCache keeps the embedding matrix in a single JSON file
type FileCache struct {
	path string
}

// NewFileCache creates a cache stored at path
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

func (c *FileCache) Location() string { return c.path }

// Load reads the cache file. A missing file is not an error.
func (c *FileCache) Load(ctx context.Context) ([][]float32, bool, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read embedding cache: %w", err)
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, false, fmt.Errorf("decode embedding cache: %w", err)
	}
	if f.Rows != len(f.Embeddings) {
		return nil, false, fmt.Errorf("embedding cache header says %d rows, found %d", f.Rows, len(f.Embeddings))
	}
	return f.Embeddings, true, nil
}

// Save writes the matrix atomically via a temp file and rename
func (c *FileCache) Save(ctx context.Context, vectors [][]float32) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	f := cacheFile{
		Rows:       len(vectors),
		CreatedAt:  time.Now().UTC(),
		Embeddings: vectors,
	}
	if len(vectors) > 0 {
		f.Dimensions = len(vectors[0])
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal embedding cache: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write embedding cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace embedding cache: %w", err)
	}
	return nil
}

// ResultStore receives finished analysis results
type ResultStore interface {
	Save(ctx context.Context, result models.AnalysisResult) error
}

// JSONResultStore writes each result to <outputDir>/<video_id>.json
type JSONResultStore struct {
	mu        sync.Mutex
	outputDir string
}

// NewJSONResultStore creates a result store rooted at outputDir
func NewJSONResultStore(outputDir string) *JSONResultStore {
	return &JSONResultStore{outputDir: outputDir}
}

// Path returns the file a result for videoID is written to
func (s *JSONResultStore) Path(videoID string) string {
	return filepath.Join(s.outputDir, filepath.Base(videoID)+".json")
}

// Save writes result as indented JSON, replacing any earlier file for the same video
func (s *JSONResultStore) Save(ctx context.Context, result models.AnalysisResult) error {
	if result.VideoID == "" {
		return fmt.Errorf("result has no video id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.Create(s.Path(result.VideoID))
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return nil
}
