package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdougie/vibematch/internal/models"
)

func TestFileCacheMissingFile(t *testing.T) {
	cache := NewFileCache(filepath.Join(t.TempDir(), "embeddings", "catalog.json"))

	vectors, found, err := cache.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, vectors)
}

func TestFileCacheSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "embeddings", "catalog.json")
	cache := NewFileCache(path)
	ctx := context.Background()

	want := [][]float32{{1, 0, 0}, {0, 0, 0}, {0.6, 0.8, 0}}
	require.NoError(t, cache.Save(ctx, want))
	assert.NoFileExists(t, path+".tmp")

	got, found, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)
	assert.Equal(t, path, cache.Location())
}

func TestFileCacheRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rows": 3, "embeddings": [[1]]}`), 0644))

	_, _, err := NewFileCache(path).Load(context.Background())
	assert.ErrorContains(t, err, "3 rows")

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0644))
	_, _, err = NewFileCache(path).Load(context.Background())
	assert.ErrorContains(t, err, "decode embedding cache")
}

func TestJSONResultStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "outputs")
	store := NewJSONResultStore(dir)

	result := models.AnalysisResult{
		VideoID: "abc-123",
		Vibes:   []string{"Coquette", "Boho"},
		Products: []models.MatchResult{{
			Type:             "dress",
			Color:            "pink",
			MatchType:        models.MatchExact,
			MatchedProductID: "15001",
			Confidence:       0.93,
			DetectionScore:   0.4,
		}},
	}
	require.NoError(t, store.Save(context.Background(), result))

	data, err := os.ReadFile(filepath.Join(dir, "abc-123.json"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "abc-123", decoded["video_id"])
	product := decoded["products"].([]any)[0].(map[string]any)
	assert.Equal(t, "exact", product["match_type"])
	assert.NotContains(t, product, "detection_score")

	assert.Error(t, store.Save(context.Background(), models.AnalysisResult{}))
}

func TestPostgresConfigConnString(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: "5432", User: "vibe", Password: "p@ss", DBName: "catalog"}
	assert.Equal(t, "postgres://vibe:p%40ss@db:5432/catalog", cfg.ConnString())

	cfg.DSN = "postgres://other"
	assert.Equal(t, "postgres://other", cfg.ConnString())
}
