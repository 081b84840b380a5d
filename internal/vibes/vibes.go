package vibes

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/bdougie/vibematch/internal/embeddings"
	"github.com/bdougie/vibematch/internal/models"
)

const (
	DefaultBatchSize = 4
	DefaultMaxVibes  = 3

	promptTemplate = "a %s fashion style"
)

// LoadVocabulary reads a JSON array of vibe labels. Blank and repeated labels
// are dropped.
func LoadVocabulary(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vibe vocabulary: %w", err)
	}

	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse vibe vocabulary %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(raw))
	vocab := make([]string, 0, len(raw))
	for _, v := range raw {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		vocab = append(vocab, v)
	}

	if len(vocab) == 0 {
		return nil, fmt.Errorf("vibe vocabulary %s is empty", path)
	}
	return vocab, nil
}

// Prompt returns the text prompt embedded for a vibe label
func Prompt(vibe string) string {
	return fmt.Sprintf(promptTemplate, vibe)
}

// Options tunes prediction
type Options struct {
	BatchSize int
	MaxVibes  int
}

// Tagger assigns style labels to a whole video
type Tagger struct {
	provider embeddings.Provider
	vocab    []string
	vectors  [][]float32
	opts     Options
	logger   *slog.Logger
}

// NewTagger embeds one prompt per vibe up front
func NewTagger(ctx context.Context, provider embeddings.Provider, vocab []string, opts Options, logger *slog.Logger) (*Tagger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vibe vocabulary is empty")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxVibes <= 0 {
		opts.MaxVibes = DefaultMaxVibes
	}

	prompts := make([]string, len(vocab))
	for i, v := range vocab {
		prompts[i] = Prompt(v)
	}

	vectors, err := provider.EmbedTexts(ctx, prompts)
	if err != nil {
		return nil, fmt.Errorf("embed vibe prompts: %w", err)
	}
	if len(vectors) != len(vocab) {
		return nil, fmt.Errorf("embed vibe prompts: expected %d embeddings, got %d", len(vocab), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != len(vectors[0]) || embeddings.Norm(v) == 0 {
			return nil, fmt.Errorf("embed vibe prompts: malformed embedding for %q", vocab[i])
		}
		vectors[i] = embeddings.Normalize(v)
	}

	logger.Info("vibe tagger ready", "vibes", len(vocab), "dimensions", len(vectors[0]))
	return &Tagger{
		provider: provider,
		vocab:    vocab,
		vectors:  vectors,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Vocabulary returns the vibe labels in vocabulary order
func (t *Tagger) Vocabulary() []string { return t.vocab }

// Predict returns up to MaxVibes labels that best describe frames. Failures
// are logged and produce an empty list.
func (t *Tagger) Predict(ctx context.Context, frames []models.Frame) []string {
	if len(frames) == 0 {
		return []string{}
	}

	vibes, err := t.predict(ctx, frames)
	if err != nil {
		t.logger.Warn("vibe prediction failed",
			"frames", len(frames),
			"error", models.Wrap(models.ErrVibePrediction, "vibes", "", err))
		return []string{}
	}
	return vibes
}

func (t *Tagger) predict(ctx context.Context, frames []models.Frame) ([]string, error) {
	frameVectors := make([][]float32, 0, len(frames))
	for start := 0; start < len(frames); start += t.opts.BatchSize {
		end := min(start+t.opts.BatchSize, len(frames))

		batch := make([]image.Image, 0, end-start)
		for _, f := range frames[start:end] {
			batch = append(batch, f.Image)
		}

		vectors, err := t.provider.EmbedImages(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed frames %d-%d: %w", start, end-1, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embed frames %d-%d: expected %d embeddings, got %d", start, end-1, len(batch), len(vectors))
		}
		for _, v := range vectors {
			frameVectors = append(frameVectors, embeddings.Normalize(v))
		}
	}

	video, err := embeddings.Mean(frameVectors)
	if err != nil {
		return nil, err
	}
	if embeddings.Norm(video) == 0 {
		return nil, fmt.Errorf("video embedding has zero length")
	}
	if len(video) != len(t.vectors[0]) {
		return nil, fmt.Errorf("video embedding has %d dimensions, vibes have %d", len(video), len(t.vectors[0]))
	}

	type scored struct {
		index int
		sim   float64
	}
	scores := make([]scored, len(t.vectors))
	for i, v := range t.vectors {
		scores[i] = scored{index: i, sim: embeddings.Cosine(video, v)}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].sim > scores[j].sim
	})

	k := min(t.opts.MaxVibes, len(scores))
	out := make([]string, k)
	for i := 0; i < k; i++ {
		out[i] = t.vocab[scores[i].index]
	}
	return out, nil
}
