package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnreadableVideo marks input that cannot be decoded. Client error.
	ErrUnreadableVideo = errors.New("unreadable video")
	// ErrCatalogLoad marks a catalog or embedding cache that cannot be used. Fatal at startup.
	ErrCatalogLoad = errors.New("catalog load error")
	// ErrCropEmbedding marks a single crop that could not be embedded.
	ErrCropEmbedding = errors.New("crop embedding failure")
	// ErrVibePrediction marks a failed vibe prediction.
	ErrVibePrediction = errors.New("vibe prediction failure")
	// ErrDetection marks a detection stage where no frame could be processed.
	ErrDetection = errors.New("detection failure")
)

// Wrap tags err with marker so callers can classify it with errors.Is while
// keeping the stage and operation in the message.
func Wrap(marker error, stage, operation string, err error) error {
	parts := make([]string, 0, 2)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	detail := strings.Join(parts, ": ")
	switch {
	case err == nil && detail == "":
		return marker
	case err == nil:
		return fmt.Errorf("%w: %s", marker, detail)
	case detail == "":
		return fmt.Errorf("%w: %w", marker, err)
	default:
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
}

// IsClientError reports whether err was caused by the caller's input
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnreadableVideo)
}
