// Package batch analyses many label images from the command line.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/labelscan/internal/pipeline"
)

// ErrNoImages is returned when discovery finds nothing to process.
var ErrNoImages = errors.New("no image files found")

// ProcessBatch discovers images under paths and analyses them with pl.
func ProcessBatch(ctx context.Context, pl *pipeline.Pipeline, paths []string, cfg *Config) (*Result, error) {
	if pl == nil {
		return nil, errors.New("pipeline is nil")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	files, err := discoverImageFiles(paths, cfg.Recursive, cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover image files: %w", err)
	}
	if len(files) == 0 {
		return nil, ErrNoImages
	}
	slog.Debug("Discovered images", "count", len(files), "workers", cfg.workers())

	start := time.Now()
	items := processImages(ctx, pl, files, cfg)
	res := &Result{
		Items:       items,
		Duration:    time.Since(start),
		WorkerCount: cfg.workers(),
	}
	for _, it := range items {
		res.profile.Record(it.Analysis)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}
