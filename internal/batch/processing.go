package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MeKo-Tech/labelscan/internal/pipeline"
	"github.com/MeKo-Tech/labelscan/internal/utils"
)

// processImages analyses files with a fixed number of workers. The returned
// items keep the order of files. Without ContinueOnError the first failure
// cancels the remaining work.
func processImages(ctx context.Context, pl *pipeline.Pipeline, files []string, cfg *Config) []Item {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	items := make([]Item, len(files))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for range cfg.workers() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				items[i] = processSingleImage(ctx, pl, files[i], cfg.OverlayDir)
				if items[i].Err != nil {
					slog.Warn("Image analysis failed", "file", files[i], "error", items[i].Err)
					if !cfg.ContinueOnError {
						cancel()
					}
				}
			}
		}()
	}

feed:
	for i := range files {
		select {
		case jobs <- i:
		case <-ctx.Done():
			for j := i; j < len(files); j++ {
				items[j] = Item{Path: files[j], Err: ctx.Err()}
			}
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	return items
}

func processSingleImage(ctx context.Context, pl *pipeline.Pipeline, path, overlayDir string) Item {
	it := Item{Path: path}
	a, err := pl.AnalyzeFile(ctx, path)
	if err != nil {
		it.Err = fmt.Errorf("analysis failed for %s: %w", path, err)
		return it
	}
	it.Analysis = a

	if overlayDir != "" {
		out, err := saveOverlay(pl, a, overlayDir)
		if err != nil {
			slog.Warn("Failed to save overlay", "file", path, "error", err)
		}
		it.OverlayPath = out
	}
	return it
}

// saveOverlay writes <overlayDir>/<name>_overlay.png.
func saveOverlay(pl *pipeline.Pipeline, a *pipeline.Analysis, overlayDir string) (string, error) {
	ov := a.Annotated
	if ov == nil {
		ov = pl.Annotate(a.Source, a)
	}
	if ov == nil {
		return "", nil
	}
	if err := os.MkdirAll(overlayDir, 0o750); err != nil {
		return "", err
	}
	base := filepath.Base(a.Filename)
	outPath := filepath.Join(overlayDir, strings.TrimSuffix(base, filepath.Ext(base))+"_overlay.png")
	if err := utils.SavePNG(outPath, ov); err != nil {
		return "", err
	}
	return outPath, nil
}
