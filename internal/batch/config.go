package batch

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/MeKo-Tech/labelscan/internal/pipeline"
)

// Config holds batch analysis settings.
type Config struct {
	Workers    int
	OverlayDir string

	// File discovery
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// ContinueOnError records per-file failures instead of aborting.
	ContinueOnError bool
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() *Config {
	return &Config{Workers: runtime.NumCPU(), ContinueOnError: true}
}

func (c *Config) workers() int {
	if c.Workers < 1 {
		return 1
	}
	return c.Workers
}

// Item is the outcome for one file.
type Item struct {
	Path        string
	Analysis    *pipeline.Analysis
	OverlayPath string
	Err         error
}

// Result holds the outcome of a batch run in discovery order.
type Result struct {
	Items       []Item
	Duration    time.Duration
	WorkerCount int

	profile pipeline.Profiler
}

// Analyses returns the successful analyses in discovery order.
func (r *Result) Analyses() []*pipeline.Analysis {
	out := make([]*pipeline.Analysis, 0, len(r.Items))
	for _, it := range r.Items {
		if it.Analysis != nil {
			out = append(out, it.Analysis)
		}
	}
	return out
}

// Failed returns the items that could not be analysed.
func (r *Result) Failed() []Item {
	var out []Item
	for _, it := range r.Items {
		if it.Err != nil {
			out = append(out, it)
		}
	}
	return out
}

// FormatResults formats the analyses in the given format.
func (r *Result) FormatResults(format string) (string, error) {
	return formatBatchResults(r.Analyses(), format)
}

// SaveResults writes the formatted results to outputFile, or stdout when empty.
func (r *Result) SaveResults(format, outputFile string, quiet bool) error {
	output, err := r.FormatResults(format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		if !quiet {
			_, _ = fmt.Fprintf(os.Stdout, "Results written to %s\n", outputFile)
		}
	} else {
		_, _ = fmt.Fprintln(os.Stdout, output)
	}
	return nil
}

// PrintStats writes processing statistics to w.
func (r *Result) PrintStats(w io.Writer) {
	snap := r.profile.Snapshot()
	_, _ = fmt.Fprintf(w, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Total images: %d\n", len(r.Items))
	_, _ = fmt.Fprintf(w, "  Processed: %v\n", snap["images"])
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", len(r.Failed()))
	_, _ = fmt.Fprintf(w, "  Barcodes: %v\n", snap["barcodes"])
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", r.WorkerCount)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", r.Duration.Round(time.Millisecond))
	if n := len(r.Items); n > 0 && r.Duration > 0 {
		_, _ = fmt.Fprintf(w, "  Throughput: %.1f images/sec\n", float64(n)/r.Duration.Seconds())
	}
}
