package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/labelscan/internal/batch"
	"github.com/MeKo-Tech/labelscan/internal/config"
	"github.com/MeKo-Tech/labelscan/internal/layout"
	"github.com/MeKo-Tech/labelscan/internal/pipeline"
	"github.com/MeKo-Tech/labelscan/internal/records"
	"github.com/MeKo-Tech/labelscan/internal/reference"
	"github.com/MeKo-Tech/labelscan/internal/store"
)

// analyzeCmd analyzes label images from the command line.
var analyzeCmd = &cobra.Command{
	Use:   "analyze [files or directories...]",
	Short: "Decode and order the barcodes on label images",
	Long: `Decode every barcode on one or more label images, assign reading order and
normalized positions, and print the result.

Supported formats: JPEG, PNG, BMP, TIFF, WebP

Examples:
  labelscan analyze label.png
  labelscan analyze labels/ --recursive --workers 8 --format csv
  labelscan analyze label.png --overlay-dir out/ --order-policy ltr
  labelscan analyze label.png --submit --vendor ACME --qty 4`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runAnalyzeCommand,
}

// configToPipelineConfig maps the centralized configuration to
// pipeline.Config, applying flag overrides.
func configToPipelineConfig(cfg *config.Config, cmd *cobra.Command) (pipeline.Config, error) {
	pc, err := cfg.ToPipelineConfig()
	if err != nil {
		return pc, err
	}
	if cmd.Flags().Changed("order-policy") {
		s, _ := cmd.Flags().GetString("order-policy")
		if pc.OrderPolicy, err = layout.ParseOrderPolicy(s); err != nil {
			return pc, err
		}
	}
	if cmd.Flags().Changed("extent-mode") {
		s, _ := cmd.Flags().GetString("extent-mode")
		if pc.ExtentMode, err = layout.ParseExtentMode(s); err != nil {
			return pc, err
		}
	}
	if cmd.Flags().Changed("barcode-formats") {
		pc.Barcode.Formats, _ = cmd.Flags().GetStringSlice("barcode-formats")
	}
	if cmd.Flags().Changed("try-harder") {
		pc.Barcode.TryHarder, _ = cmd.Flags().GetBool("try-harder")
	}
	return pc, nil
}

// configToBatchConfig maps the centralized configuration to batch.Config.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) *batch.Config {
	bc := &batch.Config{
		Workers:         cfg.Batch.Workers,
		OverlayDir:      cfg.Output.OverlayDir,
		Recursive:       cfg.Batch.Recursive,
		ContinueOnError: cfg.Batch.ContinueOnError,
	}
	if cmd.Flags().Changed("workers") {
		bc.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if cmd.Flags().Changed("overlay-dir") {
		bc.OverlayDir, _ = cmd.Flags().GetString("overlay-dir")
	}
	if cmd.Flags().Changed("recursive") {
		bc.Recursive, _ = cmd.Flags().GetBool("recursive")
	}
	if cmd.Flags().Changed("fail-fast") {
		failFast, _ := cmd.Flags().GetBool("fail-fast")
		bc.ContinueOnError = !failFast
	}
	bc.IncludePatterns, _ = cmd.Flags().GetStringSlice("include")
	bc.ExcludePatterns, _ = cmd.Flags().GetStringSlice("exclude")
	return bc
}

func runAnalyzeCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	format := cfg.Output.Format
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}
	outputFile := cfg.Output.File
	if cmd.Flags().Changed("output") {
		outputFile, _ = cmd.Flags().GetString("output")
	}
	quiet, _ := cmd.Flags().GetBool("quiet")
	submit, _ := cmd.Flags().GetBool("submit")
	vendor, _ := cmd.Flags().GetString("vendor")
	if submit && vendor == "" {
		return errors.New("--submit requires --vendor")
	}

	pc, err := configToPipelineConfig(cfg, cmd)
	if err != nil {
		return err
	}
	pl, err := pipeline.NewBuilder().WithConfig(pc).Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer func() { _ = pl.Close() }()

	result, err := batch.ProcessBatch(cmd.Context(), pl, args, configToBatchConfig(cfg, cmd))
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	for _, it := range result.Failed() {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", it.Path, it.Err)
	}
	if len(result.Analyses()) == 0 {
		return fmt.Errorf("no image could be analyzed (%d failed)", len(result.Failed()))
	}

	if outputFile != "" {
		if err := result.SaveResults(format, outputFile, quiet); err != nil {
			return err
		}
	} else {
		output, err := result.FormatResults(format)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), output)
	}

	if stats, _ := cmd.Flags().GetBool("stats"); stats {
		result.PrintStats(cmd.ErrOrStderr())
	}

	if submit {
		qty, _ := cmd.Flags().GetInt("qty")
		return submitAnalyses(cmd.Context(), cfg, result.Analyses(), vendor, qty, cmd.ErrOrStderr())
	}
	return nil
}

// submitAnalyses stores each analysis with barcodes as one batch.
func submitAnalyses(ctx context.Context, cfg *config.Config, analyses []*pipeline.Analysis, vendor string, qty int, w io.Writer) error {
	refs, err := reference.Load(cfg.Reference.Path)
	if err != nil {
		return fmt.Errorf("loading reference lists: %w", err)
	}
	if err := refs.Check(vendor, nil); err != nil {
		if cfg.Reference.Strict {
			return err
		}
		slog.Warn("Vendor is not in the reference list", "vendor", vendor)
	}

	sc, err := cfg.ToStoreConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, sc)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = st.Close() }()

	for _, an := range analyses {
		if len(an.Detections) == 0 {
			_, _ = fmt.Fprintf(w, "%s: no barcodes, nothing submitted\n", an.Filename)
			continue
		}
		recs := records.Assemble(an.Detections, records.Metadata{Vendor: vendor, Qty: qty}, st.Schema())
		rcpt, err := st.Submit(ctx, store.Batch{Vendor: vendor, Qty: qty, ResultID: an.ResultID, Records: recs})
		if err != nil {
			return fmt.Errorf("submitting %s: %w", an.Filename, err)
		}
		if rcpt.Revision > 0 {
			_, _ = fmt.Fprintf(w, "%s: stored %d barcodes for %s (revision %d)\n", an.Filename, rcpt.Records, vendor, rcpt.Revision)
		} else {
			_, _ = fmt.Fprintf(w, "%s: stored %d barcodes for %s\n", an.Filename, rcpt.Records, vendor)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringP("format", "f", "json", "output format (json, csv, text)")
	analyzeCmd.Flags().StringP("output", "o", "", "write results to file instead of stdout")
	analyzeCmd.Flags().String("overlay-dir", "", "write annotated overlay PNGs to this directory")
	analyzeCmd.Flags().String("order-policy", "ttb", "reading order policy (ttb, ltr)")
	analyzeCmd.Flags().String("extent-mode", "origins", "normalization extent (origins, bounds)")
	analyzeCmd.Flags().StringSlice("barcode-formats", nil, "restrict decoding to these symbologies (e.g. qr,code128)")
	analyzeCmd.Flags().Bool("try-harder", true, "scan every row and rotation when looking for barcodes")

	analyzeCmd.Flags().BoolP("recursive", "r", false, "search directories recursively")
	analyzeCmd.Flags().IntP("workers", "w", 4, "number of parallel workers")
	analyzeCmd.Flags().StringSlice("include", nil, "only include files matching these glob patterns")
	analyzeCmd.Flags().StringSlice("exclude", nil, "skip files matching these glob patterns")
	analyzeCmd.Flags().Bool("fail-fast", false, "stop at the first image that cannot be analyzed")
	analyzeCmd.Flags().BoolP("quiet", "q", false, "suppress informational output")
	analyzeCmd.Flags().Bool("stats", false, "print processing statistics to stderr")

	analyzeCmd.Flags().Bool("submit", false, "store the results in the configured database")
	analyzeCmd.Flags().String("vendor", "", "vendor the labels belong to (required with --submit)")
	analyzeCmd.Flags().Int("qty", 0, "barcode count to record instead of the decoded count")
}
