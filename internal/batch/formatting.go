package batch

import (
	"fmt"
	"strings"

	"github.com/MeKo-Tech/labelscan/internal/pipeline"
)

// formatBatchResults formats analyses as "json", "csv" or "text" (default).
func formatBatchResults(results []*pipeline.Analysis, format string) (string, error) {
	switch format {
	case "json":
		return pipeline.ToJSONAnalyses(results)
	case "csv":
		return pipeline.ToCSVAnalyses(results)
	case "", "text":
		return formatText(results)
	default:
		return "", fmt.Errorf("unknown output format %q", format)
	}
}

func formatText(results []*pipeline.Analysis) (string, error) {
	var output strings.Builder
	for i, res := range results {
		if i > 0 {
			output.WriteString("\n\n")
		}
		output.WriteString(fmt.Sprintf("# %s (%d barcodes)\n", res.Filename, len(res.Detections)))
		text, err := pipeline.ToPlainTextAnalysis(res)
		if err != nil {
			return "", err
		}
		output.WriteString(text)
	}
	return output.String(), nil
}
