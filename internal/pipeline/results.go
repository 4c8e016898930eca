package pipeline

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/labelscan/internal/layout"
)

// ToJSONAnalysis serializes a single Analysis to pretty JSON.
func ToJSONAnalysis(a *Analysis) (string, error) {
	if a == nil {
		return "", errors.New("nil result")
	}
	b, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToJSONAnalyses serializes multiple analyses to pretty JSON.
func ToJSONAnalyses(results []*Analysis) (string, error) {
	b, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToPlainTextAnalysis lists one barcode per line in reading order.
func ToPlainTextAnalysis(a *Analysis) (string, error) {
	if a == nil {
		return "", errors.New("nil result")
	}
	lines := make([]string, 0, len(a.Detections))
	for _, d := range a.Detections {
		lines = append(lines, fmt.Sprintf("%d\t%s\t%s", d.Order, d.Symbology, d.Content))
	}
	return strings.Join(lines, "\n"), nil
}

// csvHeader is shared by single and multi-image CSV exports.
var csvHeader = []string{"order", "type", "content", "x", "y", "w", "h", "normalized_x", "normalized_y"}

func csvRow(d layout.NormalizedDetection) []string {
	return []string{
		strconv.Itoa(d.Order),
		d.Symbology,
		d.Content,
		strconv.Itoa(d.Rect.X),
		strconv.Itoa(d.Rect.Y),
		strconv.Itoa(d.Rect.W),
		strconv.Itoa(d.Rect.H),
		strconv.FormatFloat(d.NormalizedX, 'f', 4, 64),
		strconv.FormatFloat(d.NormalizedY, 'f', 4, 64),
	}
}

// ToCSVAnalysis exports per-barcode data as CSV with header.
func ToCSVAnalysis(a *Analysis) (string, error) {
	if a == nil {
		return "", errors.New("nil result")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(csvHeader)
	for _, d := range a.Detections {
		_ = w.Write(csvRow(d))
	}
	w.Flush()
	return buf.String(), w.Error()
}

// ToCSVAnalyses exports several analyses with a leading file column.
func ToCSVAnalyses(results []*Analysis) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(append([]string{"file"}, csvHeader...))
	for _, a := range results {
		if a == nil {
			continue
		}
		for _, d := range a.Detections {
			_ = w.Write(append([]string{a.Filename}, csvRow(d)...))
		}
	}
	w.Flush()
	return buf.String(), w.Error()
}

// ValidateAnalysis performs simple consistency checks.
func ValidateAnalysis(a *Analysis) error {
	if a == nil {
		return errors.New("nil result")
	}
	if a.Width <= 0 || a.Height <= 0 {
		return fmt.Errorf("invalid image size %dx%d", a.Width, a.Height)
	}
	if err := layout.ValidateOrders(layout.Ordered(a.Detections)); err != nil {
		return err
	}
	for i, d := range a.Detections {
		if d.Content == "" {
			return fmt.Errorf("barcode %d has empty content", i)
		}
		if d.NormalizedX < 0 || d.NormalizedX > 1 || d.NormalizedY < 0 || d.NormalizedY > 1 {
			return fmt.Errorf("barcode %d normalized position out of range", i)
		}
	}
	return nil
}
