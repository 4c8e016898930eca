// Package records turns analysed barcodes into the rows a label submission
// persists. The record shape depends on the storage Schema in use.
package records

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MeKo-Tech/labelscan/internal/layout"
)

// Schema selects which coordinates a record carries and which tables the
// store writes.
type Schema int

const (
	// SchemaHeaderDetail stores pixel coordinates per barcode plus one
	// labels header row (vendor, revision, barcode count).
	SchemaHeaderDetail Schema = iota
	// SchemaNormalized stores only normalized coordinates, no header row.
	SchemaNormalized
)

// DefaultSchema is used when none is configured.
const DefaultSchema = SchemaHeaderDetail

func (s Schema) String() string {
	switch s {
	case SchemaHeaderDetail:
		return "header-detail"
	case SchemaNormalized:
		return "normalized"
	default:
		return fmt.Sprintf("Schema(%d)", int(s))
	}
}

// ParseSchema parses "header-detail" or "normalized". Empty selects the default.
func ParseSchema(s string) (Schema, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultSchema, nil
	case "header-detail", "header", "pixel":
		return SchemaHeaderDetail, nil
	case "normalized", "normalised", "flat":
		return SchemaNormalized, nil
	default:
		return 0, fmt.Errorf("unknown storage schema %q (must be header-detail or normalized)", s)
	}
}

// LabelRecord is one persisted barcode of a submitted label.
type LabelRecord struct {
	Vendor    string  `json:"vendor"`
	Order     int     `json:"order"`
	Content   string  `json:"content"`
	Meaning   string  `json:"meaning"`
	Symbology string  `json:"type"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Length    int     `json:"length"`
}

// Metadata is the reviewer-supplied context of a submission.
type Metadata struct {
	Vendor string
	// Qty is the declared barcode count; zero means "use the record count".
	Qty int
	// Meanings maps an order to its reviewer label.
	Meanings map[int]string
}

// ContentLength is the character count of content.
func ContentLength(content string) int { return utf8.RuneCountInString(content) }

// Assemble builds one record per detection, keeping the detections' order.
// Pixel or normalized coordinates are chosen by schema and Length is always
// recomputed from Content.
func Assemble(dets []layout.NormalizedDetection, meta Metadata, schema Schema) []LabelRecord {
	out := make([]LabelRecord, 0, len(dets))
	for _, d := range dets {
		rec := LabelRecord{
			Vendor:    meta.Vendor,
			Order:     d.Order,
			Content:   d.Content,
			Meaning:   meta.Meanings[d.Order],
			Symbology: d.Symbology,
			Length:    ContentLength(d.Content),
		}
		if schema == SchemaNormalized {
			rec.X, rec.Y = d.NormalizedX, d.NormalizedY
		} else {
			rec.X, rec.Y = float64(d.Rect.X), float64(d.Rect.Y)
		}
		out = append(out, rec)
	}
	return out
}
