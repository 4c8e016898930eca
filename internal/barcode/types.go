package barcode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
)

// ErrNilImage is returned when Decode is called without an image.
var ErrNilImage = errors.New("barcode: nil image")

// Format represents a barcode symbology.
type Format int

const (
	FormatUnknown Format = iota
	FormatQR
	FormatDataMatrix
	FormatAztec
	FormatCode128
	FormatCode39
	FormatCode93
	FormatEAN8
	FormatEAN13
	FormatUPCA
	FormatUPCE
	FormatITF
	FormatCodabar
)

var formatNames = map[Format]string{
	FormatQR:         "QRCODE",
	FormatDataMatrix: "DATAMATRIX",
	FormatAztec:      "AZTEC",
	FormatCode128:    "CODE128",
	FormatCode39:     "CODE39",
	FormatCode93:     "CODE93",
	FormatEAN8:       "EAN8",
	FormatEAN13:      "EAN13",
	FormatUPCA:       "UPCA",
	FormatUPCE:       "UPCE",
	FormatITF:        "I25",
	FormatCodabar:    "CODABAR",
}

// String returns the symbology label reported to clients.
func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "UNKNOWN"
}

// AllFormats returns every decodable format, 2D symbologies first.
func AllFormats() []Format {
	return []Format{
		FormatQR, FormatDataMatrix, FormatAztec,
		FormatCode128, FormatCode39, FormatCode93,
		FormatEAN13, FormatEAN8, FormatUPCA, FormatUPCE,
		FormatITF, FormatCodabar,
	}
}

// ParseFormat maps a user-facing name such as "qr" or "code-128" to a Format.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "qr", "qrcode", "qr-code":
		return FormatQR, true
	case "datamatrix", "data-matrix":
		return FormatDataMatrix, true
	case "aztec":
		return FormatAztec, true
	case "code128", "code-128":
		return FormatCode128, true
	case "code39", "code-39":
		return FormatCode39, true
	case "code93", "code-93":
		return FormatCode93, true
	case "ean8", "ean-8":
		return FormatEAN8, true
	case "ean13", "ean-13":
		return FormatEAN13, true
	case "upca", "upc-a":
		return FormatUPCA, true
	case "upce", "upc-e":
		return FormatUPCE, true
	case "itf", "i25", "interleaved2of5", "i2/5":
		return FormatITF, true
	case "codabar":
		return FormatCodabar, true
	default:
		return FormatUnknown, false
	}
}

// ParseFormats parses a list of names, rejecting unknown ones.
func ParseFormats(names []string) ([]Format, error) {
	out := make([]Format, 0, len(names))
	for _, n := range names {
		f, ok := ParseFormat(n)
		if !ok {
			return nil, fmt.Errorf("unknown barcode format %q", n)
		}
		out = append(out, f)
	}
	return out, nil
}

// Options controls backend decoding behavior.
type Options struct {
	// Formats constrains the set of symbologies to search. Empty means all.
	Formats []Format

	// TryHarder enables more exhaustive search (slower but more robust).
	TryHarder bool

	// Multi enables multi-symbol detection in a single image.
	Multi bool

	// ROI optionally restricts decoding to a sub-rectangle of the image.
	// If zero-sized or out of bounds, backends should ignore it.
	ROI image.Rectangle
}

// Point is an integer point in image coordinates.
type Point struct {
	X int
	Y int
}

// Result represents a decoded barcode.
type Result struct {
	Type   Format
	Value  string
	Points []Point         // Corner or key points if available
	BBox   image.Rectangle // Bounding box derived from points
}

// Backend is a pluggable barcode decoder implementation.
type Backend interface {
	Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error)
}

// NewBackend returns the default backend implementation.
func NewBackend() (Backend, error) { return newDefaultBackend() }
