package pipeline

import (
	"context"
	"image"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/labelscan/internal/barcode"
	"github.com/MeKo-Tech/labelscan/internal/layout"
)

// BarcodeConfig controls the detection adapter.
type BarcodeConfig struct {
	Formats   []string // e.g., ["qr","ean13","code128",...]; empty means all
	TryHarder bool
	Multi     bool
}

// DefaultBarcodeConfig returns default barcode config: all formats,
// multi-symbol, exhaustive search. Without TryHarder the 1D readers only
// scan the middle half of the image and miss codes near the label edges.
func DefaultBarcodeConfig() BarcodeConfig { return BarcodeConfig{Multi: true, TryHarder: true} }

// Decoder turns a raster into raw detections. Implementations must not
// modify img.
type Decoder interface {
	Decode(ctx context.Context, img image.Image) ([]layout.RawDetection, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(ctx context.Context, img image.Image) ([]layout.RawDetection, error)

// Decode calls f(ctx, img).
func (f DecoderFunc) Decode(ctx context.Context, img image.Image) ([]layout.RawDetection, error) {
	return f(ctx, img)
}

// barcodeDecoder implements Decoder using internal/barcode.
type barcodeDecoder struct {
	backend barcode.Backend
	opts    barcode.Options
}

func newBarcodeDecoder(cfg BarcodeConfig) (*barcodeDecoder, error) {
	formats, err := barcode.ParseFormats(cfg.Formats)
	if err != nil {
		return nil, err
	}
	be, err := barcode.NewBackend()
	if err != nil {
		return nil, err
	}
	return &barcodeDecoder{
		backend: be,
		opts:    barcode.Options{Formats: formats, TryHarder: cfg.TryHarder, Multi: cfg.Multi},
	}, nil
}

func (d *barcodeDecoder) Decode(ctx context.Context, img image.Image) ([]layout.RawDetection, error) {
	rs, err := d.backend.Decode(ctx, img, d.opts)
	if err != nil {
		return nil, err
	}
	return toRawDetections(rs), nil
}

// toRawDetections maps backend results into layout detections. Empty
// payloads are dropped; content keeps the decoded bytes and rects get at
// least one pixel on each axis.
func toRawDetections(rs []barcode.Result) []layout.RawDetection {
	out := make([]layout.RawDetection, 0, len(rs))
	for _, r := range rs {
		content := r.Value
		if strings.TrimSpace(content) == "" {
			slog.Debug("Dropping barcode with empty payload", "type", r.Type.String())
			continue
		}
		rect := layout.Rect{X: r.BBox.Min.X, Y: r.BBox.Min.Y, W: r.BBox.Dx(), H: r.BBox.Dy()}
		if rect.W < 1 {
			rect.W = 1
		}
		if rect.H < 1 {
			rect.H = 1
		}
		out = append(out, layout.RawDetection{
			Content:   content,
			Symbology: r.Type.String(),
			Rect:      rect,
		})
	}
	return out
}
