package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/labelscan/internal/layout"
	"github.com/MeKo-Tech/labelscan/internal/utils"
)

// Analysis is the result of running the pipeline on one raster.
type Analysis struct {
	ResultID    string                       `json:"result_id"`
	Filename    string                       `json:"filename,omitempty"`
	Format      string                       `json:"format,omitempty"`
	Width       int                          `json:"width"`
	Height      int                          `json:"height"`
	OrderPolicy string                       `json:"order_policy"`
	ExtentMode  string                       `json:"extent_mode"`
	Detections  []layout.NormalizedDetection `json:"detections"`
	Extent      layout.Extent                `json:"extent"`
	CreatedAt   time.Time                    `json:"created_at"`
	Processing  struct {
		DecodeNs int64 `json:"decode_ns"`
		LayoutNs int64 `json:"layout_ns"`
		RenderNs int64 `json:"render_ns"`
		TotalNs  int64 `json:"total_ns"`
	} `json:"processing"`

	// Annotated is the overlay raster; it is not part of the JSON form.
	Annotated *image.RGBA `json:"-"`
	// Source is the decoded input raster.
	Source image.Image `json:"-"`
}

// Detection returns the detection with the given order.
func (a *Analysis) Detection(order int) (layout.NormalizedDetection, bool) {
	for _, d := range a.Detections {
		if d.Order == order {
			return d, true
		}
	}
	return layout.NormalizedDetection{}, false
}

// Analyze runs the pipeline on a single image.
func (p *Pipeline) Analyze(img image.Image) (*Analysis, error) {
	return p.AnalyzeContext(context.Background(), img)
}

// AnalyzeContext is like Analyze but allows cancellation via context.
func (p *Pipeline) AnalyzeContext(ctx context.Context, img image.Image) (*Analysis, error) {
	if p == nil || p.decoder == nil {
		return nil, errors.New("pipeline not initialized")
	}
	if img == nil {
		return nil, &InputError{Reason: "no image supplied"}
	}
	if err := utils.ValidateImageConstraints(img, p.cfg.Constraints); err != nil {
		return nil, &InputError{Reason: "image rejected", Err: err}
	}

	bounds := img.Bounds()
	slog.Debug("Starting barcode analysis", "width", bounds.Dx(), "height", bounds.Dy())
	totalStart := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	decStart := time.Now()
	raw, err := p.decoder.Decode(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("barcode decoding failed: %w", err)
	}
	decNs := time.Since(decStart).Nanoseconds()
	slog.Debug("Barcode decoding completed", "barcodes_found", len(raw), "duration_ms", decNs/1000000)

	layoutStart := time.Now()
	ordered := layout.AssignOrder(raw, p.cfg.OrderPolicy)
	normalized, extent := layout.Normalize(ordered, p.cfg.ExtentMode)
	if len(normalized) > 0 && extent.Degenerate() {
		slog.Debug("Degenerate detection extent, axis normalized to 0",
			"degenerate_x", extent.DegenerateX, "degenerate_y", extent.DegenerateY, "barcodes", len(normalized))
	}
	layoutNs := time.Since(layoutStart).Nanoseconds()

	out := &Analysis{
		ResultID:    uuid.NewString(),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		OrderPolicy: p.cfg.OrderPolicy.String(),
		ExtentMode:  p.cfg.ExtentMode.String(),
		Detections:  normalized,
		Extent:      extent,
		CreatedAt:   time.Now().UTC(),
		Source:      img,
	}

	if p.cfg.AnnotateOnAnalyze {
		renderStart := time.Now()
		out.Annotated = RenderAnnotations(img, ordered, p.style)
		out.Processing.RenderNs = time.Since(renderStart).Nanoseconds()
	}

	out.Processing.DecodeNs = decNs
	out.Processing.LayoutNs = layoutNs
	out.Processing.TotalNs = time.Since(totalStart).Nanoseconds()

	slog.Debug("Barcode analysis completed",
		"result_id", out.ResultID,
		"total_duration_ms", out.Processing.TotalNs/1000000,
		"barcodes", len(out.Detections))

	return out, nil
}

// AnalyzeReader decodes a raster from r and analyzes it. Unreadable data is
// reported as an *InputError.
func (p *Pipeline) AnalyzeReader(ctx context.Context, r io.Reader, filename string) (*Analysis, error) {
	if r == nil {
		return nil, &InputError{Reason: "no image supplied"}
	}
	img, format, err := utils.DecodeImage(r)
	if err != nil {
		return nil, &InputError{Reason: "unreadable image", Err: err}
	}
	a, err := p.AnalyzeContext(ctx, img)
	if err != nil {
		return nil, err
	}
	a.Filename = filename
	a.Format = format
	return a, nil
}

// AnalyzeFile loads path and analyzes it.
func (p *Pipeline) AnalyzeFile(ctx context.Context, path string) (*Analysis, error) {
	img, meta, err := utils.LoadImage(path)
	if err != nil {
		return nil, &InputError{Reason: "unreadable image", Err: err}
	}
	a, err := p.AnalyzeContext(ctx, img)
	if err != nil {
		return nil, err
	}
	a.Filename = path
	a.Format = meta.Format
	return a, nil
}
