package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/labelscan/internal/layout"
	"github.com/MeKo-Tech/labelscan/internal/testutil"
)

func staticDecoder(dets ...layout.RawDetection) Decoder {
	return DecoderFunc(func(_ context.Context, _ image.Image) ([]layout.RawDetection, error) {
		return dets, nil
	})
}

func raw(content string, x, y, w, h int) layout.RawDetection {
	return layout.RawDetection{Content: content, Symbology: "QRCODE", Rect: layout.Rect{X: x, Y: y, W: w, H: h}}
}

func buildWith(t *testing.T, dec Decoder) *Pipeline {
	t.Helper()
	p, err := NewBuilder().WithDecoder(dec).Build()
	require.NoError(t, err)
	return p
}

func TestBuilderDefaults(t *testing.T) {
	cfg := NewBuilder().Config()
	assert.Equal(t, layout.TopToBottom, cfg.OrderPolicy)
	assert.Equal(t, layout.ExtentOrigins, cfg.ExtentMode)
	assert.True(t, cfg.Barcode.Multi)
	assert.True(t, cfg.AnnotateOnAnalyze)
}

func TestBuilderValidate(t *testing.T) {
	_, err := NewBuilder().WithBarcodeFormats([]string{"qr", "hieroglyph"}).Build()
	assert.ErrorContains(t, err, "hieroglyph")

	o := DefaultOverlayConfig()
	o.BoxColor = "green-ish"
	_, err = NewBuilder().WithOverlay(o).Build()
	assert.ErrorContains(t, err, "box color")

	_, err = NewBuilder().WithOrderPolicy(layout.OrderPolicy(9)).Build()
	assert.Error(t, err)

	p, err := NewBuilder().WithBarcodeFormats([]string{"qr"}).WithTryHarder(true).Build()
	require.NoError(t, err)
	info := p.Info()
	assert.Equal(t, "top-to-bottom", info["order_policy"])
	require.NoError(t, p.Close())
}

func TestAnalyzeTwoDetections(t *testing.T) {
	p := buildWith(t, staticDecoder(raw("B", 50, 60, 20, 20), raw("A", 10, 10, 20, 20)))
	img := testutil.CreateTestImage(200, 200, color.White)

	a, err := p.Analyze(img)
	require.NoError(t, err)
	require.Len(t, a.Detections, 2)

	assert.Equal(t, "A", a.Detections[0].Content)
	assert.Equal(t, 1, a.Detections[0].Order)
	assert.Equal(t, 2, a.Detections[1].Order)
	assert.InDelta(t, 0.0, a.Detections[0].NormalizedX, 1e-9)
	assert.InDelta(t, 1.0, a.Detections[1].NormalizedX, 1e-9)
	assert.InDelta(t, 0.0, a.Detections[0].NormalizedY, 1e-9)
	assert.InDelta(t, 1.0, a.Detections[1].NormalizedY, 1e-9)

	assert.Len(t, a.ResultID, 36)
	assert.Equal(t, 200, a.Width)
	assert.NotNil(t, a.Annotated)
	require.NoError(t, ValidateAnalysis(a))

	d, ok := a.Detection(2)
	require.True(t, ok)
	assert.Equal(t, "B", d.Content)
	_, ok = a.Detection(3)
	assert.False(t, ok)
}

func TestAnalyzeZeroDetections(t *testing.T) {
	p := buildWith(t, staticDecoder())
	img := testutil.CreateTestImage(64, 48, color.RGBA{R: 10, G: 120, B: 200, A: 255})

	a, err := p.Analyze(img)
	require.NoError(t, err)
	assert.NotNil(t, a.Detections)
	assert.Empty(t, a.Detections)
	assert.Equal(t, layout.Extent{}, a.Extent)
	assert.True(t, testutil.SamePixels(img, a.Annotated), "annotated image equals the original")
}

func TestAnalyzeSingleDetection(t *testing.T) {
	p := buildWith(t, staticDecoder(raw("only", 30, 40, 10, 10)))
	a, err := p.Analyze(testutil.CreateTestImage(100, 100, color.White))
	require.NoError(t, err)
	require.Len(t, a.Detections, 1)
	assert.Equal(t, 0.0, a.Detections[0].NormalizedX)
	assert.Equal(t, 0.0, a.Detections[0].NormalizedY)
	assert.True(t, a.Extent.Degenerate())
}

func TestAnalyzeUsesConfiguredPolicy(t *testing.T) {
	dec := staticDecoder(raw("low-left", 5, 80, 10, 10), raw("top-right", 70, 5, 10, 10))
	p, err := NewBuilder().WithDecoder(dec).WithOrderPolicy(layout.LeftToRight).WithAnnotation(false).Build()
	require.NoError(t, err)

	a, err := p.Analyze(testutil.CreateTestImage(100, 100, color.White))
	require.NoError(t, err)
	assert.Equal(t, "low-left", a.Detections[0].Content)
	assert.Equal(t, "left-to-right", a.OrderPolicy)
	assert.Nil(t, a.Annotated)
}

func TestAnalyzeErrors(t *testing.T) {
	p := buildWith(t, staticDecoder())

	_, err := p.Analyze(nil)
	assert.True(t, IsInputError(err))

	tiny := testutil.CreateTestImage(2, 2, color.White)
	_, err = p.Analyze(tiny)
	assert.True(t, IsInputError(err))

	boom := errors.New("scanner jammed")
	failing := buildWith(t, DecoderFunc(func(context.Context, image.Image) ([]layout.RawDetection, error) {
		return nil, boom
	}))
	_, err = failing.Analyze(testutil.CreateTestImage(50, 50, color.White))
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsInputError(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.AnalyzeContext(ctx, testutil.CreateTestImage(50, 50, color.White))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeReader(t *testing.T) {
	p := buildWith(t, staticDecoder(raw("X", 1, 1, 5, 5)))
	data := testutil.EncodePNG(t, testutil.CreateTestImage(40, 30, color.White))

	a, err := p.AnalyzeReader(context.Background(), bytes.NewReader(data), "label.png")
	require.NoError(t, err)
	assert.Equal(t, "label.png", a.Filename)
	assert.Equal(t, "png", a.Format)
	assert.Equal(t, 40, a.Width)

	_, err = p.AnalyzeReader(context.Background(), strings.NewReader("not an image"), "x.png")
	var ie *InputError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "unreadable image", ie.Reason)

	_, err = p.AnalyzeReader(context.Background(), nil, "")
	assert.True(t, IsInputError(err))
}

func TestAnalyzeFileMissing(t *testing.T) {
	p := buildWith(t, staticDecoder())
	_, err := p.AnalyzeFile(context.Background(), "/does/not/exist.png")
	assert.True(t, IsInputError(err))
}

func TestAnalyzeDecodesRealQRCodes(t *testing.T) {
	cfg := testutil.DefaultLabelConfig()
	cfg.Symbols = []testutil.Symbol{{Content: "SN-0042", X: 200, Y: 120, Size: 220}}
	img, err := testutil.GenerateLabelImage(cfg)
	require.NoError(t, err)

	p, err := NewBuilder().WithBarcodeFormats([]string{"qr"}).Build()
	require.NoError(t, err)

	a, err := p.Analyze(img)
	require.NoError(t, err)
	require.Len(t, a.Detections, 1)
	d := a.Detections[0]
	assert.Equal(t, "SN-0042", d.Content)
	assert.Equal(t, "QRCODE", d.Symbology)
	assert.Equal(t, 1, d.Order)
	r := image.Rect(d.Rect.X, d.Rect.Y, d.Rect.Right(), d.Rect.Bottom())
	assert.True(t, r.In(cfg.Symbols[0].Rect()), "rect %v", r)
}

func TestAnalyzeOrdersMixedSymbolsTopToBottom(t *testing.T) {
	cfg := testutil.DefaultLabelConfig()
	cfg.Size = testutil.ImageSize{Width: 600, Height: 900}
	cfg.Symbols = []testutil.Symbol{
		{Content: "SN-000456", Kind: testutil.KindCode128, X: 60, Y: 740, Size: 400, Height: 120},
		{Content: "LOT-A1", X: 40, Y: 20, Size: 180},
		{Content: "LOT-B2", X: 220, Y: 500, Size: 180},
		{Content: "SN-000123", Kind: testutil.KindCode128, X: 60, Y: 300, Size: 400, Height: 120},
	}
	img, err := testutil.GenerateLabelImage(cfg)
	require.NoError(t, err)

	p, err := NewBuilder().WithBarcodeFormats([]string{"qr", "code128"}).Build()
	require.NoError(t, err)

	a, err := p.Analyze(img)
	require.NoError(t, err)
	require.Len(t, a.Detections, len(cfg.Symbols))

	byOrder := make([]string, len(a.Detections))
	symbologies := make(map[string]string, len(a.Detections))
	for _, d := range a.Detections {
		require.GreaterOrEqual(t, d.Order, 1)
		require.LessOrEqual(t, d.Order, len(a.Detections))
		byOrder[d.Order-1] = d.Content
		symbologies[d.Content] = d.Symbology
	}
	assert.Equal(t, []string{"LOT-A1", "SN-000123", "LOT-B2", "SN-000456"}, byOrder)
	assert.Equal(t, "QRCODE", symbologies["LOT-B2"])
	assert.Equal(t, "CODE128", symbologies["SN-000123"])
}
