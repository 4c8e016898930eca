package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	gozxing "github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/require"
)

// ImageSize represents common image dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	// Common test image sizes.
	SmallSize  = ImageSize{320, 240}
	MediumSize = ImageSize{640, 480}
	LargeSize  = ImageSize{1024, 768}
)

// SymbolKind selects the symbology a Symbol is rendered with.
type SymbolKind int

const (
	// KindQR renders a square QR code of Size pixels.
	KindQR SymbolKind = iota
	// KindCode128 renders a Code 128 bar code Size pixels wide and Height tall.
	KindCode128
)

// Symbol is one code placed on a synthetic label.
type Symbol struct {
	Content string
	Kind    SymbolKind
	X, Y    int
	Size    int
	Height  int // Code 128 only; defaults to Size/3
}

// Rect returns the area the symbol covers, quiet zone included. Code 128
// symbols whose content needs more than Size pixels are drawn wider.
func (s Symbol) Rect() image.Rectangle {
	if s.Kind == KindCode128 {
		return image.Rect(s.X, s.Y, s.X+s.Size, s.Y+s.barHeight())
	}
	return image.Rect(s.X, s.Y, s.X+s.Size, s.Y+s.Size)
}

func (s Symbol) barHeight() int {
	if s.Height > 0 {
		return s.Height
	}
	return s.Size / 3
}

func (s Symbol) encode() (*gozxing.BitMatrix, error) {
	if s.Kind == KindCode128 {
		return oned.NewCode128Writer().Encode(s.Content, gozxing.BarcodeFormat_CODE_128, s.Size, s.barHeight(), nil)
	}
	return qrcode.NewQRCodeWriter().Encode(s.Content, gozxing.BarcodeFormat_QR_CODE, s.Size, s.Size, nil)
}

// LabelConfig holds configuration for generating synthetic label photos.
type LabelConfig struct {
	Size       ImageSize
	Background color.Color
	Symbols    []Symbol
}

// DefaultLabelConfig returns a medium white label with no symbols.
func DefaultLabelConfig() LabelConfig {
	return LabelConfig{Size: MediumSize, Background: color.White}
}

// GenerateLabelImage renders the configured symbols onto a blank canvas.
func GenerateLabelImage(cfg LabelConfig) (*image.RGBA, error) {
	img := CreateTestImage(cfg.Size.Width, cfg.Size.Height, cfg.Background)
	for i, s := range cfg.Symbols {
		sym, err := s.encode()
		if err != nil {
			return nil, fmt.Errorf("symbol %d: %w", i, err)
		}
		draw.Draw(img, sym.Bounds().Add(image.Pt(s.X, s.Y)), sym, image.Point{}, draw.Src)
	}
	return img, nil
}

// CreateTestImage creates a solid image of the given size.
func CreateTestImage(width, height int, backgroundColor color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{backgroundColor}, image.Point{}, draw.Src)
	return img
}

// EncodePNG returns img encoded as PNG bytes.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img), "Failed to encode PNG image")
	return buf.Bytes()
}

// SaveImage saves an image to the specified path.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	dir := filepath.Dir(path)
	require.NoError(t, os.MkdirAll(dir, 0o750), "Failed to create directory %s", dir)
	require.NoError(t, os.WriteFile(path, EncodePNG(t, img), 0o600), "Failed to write %s", path)
}

// LoadImage loads an image from the specified path.
func LoadImage(t *testing.T, path string) image.Image {
	t.Helper()

	file, err := os.Open(path) //nolint:gosec // G304: Test file reading with controlled path
	require.NoError(t, err, "Failed to open image file %s", path)
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	require.NoError(t, err, "Failed to decode image")

	return img
}

// CompareImages compares two images and returns true if they are similar.
func CompareImages(img1, img2 image.Image, tolerance float64) bool {
	bounds1 := img1.Bounds()
	bounds2 := img2.Bounds()

	if bounds1 != bounds2 {
		return false
	}

	var totalDiff float64
	var pixelCount float64

	for y := bounds1.Min.Y; y < bounds1.Max.Y; y++ {
		for x := bounds1.Min.X; x < bounds1.Max.X; x++ {
			r1, g1, b1, a1 := img1.At(x, y).RGBA()
			r2, g2, b2, a2 := img2.At(x, y).RGBA()

			dr := float64(r1) - float64(r2)
			dg := float64(g1) - float64(g2)
			db := float64(b1) - float64(b2)
			da := float64(a1) - float64(a2)

			totalDiff += math.Sqrt(dr*dr + dg*dg + db*db + da*da)
			pixelCount++
		}
	}
	if pixelCount == 0 {
		return true
	}

	avgDiff := totalDiff / pixelCount
	maxDiff := math.Sqrt(4 * 65535 * 65535) // Maximum possible difference

	return (avgDiff / maxDiff) <= tolerance
}

// SamePixels reports whether a and b have identical bounds and colours.
func SamePixels(a, b image.Image) bool {
	if a.Bounds() != b.Bounds() {
		return false
	}
	r := a.Bounds()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			r1, g1, b1, a1 := a.At(x, y).RGBA()
			r2, g2, b2, a2 := b.At(x, y).RGBA()
			if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
				return false
			}
		}
	}
	return true
}
