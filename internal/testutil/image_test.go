package testutil

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLabelConfig(t *testing.T) {
	cfg := DefaultLabelConfig()
	assert.Equal(t, MediumSize, cfg.Size)
	assert.Equal(t, color.White, cfg.Background)
	assert.Empty(t, cfg.Symbols)
}

func TestGenerateLabelImage(t *testing.T) {
	cfg := DefaultLabelConfig()
	cfg.Size = SmallSize
	cfg.Symbols = []Symbol{{Content: "A", X: 20, Y: 20, Size: 120}}

	img, err := GenerateLabelImage(cfg)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, SmallSize.Width, SmallSize.Height), img.Bounds())

	// some module inside the symbol is dark, the area outside stays white
	var dark bool
	r := cfg.Symbols[0].Rect()
	for y := r.Min.Y; y < r.Max.Y && !dark; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.RGBAAt(x, y).R < 128 {
				dark = true
				break
			}
		}
	}
	assert.True(t, dark)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(300, 230))
}

func TestGenerateLabelImageCode128(t *testing.T) {
	cfg := DefaultLabelConfig()
	s := Symbol{Content: "SN-1", Kind: KindCode128, X: 40, Y: 100, Size: 300}
	cfg.Symbols = []Symbol{s}

	img, err := GenerateLabelImage(cfg)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(40, 100, 340, 200), s.Rect())

	// every row inside the bar area shows the same pattern, rows outside are white
	mid := s.Y + s.Rect().Dy()/2
	var darkCols int
	for x := s.X; x < s.X+s.Size; x++ {
		if img.RGBAAt(x, mid).R < 128 {
			darkCols++
		}
		assert.Equal(t, img.RGBAAt(x, mid), img.RGBAAt(x, s.Y+1), "column %d", x)
	}
	assert.Positive(t, darkCols)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(s.X+s.Size/2, s.Y-1))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(s.X+s.Size/2, s.Rect().Max.Y))
}

func TestSaveAndLoadImage(t *testing.T) {
	img := CreateTestImage(16, 8, color.Black)
	path := filepath.Join(t.TempDir(), "sub", "img.png")
	SaveImage(t, img, path)
	assert.FileExists(t, path)

	loaded := LoadImage(t, path)
	assert.Equal(t, img.Bounds(), loaded.Bounds())
	assert.True(t, SamePixels(img, loaded))
}

func TestCompareImages(t *testing.T) {
	a := CreateTestImage(10, 10, color.White)
	b := CreateTestImage(10, 10, color.White)
	assert.True(t, CompareImages(a, b, 0))
	assert.True(t, SamePixels(a, b))

	b.Set(3, 3, color.Black)
	assert.False(t, SamePixels(a, b))
	assert.True(t, CompareImages(a, b, 0.05))

	assert.False(t, CompareImages(a, CreateTestImage(5, 5, color.White), 1))
}
