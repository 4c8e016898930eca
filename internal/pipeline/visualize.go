package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"sort"
	"strconv"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/MeKo-Tech/labelscan/internal/layout"
	"github.com/MeKo-Tech/labelscan/internal/utils"
)

// OverlayConfig describes the annotation style with hex colours.
type OverlayConfig struct {
	BoxColor        string
	LabelColor      string
	LabelBackground string
	Thickness       int
	Padding         int
}

// DefaultOverlayConfig returns a green outline with white-on-green labels.
func DefaultOverlayConfig() OverlayConfig {
	return OverlayConfig{
		BoxColor:        "#00c800",
		LabelColor:      "#ffffff",
		LabelBackground: "#00c800",
		Thickness:       2,
		Padding:         2,
	}
}

// OverlayStyle is the parsed form of OverlayConfig.
type OverlayStyle struct {
	Box        color.RGBA
	Label      color.RGBA
	Background color.RGBA
	Thickness  int
	Padding    int
}

// Style parses the configured colours.
func (o OverlayConfig) Style() (OverlayStyle, error) {
	box, err := parseHexColor(o.BoxColor)
	if err != nil {
		return OverlayStyle{}, fmt.Errorf("box color: %w", err)
	}
	fg, err := parseHexColor(o.LabelColor)
	if err != nil {
		return OverlayStyle{}, fmt.Errorf("label color: %w", err)
	}
	bg, err := parseHexColor(o.LabelBackground)
	if err != nil {
		return OverlayStyle{}, fmt.Errorf("label background: %w", err)
	}
	s := OverlayStyle{Box: box, Label: fg, Background: bg, Thickness: o.Thickness, Padding: o.Padding}
	if s.Thickness < 1 {
		s.Thickness = 1
	}
	if s.Padding < 0 {
		s.Padding = 0
	}
	return s, nil
}

// parseHexColor parses "#rrggbb" (or "#rgb") into an opaque colour.
func parseHexColor(s string) (color.RGBA, error) {
	c, err := colorful.Hex(s)
	if err != nil {
		return color.RGBA{}, err
	}
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 0xff}, nil
}

// RenderAnnotations returns a copy of img with each detection outlined and
// its order drawn just above the rect's top-left corner. Detections are
// drawn in ascending order so later labels end up on top. img is not
// modified; zero detections yield a plain copy.
func RenderAnnotations(img image.Image, dets []layout.OrderedDetection, style OverlayStyle) *image.RGBA {
	if img == nil {
		return nil
	}
	dst := utils.CloneRGBA(img)
	if len(dets) == 0 {
		return dst
	}

	sorted := make([]layout.OrderedDetection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	for _, d := range sorted {
		r := image.Rect(d.Rect.X, d.Rect.Y, d.Rect.Right(), d.Rect.Bottom())
		utils.DrawRect(dst, r, style.Box, style.Thickness)
		utils.DrawLabel(dst, strconv.Itoa(d.Order), r.Min.X, r.Min.Y, style.Padding, style.Label, style.Background)
	}
	return dst
}

// Annotate renders the configured overlay for an analysis.
func (p *Pipeline) Annotate(img image.Image, a *Analysis) *image.RGBA {
	if a == nil {
		return RenderAnnotations(img, nil, p.style)
	}
	return RenderAnnotations(img, layout.Ordered(a.Detections), p.style)
}
