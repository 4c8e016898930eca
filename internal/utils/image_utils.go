package utils

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// LabelFace is the fixed-size face used for overlay labels.
var LabelFace font.Face = basicfont.Face7x13

// CloneRGBA returns an RGBA copy of img with the same bounds.
func CloneRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}

// DrawRect draws an axis-aligned rectangle outline into dst.
func DrawRect(dst *image.RGBA, rect image.Rectangle, col color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	rect = rect.Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	// Top and bottom edges
	for t := range thickness {
		yTop := rect.Min.Y + t
		yBot := rect.Max.Y - 1 - t
		for x := rect.Min.X; x < rect.Max.X; x++ {
			dst.Set(x, yTop, col)
			dst.Set(x, yBot, col)
		}
	}
	// Left and right edges
	for t := range thickness {
		xLeft := rect.Min.X + t
		xRight := rect.Max.X - 1 - t
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			dst.Set(xLeft, y, col)
			dst.Set(xRight, y, col)
		}
	}
}

// FillRect paints rect (clipped to dst) with col.
func FillRect(dst *image.RGBA, rect image.Rectangle, col color.Color) {
	rect = rect.Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	draw.Draw(dst, rect, &image.Uniform{C: col}, image.Point{}, draw.Src)
}

// TextSize returns the pixel width and height of s rendered with LabelFace.
func TextSize(s string) (int, int) {
	adv := font.MeasureString(LabelFace, s)
	m := LabelFace.Metrics()
	return adv.Ceil(), (m.Ascent + m.Descent).Ceil()
}

// LabelRect returns the box a label for s occupies when anchored just above
// the point (x, y). If the box would leave dst's top edge it is moved below
// y instead; it is shifted left when it would overflow the right edge.
func LabelRect(bounds image.Rectangle, s string, x, y, pad int) image.Rectangle {
	w, h := TextSize(s)
	w += 2 * pad
	h += 2 * pad
	r := image.Rect(x, y-h, x+w, y)
	if r.Min.Y < bounds.Min.Y {
		r = r.Add(image.Pt(0, bounds.Min.Y-r.Min.Y))
	}
	if r.Max.X > bounds.Max.X {
		r = r.Add(image.Pt(bounds.Max.X-r.Max.X, 0))
	}
	if r.Min.X < bounds.Min.X {
		r = r.Add(image.Pt(bounds.Min.X-r.Min.X, 0))
	}
	return r
}

// DrawLabel draws s on an opaque background box anchored above (x, y) and
// returns the box it painted.
func DrawLabel(dst *image.RGBA, s string, x, y, pad int, fg, bg color.Color) image.Rectangle {
	box := LabelRect(dst.Bounds(), s, x, y, pad)
	FillRect(dst, box, bg)
	d := &font.Drawer{
		Dst:  dst,
		Src:  &image.Uniform{C: fg},
		Face: LabelFace,
		Dot:  fixed.P(box.Min.X+pad, box.Min.Y+pad+LabelFace.Metrics().Ascent.Ceil()),
	}
	d.DrawString(s)
	return box
}
