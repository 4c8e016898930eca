package layout

import (
	"fmt"
	"strings"
)

// ExtentMode selects which rectangle edges span the normalization extent.
type ExtentMode int

const (
	// ExtentOrigins spans the extent over top-left corners only, so the
	// right-most and bottom-most detections land exactly on 1.0.
	ExtentOrigins ExtentMode = iota
	// ExtentBounds spans the extent from the minimum left/top edge to the
	// maximum right/bottom edge (x+w, y+h).
	ExtentBounds
)

// DefaultExtentMode is the mode used when none is configured.
const DefaultExtentMode = ExtentOrigins

func (m ExtentMode) String() string {
	switch m {
	case ExtentOrigins:
		return "origins"
	case ExtentBounds:
		return "bounds"
	default:
		return fmt.Sprintf("ExtentMode(%d)", int(m))
	}
}

// ExtentModeNames lists the accepted mode names.
func ExtentModeNames() []string {
	return []string{ExtentOrigins.String(), ExtentBounds.String()}
}

// ParseExtentMode parses "origins" or "bounds". Empty selects the default.
func ParseExtentMode(s string) (ExtentMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultExtentMode, nil
	case "origins", "origin":
		return ExtentOrigins, nil
	case "bounds", "bbox":
		return ExtentBounds, nil
	default:
		return 0, fmt.Errorf("unknown extent mode %q (must be one of: %s)", s, strings.Join(ExtentModeNames(), ", "))
	}
}

// Extent is the bounding box of all detections on one image.
// A degenerate axis has zero span; every detection gets 0.0 on that axis.
type Extent struct {
	MinX        int  `json:"min_x"`
	MinY        int  `json:"min_y"`
	MaxX        int  `json:"max_x"`
	MaxY        int  `json:"max_y"`
	DegenerateX bool `json:"degenerate_x,omitempty"`
	DegenerateY bool `json:"degenerate_y,omitempty"`
}

// Width returns the horizontal span of the extent.
func (e Extent) Width() int { return e.MaxX - e.MinX }

// Height returns the vertical span of the extent.
func (e Extent) Height() int { return e.MaxY - e.MinY }

// Degenerate reports whether either axis has zero span.
func (e Extent) Degenerate() bool { return e.DegenerateX || e.DegenerateY }

// ComputeExtent returns the extent of dets under mode. An empty input has
// the zero Extent.
func ComputeExtent(dets []OrderedDetection, mode ExtentMode) Extent {
	if len(dets) == 0 {
		return Extent{}
	}
	far := func(r Rect) (int, int) {
		if mode == ExtentBounds {
			return r.Right(), r.Bottom()
		}
		return r.X, r.Y
	}

	first := dets[0].Rect
	e := Extent{MinX: first.X, MinY: first.Y}
	e.MaxX, e.MaxY = far(first)
	for _, d := range dets[1:] {
		r := d.Rect
		if r.X < e.MinX {
			e.MinX = r.X
		}
		if r.Y < e.MinY {
			e.MinY = r.Y
		}
		fx, fy := far(r)
		if fx > e.MaxX {
			e.MaxX = fx
		}
		if fy > e.MaxY {
			e.MaxY = fy
		}
	}
	e.DegenerateX = e.MaxX <= e.MinX
	e.DegenerateY = e.MaxY <= e.MinY
	return e
}

// Normalize rescales each detection's top-left corner into [0,1] relative to
// the extent of the whole set. Order is preserved and the input is not
// modified. Degenerate axes map to 0.0.
func Normalize(dets []OrderedDetection, mode ExtentMode) ([]NormalizedDetection, Extent) {
	out := make([]NormalizedDetection, len(dets))
	if len(dets) == 0 {
		return out, Extent{}
	}
	e := ComputeExtent(dets, mode)
	for i, d := range dets {
		out[i] = NormalizedDetection{
			OrderedDetection: d,
			NormalizedX:      rescale(d.Rect.X, e.MinX, e.MaxX),
			NormalizedY:      rescale(d.Rect.Y, e.MinY, e.MaxY),
		}
	}
	return out, e
}

func rescale(v, lo, hi int) float64 {
	if hi <= lo {
		return 0
	}
	f := float64(v-lo) / float64(hi-lo)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
