package layout

import "fmt"

// Rect is an axis-aligned rectangle in source-image pixel coordinates.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Right returns the exclusive right edge.
func (r Rect) Right() int { return r.X + r.W }

// Bottom returns the exclusive bottom edge.
func (r Rect) Bottom() int { return r.Y + r.H }

func (r Rect) String() string { return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.W, r.H) }

// RawDetection is a single decoded barcode as reported by the decoder.
type RawDetection struct {
	Content   string `json:"content"`
	Symbology string `json:"type"`
	Rect      Rect   `json:"rect"`
}

// OrderedDetection is a RawDetection with its 1-based reading order.
type OrderedDetection struct {
	RawDetection
	Order int `json:"order"`
}

// NormalizedDetection adds the position rescaled into [0,1] relative to the
// extent of all detections on the same image.
type NormalizedDetection struct {
	OrderedDetection
	NormalizedX float64 `json:"normalized_x"`
	NormalizedY float64 `json:"normalized_y"`
}

// Ordered strips the normalized coordinates, keeping order and rect.
func Ordered(dets []NormalizedDetection) []OrderedDetection {
	out := make([]OrderedDetection, len(dets))
	for i, d := range dets {
		out[i] = d.OrderedDetection
	}
	return out
}

// ValidateOrders checks that the order values form the permutation 1..N.
func ValidateOrders(dets []OrderedDetection) error {
	seen := make([]bool, len(dets)+1)
	for i, d := range dets {
		if d.Order < 1 || d.Order > len(dets) {
			return fmt.Errorf("detection %d: order %d out of range 1..%d", i, d.Order, len(dets))
		}
		if seen[d.Order] {
			return fmt.Errorf("detection %d: duplicate order %d", i, d.Order)
		}
		seen[d.Order] = true
	}
	return nil
}
