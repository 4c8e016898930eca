package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func det(content string, x, y, w, h int) RawDetection {
	return RawDetection{Content: content, Symbology: "QRCODE", Rect: Rect{X: x, Y: y, W: w, H: h}}
}

func orders(dets []OrderedDetection) []int {
	out := make([]int, len(dets))
	for i, d := range dets {
		out[i] = d.Order
	}
	return out
}

func contents(dets []OrderedDetection) []string {
	out := make([]string, len(dets))
	for i, d := range dets {
		out[i] = d.Content
	}
	return out
}

func TestParseOrderPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    OrderPolicy
		wantErr bool
	}{
		{"", TopToBottom, false},
		{"top-to-bottom", TopToBottom, false},
		{"  Left-To-Right ", LeftToRight, false},
		{"ltr", LeftToRight, false},
		{"diagonal", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOrderPolicy(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "top-to-bottom")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "left-to-right", LeftToRight.String())
}

func TestAssignOrder_TopToBottom(t *testing.T) {
	in := []RawDetection{
		det("c", 50, 60, 20, 20),
		det("a", 10, 10, 20, 20),
		det("b", 80, 10, 20, 20),
		det("d", 5, 60, 20, 20),
	}
	out := AssignOrder(in, TopToBottom)

	assert.Equal(t, []string{"a", "b", "d", "c"}, contents(out))
	assert.Equal(t, []int{1, 2, 3, 4}, orders(out))
	// input untouched
	assert.Equal(t, "c", in[0].Content)
}

func TestAssignOrder_LeftToRight(t *testing.T) {
	in := []RawDetection{
		det("c", 50, 60, 20, 20),
		det("a", 10, 10, 20, 20),
		det("b", 80, 10, 20, 20),
		det("d", 10, 5, 20, 20),
	}
	out := AssignOrder(in, LeftToRight)
	assert.Equal(t, []string{"d", "a", "c", "b"}, contents(out))
}

func TestAssignOrder_TiesKeepInputOrder(t *testing.T) {
	in := []RawDetection{
		det("first", 10, 10, 5, 5),
		det("second", 10, 10, 7, 9),
		det("third", 10, 10, 1, 1),
	}
	for range 5 {
		out := AssignOrder(in, TopToBottom)
		assert.Equal(t, []string{"first", "second", "third"}, contents(out))
	}
}

func TestAssignOrder_Empty(t *testing.T) {
	out := AssignOrder(nil, TopToBottom)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestValidateOrders(t *testing.T) {
	ok := AssignOrder([]RawDetection{det("a", 0, 0, 1, 1), det("b", 5, 5, 1, 1)}, TopToBottom)
	require.NoError(t, ValidateOrders(ok))

	dup := []OrderedDetection{{Order: 1}, {Order: 1}}
	assert.ErrorContains(t, ValidateOrders(dup), "duplicate")

	gap := []OrderedDetection{{Order: 1}, {Order: 3}}
	assert.ErrorContains(t, ValidateOrders(gap), "out of range")
}

func TestNormalize_TwoDetections(t *testing.T) {
	ordered := AssignOrder([]RawDetection{
		det("second", 50, 60, 20, 20),
		det("first", 10, 10, 20, 20),
	}, TopToBottom)
	require.Equal(t, []string{"first", "second"}, contents(ordered))

	out, ext := Normalize(ordered, ExtentOrigins)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].Order)
	assert.Equal(t, 2, out[1].Order)
	assert.InDelta(t, 0.0, out[0].NormalizedX, 1e-9)
	assert.InDelta(t, 1.0, out[1].NormalizedX, 1e-9)
	assert.InDelta(t, 0.0, out[0].NormalizedY, 1e-9)
	assert.InDelta(t, 1.0, out[1].NormalizedY, 1e-9)
	assert.Equal(t, Extent{MinX: 10, MinY: 10, MaxX: 50, MaxY: 60}, ext)
}

func TestNormalize_BoundsMode(t *testing.T) {
	ordered := AssignOrder([]RawDetection{
		det("first", 10, 10, 20, 20),
		det("second", 50, 60, 20, 20),
	}, TopToBottom)

	out, ext := Normalize(ordered, ExtentBounds)
	assert.Equal(t, 70, ext.MaxX)
	assert.Equal(t, 80, ext.MaxY)
	assert.InDelta(t, 0.0, out[0].NormalizedX, 1e-9)
	assert.InDelta(t, 40.0/60.0, out[1].NormalizedX, 1e-9)
	assert.InDelta(t, 50.0/70.0, out[1].NormalizedY, 1e-9)
	assert.False(t, ext.Degenerate())
}

func TestNormalize_SingleDetection(t *testing.T) {
	for _, mode := range []ExtentMode{ExtentOrigins, ExtentBounds} {
		t.Run(mode.String(), func(t *testing.T) {
			ordered := AssignOrder([]RawDetection{det("only", 120, 40, 30, 30)}, TopToBottom)
			out, ext := Normalize(ordered, mode)
			require.Len(t, out, 1)
			assert.Equal(t, 0.0, out[0].NormalizedX)
			assert.Equal(t, 0.0, out[0].NormalizedY)
			assert.Equal(t, mode == ExtentOrigins, ext.DegenerateX)
			assert.Equal(t, mode == ExtentOrigins, ext.DegenerateY)
		})
	}
}

func TestNormalize_VerticalColumn(t *testing.T) {
	ordered := AssignOrder([]RawDetection{
		det("a", 40, 10, 25, 10),
		det("b", 40, 50, 25, 10),
		det("c", 40, 90, 25, 10),
	}, TopToBottom)

	out, ext := Normalize(ordered, ExtentOrigins)
	assert.True(t, ext.DegenerateX)
	assert.False(t, ext.DegenerateY)
	for _, d := range out {
		assert.Equal(t, 0.0, d.NormalizedX)
	}
	assert.InDelta(t, 0.5, out[1].NormalizedY, 1e-9)
}

func TestNormalize_MalformedRectIsClamped(t *testing.T) {
	// zero-width rects under bounds mode collapse the x axis
	ordered := []OrderedDetection{
		{RawDetection: det("a", 10, 0, 0, 5), Order: 1},
		{RawDetection: det("b", 10, 30, 0, 5), Order: 2},
	}
	out, ext := Normalize(ordered, ExtentBounds)
	assert.True(t, ext.DegenerateX)
	assert.Equal(t, 0.0, out[1].NormalizedX)
	assert.InDelta(t, 30.0/35.0, out[1].NormalizedY, 1e-9)
}

func TestNormalize_Empty(t *testing.T) {
	out, ext := Normalize(nil, ExtentOrigins)
	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.Equal(t, Extent{}, ext)
}

func TestParseExtentMode(t *testing.T) {
	m, err := ParseExtentMode("BOUNDS")
	require.NoError(t, err)
	assert.Equal(t, ExtentBounds, m)

	m, err = ParseExtentMode("")
	require.NoError(t, err)
	assert.Equal(t, DefaultExtentMode, m)

	_, err = ParseExtentMode("centroid")
	assert.Error(t, err)
}

func TestOrderedStripsNormalization(t *testing.T) {
	ordered := AssignOrder([]RawDetection{det("a", 1, 2, 3, 4)}, TopToBottom)
	norm, _ := Normalize(ordered, ExtentOrigins)
	assert.Equal(t, ordered, Ordered(norm))
}
