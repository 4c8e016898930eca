package barcode

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"

	gozxing "github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/aztec"
	"github.com/makiuchi-d/gozxing/datamatrix"
	mqrcode "github.com/makiuchi-d/gozxing/multi/qrcode"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// maxSymbolsPerFormat bounds the decode-and-blank loop for one format.
const maxSymbolsPerFormat = 32

// newDefaultBackend returns the gozxing-backed implementation.
func newDefaultBackend() (Backend, error) { return &gozxingBackend{}, nil }

type gozxingBackend struct{}

// Decode runs each requested reader over a private copy of img. Every
// symbol found is painted white on the copy before the next attempt, so
// one reader can report several symbols and a symbol matched by one
// reader is not reported again by a later one.
func (b *gozxingBackend) Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error) {
	if img == nil {
		return nil, ErrNilImage
	}

	// Apply ROI if requested and valid
	if !opts.ROI.Empty() {
		if roiImg, ok := subImage(img, opts.ROI); ok {
			img = roiImg
		}
	}

	work := image.NewRGBA(img.Bounds())
	draw.Draw(work, work.Bounds(), img, work.Bounds().Min, draw.Src)
	// gozxing reports points relative to the decoded image's origin.
	offset := work.Bounds().Min

	hints := make(map[gozxing.DecodeHintType]interface{})
	if opts.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	formats := opts.Formats
	if len(formats) == 0 {
		formats = AllFormats()
	}

	var out []Result
	for _, f := range formats {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if f == FormatQR && opts.Multi {
			found, err := decodeQRMulti(work, hints)
			if err != nil {
				return nil, err
			}
			for _, r := range found {
				res := toResult(r, offset)
				blank(work, res)
				out = append(out, res)
			}
		}

		reader := newReader(f)
		if reader == nil {
			continue
		}
		for i := 0; i < maxSymbolsPerFormat; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			bitmap, err := gozxing.NewBinaryBitmapFromImage(work)
			if err != nil {
				return nil, fmt.Errorf("barcode: binarize image: %w", err)
			}
			r, err := reader.Decode(bitmap, hints)
			reader.Reset()
			if err != nil || r == nil {
				// NotFound, checksum and format errors only mean this reader saw nothing usable.
				slog.Debug("barcode reader found no more symbols", "format", f.String(), "error", err)
				break
			}
			res := toResult(r, offset)
			if res.isLinear() {
				res.BBox = linearExtent(work, res.BBox)
			}
			blank(work, res)
			out = append(out, res)
			if !opts.Multi {
				break
			}
		}
	}
	return out, nil
}

// decodeQRMulti runs the multi-symbol QR detector once. Symbols it misses
// are still picked up by the single QR reader loop that follows.
func decodeQRMulti(work *image.RGBA, hints map[gozxing.DecodeHintType]interface{}) ([]*gozxing.Result, error) {
	bitmap, err := gozxing.NewBinaryBitmapFromImage(work)
	if err != nil {
		return nil, fmt.Errorf("barcode: binarize image: %w", err)
	}
	found, err := mqrcode.NewQRCodeMultiReader().DecodeMultiple(bitmap, hints)
	if err != nil {
		slog.Debug("multi QR detector found no symbols", "error", err)
		return nil, nil
	}
	return found, nil
}

func toResult(r *gozxing.Result, offset image.Point) Result {
	pts := r.GetResultPoints()
	points := make([]Point, 0, len(pts))
	for _, p := range pts {
		points = append(points, Point{X: int(p.GetX()) + offset.X, Y: int(p.GetY()) + offset.Y})
	}
	return Result{
		Type:   mapFormatFromZXing(r.GetBarcodeFormat()),
		Value:  r.GetText(),
		Points: points,
		BBox:   rectFromPoints(points),
	}
}

// isLinear reports whether the result comes from a 1D reader.
func (r Result) isLinear() bool {
	switch r.Type {
	case FormatQR, FormatDataMatrix, FormatAztec, FormatUnknown:
		return false
	default:
		return true
	}
}

// blank paints the area around res white. 2D readers report finder or
// corner points inside the symbol, so the box is grown by a quarter of
// its larger side.
func blank(work *image.RGBA, res Result) {
	r := res.BBox
	var padX, padY int
	if res.isLinear() {
		// Points sit on the start and stop guards; zero-height sides get the scan band.
		padX = r.Dx()/8 + 4
		padY = 2
	} else {
		side := max(r.Dx(), r.Dy())
		padX = side/4 + 4
		padY = padX
	}
	area := image.Rect(r.Min.X-padX, r.Min.Y-padY, r.Max.X+padX, r.Max.Y+padY).Intersect(work.Bounds())
	draw.Draw(work, area, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
}

// linearExtent grows the one-pixel scan line a 1D reader reports into the
// full bar height. Rows (or columns, for a rotated symbol) are added while
// their dark/light pattern matches the scan line on at least 90% of pixels.
func linearExtent(img image.Image, line image.Rectangle) image.Rectangle {
	bounds := img.Bounds()
	line = line.Intersect(bounds)
	if line.Empty() {
		return line
	}
	vertical := line.Dy() > line.Dx()

	dark := func(x, y int) bool {
		return color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y < 128
	}
	// at maps (along, across) to image coordinates.
	at := func(along, across int) bool {
		if vertical {
			return dark(across, along)
		}
		return dark(along, across)
	}

	alongMin, alongMax := line.Min.X, line.Max.X
	across := line.Min.Y
	acrossMin, acrossMax := bounds.Min.Y, bounds.Max.Y
	if vertical {
		alongMin, alongMax = line.Min.Y, line.Max.Y
		across = line.Min.X
		acrossMin, acrossMax = bounds.Min.X, bounds.Max.X
	}

	ref := make([]bool, alongMax-alongMin)
	for i := range ref {
		ref[i] = at(alongMin+i, across)
	}
	matches := func(c int) bool {
		same := 0
		for i, want := range ref {
			if at(alongMin+i, c) == want {
				same++
			}
		}
		return same*10 >= len(ref)*9
	}

	lo, hi := across, across
	for lo-1 >= acrossMin && matches(lo-1) {
		lo--
	}
	for hi+1 < acrossMax && matches(hi+1) {
		hi++
	}

	if vertical {
		return image.Rect(lo, line.Min.Y, hi+1, line.Max.Y)
	}
	return image.Rect(line.Min.X, lo, line.Max.X, hi+1)
}

// newReader returns a fresh single-format reader, or nil for unsupported formats.
func newReader(f Format) gozxing.Reader {
	switch f {
	case FormatQR:
		return qrcode.NewQRCodeReader()
	case FormatDataMatrix:
		return datamatrix.NewDataMatrixReader()
	case FormatAztec:
		return aztec.NewAztecReader()
	case FormatCode128:
		return oned.NewCode128Reader()
	case FormatCode39:
		return oned.NewCode39Reader()
	case FormatCode93:
		return oned.NewCode93Reader()
	case FormatEAN8:
		return oned.NewEAN8Reader()
	case FormatEAN13:
		return oned.NewEAN13Reader()
	case FormatUPCA:
		return oned.NewUPCAReader()
	case FormatUPCE:
		return oned.NewUPCEReader()
	case FormatITF:
		return oned.NewITFReader()
	case FormatCodabar:
		return oned.NewCodaBarReader()
	default:
		return nil
	}
}

func mapFormatFromZXing(bf gozxing.BarcodeFormat) Format {
	switch bf {
	case gozxing.BarcodeFormat_QR_CODE:
		return FormatQR
	case gozxing.BarcodeFormat_DATA_MATRIX:
		return FormatDataMatrix
	case gozxing.BarcodeFormat_AZTEC:
		return FormatAztec
	case gozxing.BarcodeFormat_CODE_128:
		return FormatCode128
	case gozxing.BarcodeFormat_CODE_39:
		return FormatCode39
	case gozxing.BarcodeFormat_CODE_93:
		return FormatCode93
	case gozxing.BarcodeFormat_EAN_8:
		return FormatEAN8
	case gozxing.BarcodeFormat_EAN_13:
		return FormatEAN13
	case gozxing.BarcodeFormat_UPC_A:
		return FormatUPCA
	case gozxing.BarcodeFormat_UPC_E:
		return FormatUPCE
	case gozxing.BarcodeFormat_ITF:
		return FormatITF
	case gozxing.BarcodeFormat_CODABAR:
		return FormatCodabar
	default:
		return FormatUnknown
	}
}

// rectFromPoints returns the inclusive bounding box of pts. Linear symbols
// report points on a single scan line, which yields a height of one pixel;
// Decode widens those with linearExtent.
func rectFromPoints(pts []Point) image.Rectangle {
	if len(pts) == 0 {
		return image.Rectangle{}
	}
	minX, minY := pts[0].X, pts[0].Y
	maxX, maxY := pts[0].X, pts[0].Y
	for _, p := range pts[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// subImage returns a sub-image if supported by the image implementation.
func subImage(img image.Image, r image.Rectangle) (image.Image, bool) {
	rb := r.Intersect(img.Bounds())
	if rb.Empty() {
		return nil, false
	}
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if s, ok := img.(subImager); ok {
		return s.SubImage(rb), true
	}
	dst := image.NewRGBA(rb)
	draw.Draw(dst, rb, img, rb.Min, draw.Src)
	return dst, true
}
