package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/labelscan/internal/pipeline"
)

// FlexInt accepts a JSON number or a numeric string. Review tables edited in
// a browser send both.
type FlexInt struct {
	Value int
	Set   bool
}

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = FlexInt{}
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if strings.TrimSpace(s) == "" {
		*f = FlexInt{}
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v != float64(int(v)) {
		return fmt.Errorf("invalid integer %s", string(b))
	}
	*f = FlexInt{Value: int(v), Set: true}
	return nil
}

func (f FlexInt) MarshalJSON() ([]byte, error) {
	if !f.Set {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(f.Value)), nil
}

// FlexFloat is the float counterpart of FlexInt.
type FlexFloat struct {
	Value float64
	Set   bool
}

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = FlexFloat{}
		return nil
	}
	s := strings.TrimSpace(strings.Trim(string(b), `"`))
	if s == "" {
		*f = FlexFloat{}
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %s", string(b))
	}
	*f = FlexFloat{Value: v, Set: true}
	return nil
}

func (f FlexFloat) MarshalJSON() ([]byte, error) {
	if !f.Set {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// TableRow is one reviewed row of a submission. Length is accepted but
// ignored; it is always recomputed.
type TableRow struct {
	Order     FlexInt   `json:"order"`
	ReadOrder FlexInt   `json:"read_order"`
	Content   string    `json:"content"`
	Meaning   string    `json:"meaning"`
	Type      string    `json:"type"`
	X         FlexFloat `json:"x"`
	Y         FlexFloat `json:"y"`
	Length    FlexInt   `json:"length"`
}

// OrderValue returns order, falling back to read_order.
func (r TableRow) OrderValue() (int, bool) {
	if r.Order.Set {
		return r.Order.Value, true
	}
	if r.ReadOrder.Set {
		return r.ReadOrder.Value, true
	}
	return 0, false
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func tableError(format string, args ...any) error {
	return &pipeline.InputError{Reason: "invalid submission table", Err: fmt.Errorf(format, args...)}
}

// FromTable builds records from a reviewed table. When analysis is non-nil
// each row is matched to the analysed barcode with the same order, which
// supplies coordinates and symbology; the reviewer supplies content and
// meaning. Without an analysis rows are taken as they are. Records are
// returned in ascending order.
func FromTable(rows []TableRow, meta Metadata, schema Schema, analysis *pipeline.Analysis) ([]LabelRecord, error) {
	if len(rows) == 0 {
		return nil, tableError("no rows")
	}
	seen := make(map[int]int, len(rows))
	out := make([]LabelRecord, 0, len(rows))
	for i, row := range rows {
		order, ok := row.OrderValue()
		if !ok {
			return nil, tableError("row %d: missing order", i+1)
		}
		if order < 1 {
			return nil, tableError("row %d: order %d must be positive", i+1, order)
		}
		if prev, dup := seen[order]; dup {
			return nil, tableError("rows %d and %d: duplicate order %d", prev+1, i+1, order)
		}
		seen[order] = i

		meaning := strings.TrimSpace(row.Meaning)
		if meaning == "" {
			meaning = meta.Meanings[order]
		}
		rec := LabelRecord{
			Vendor:    meta.Vendor,
			Order:     order,
			Content:   strings.TrimSpace(row.Content),
			Meaning:   meaning,
			Symbology: strings.TrimSpace(row.Type),
		}

		if analysis != nil {
			det, found := analysis.Detection(order)
			if !found {
				return nil, tableError("row %d: order %d not in analysis %s", i+1, order, analysis.ResultID)
			}
			if rec.Content == "" {
				rec.Content = det.Content
			}
			rec.Symbology = det.Symbology
			if schema == SchemaNormalized {
				rec.X, rec.Y = det.NormalizedX, det.NormalizedY
			} else {
				rec.X, rec.Y = float64(det.Rect.X), float64(det.Rect.Y)
			}
		} else {
			if !row.X.Set || !row.Y.Set {
				return nil, tableError("row %d: missing coordinates", i+1)
			}
			rec.X, rec.Y = row.X.Value, row.Y.Value
			if !finite(rec.X) || !finite(rec.Y) {
				return nil, tableError("row %d: coordinates must be finite numbers", i+1)
			}
			if schema == SchemaNormalized && (rec.X < 0 || rec.X > 1 || rec.Y < 0 || rec.Y > 1) {
				return nil, tableError("row %d: normalized coordinates must be within [0,1]", i+1)
			}
		}

		if rec.Content == "" {
			return nil, tableError("row %d: empty content", i+1)
		}
		rec.Length = ContentLength(rec.Content)
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}
