package pipeline

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/labelscan/internal/layout"
)

func sampleAnalysis() *Analysis {
	ordered := layout.AssignOrder([]layout.RawDetection{
		raw("4006381333931", 10, 10, 80, 30),
		raw("LOT,77", 10, 60, 80, 30),
	}, layout.TopToBottom)
	norm, ext := layout.Normalize(ordered, layout.ExtentOrigins)
	return &Analysis{
		ResultID: "7b0c5e0e-1f0a-4a57-9d2e-2d1b0a6a1f00", Filename: "a.png",
		Width: 200, Height: 100, Detections: norm, Extent: ext,
	}
}

func TestToJSONAnalysis(t *testing.T) {
	s, err := ToJSONAnalysis(sampleAnalysis())
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &back))
	assert.Equal(t, "7b0c5e0e-1f0a-4a57-9d2e-2d1b0a6a1f00", back["result_id"])
	dets := back["detections"].([]any)
	require.Len(t, dets, 2)
	first := dets[0].(map[string]any)
	assert.Equal(t, "QRCODE", first["type"])
	assert.EqualValues(t, 1, first["order"])
	assert.NotContains(t, s, "Annotated")

	_, err = ToJSONAnalysis(nil)
	assert.Error(t, err)
}

func TestPlainTextAndCSV(t *testing.T) {
	a := sampleAnalysis()
	txt, err := ToPlainTextAnalysis(a)
	require.NoError(t, err)
	assert.Equal(t, "1\tQRCODE\t4006381333931\n2\tQRCODE\tLOT,77", txt)

	csv, err := ToCSVAnalysis(a)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "order,type,content,x,y,w,h,normalized_x,normalized_y", lines[0])
	assert.Equal(t, `2,QRCODE,"LOT,77",10,60,80,30,0.0000,1.0000`, lines[2])

	multi, err := ToCSVAnalyses([]*Analysis{a, nil})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(multi, "file,order"))
	assert.Contains(t, multi, "a.png,1,QRCODE")
}

func TestValidateAnalysis(t *testing.T) {
	require.NoError(t, ValidateAnalysis(sampleAnalysis()))
	assert.Error(t, ValidateAnalysis(nil))

	bad := sampleAnalysis()
	bad.Detections[1].Order = 1
	assert.ErrorContains(t, ValidateAnalysis(bad), "duplicate")

	bad = sampleAnalysis()
	bad.Width = 0
	assert.Error(t, ValidateAnalysis(bad))
}

func TestProfiler(t *testing.T) {
	var p Profiler
	a := sampleAnalysis()
	a.Processing.DecodeNs = 4_000_000
	p.Record(a)
	p.Record(a)
	p.Record(nil)
	snap := p.Snapshot()
	assert.EqualValues(t, 2, snap["images"])
	assert.EqualValues(t, 4, snap["barcodes"])
	assert.EqualValues(t, 8, snap["decode_ms_total"])
	assert.InDelta(t, 4.0, snap["decode_ms_per_image"], 1e-9)
}
