package pipeline

import (
	"sync/atomic"
)

// Profiler aggregates simple counters/timers across multiple runs.
type Profiler struct {
	DecodeTimeNs    atomic.Int64
	LayoutTimeNs    atomic.Int64
	ImagesProcessed atomic.Int64
	BarcodesFound   atomic.Int64
}

// Record adds one analysis to the totals.
func (p *Profiler) Record(a *Analysis) {
	if a == nil {
		return
	}
	p.DecodeTimeNs.Add(a.Processing.DecodeNs)
	p.LayoutTimeNs.Add(a.Processing.LayoutNs)
	p.ImagesProcessed.Add(1)
	p.BarcodesFound.Add(int64(len(a.Detections)))
}

// Snapshot returns cumulative metrics in milliseconds for readability.
func (p *Profiler) Snapshot() map[string]any {
	imgs := p.ImagesProcessed.Load()
	dec := p.DecodeTimeNs.Load()
	lay := p.LayoutTimeNs.Load()
	out := map[string]any{
		"images":          imgs,
		"barcodes":        p.BarcodesFound.Load(),
		"decode_ms_total": dec / 1_000_000,
		"layout_ms_total": lay / 1_000_000,
	}
	if imgs > 0 {
		out["decode_ms_per_image"] = float64(dec) / 1_000_000.0 / float64(imgs)
	}
	return out
}
