package planner

import "rasterd/pkg/types"

const (
	bytesFloat = 4
	bytesUint8 = 1

	// Allocator and bookkeeping slack, bytes per chunk pixel.
	overheadBPP = 300

	// Batches concurrently alive outside the prefetch queue: one being
	// inferred plus one being prepared by a reader worker.
	inFlightStages = 2
)

// PipelineDepths sizes the bounded queues around the inference stage.
type PipelineDepths struct {
	PrefetchDepth int
	WriterDepth   int
}

// CostModel holds the per-pixel byte costs of every buffer class a chunk
// occupies while moving through the pipeline. All figures are per pixel of
// the chunk (BPP), not per pixel of a patch.
type CostModel struct {
	BPPPatches   float64
	BPPLogits    float64
	BPPRecon     float64
	BPPReporters float64
	BPPIO        float64
	OverheadBPP  float64
}

// NewCostModel derives the per-pixel cost model from the adapter's geometry
// and the summed per-pixel cost declared by active reporters.
func NewCostModel(spec types.AdapterSpec, reporterBPP float64) CostModel {
	m := CostModel{
		BPPPatches:   float64(spec.NumBands * bytesFloat),
		BPPRecon:     float64((spec.NumClasses + 1) * bytesFloat),
		BPPReporters: reporterBPP,
		BPPIO:        float64(spec.NumBands * bytesFloat),
		OverheadBPP:  overheadBPP,
	}
	// Logits multiply with overlap for dense output; patch-level output
	// amortizes one vector over the whole stride footprint.
	overlapFactor := (1.0 / spec.StrideRatio) * (1.0 / spec.StrideRatio)
	if spec.IsSegmentation {
		m.BPPLogits = float64(spec.NumClasses*bytesFloat) * overlapFactor
	} else {
		stridePixels := float64(spec.PatchSize) * spec.StrideRatio
		m.BPPLogits = float64(spec.NumClasses*bytesFloat) / (stridePixels * stridePixels)
	}
	return m
}

// TotalBPP is the full system footprint per chunk pixel: patches scaled by
// queue depth plus the two in-flight stages, logits scaled by the writer
// queue plus three resident copies, reconstruction and reporter buffers
// counted once (writer-resident only).
func (m CostModel) TotalBPP(d PipelineDepths) float64 {
	return m.BPPPatches*float64(d.PrefetchDepth+inFlightStages) +
		m.BPPLogits*float64(d.WriterDepth+3) +
		m.BPPRecon + m.BPPReporters + m.BPPIO + m.OverheadBPP
}

// LegacyReporterBPP is the fallback per-pixel reporter estimate used when no
// reporter declares a cost hook: dominant-class byte plus the optional
// confidence, entropy, and margin products.
func LegacyReporterBPP(saveConfidence, saveEntropy, saveGap bool) float64 {
	bpp := float64(bytesUint8)
	if saveConfidence {
		bpp += bytesFloat
	}
	if saveEntropy {
		bpp += bytesFloat
	}
	if saveGap {
		bpp += bytesFloat * 3
	}
	return bpp
}
