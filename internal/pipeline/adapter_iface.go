package pipeline

import (
	"context"

	"rasterd/internal/tiling"
	"rasterd/pkg/types"
)

// Adapter abstracts the model behind the pipeline. The engine treats it as
// an opaque collaborator: Preprocess owns raster I/O and patch cutting for a
// chunk, Forward runs the model over one batch of patches. Implementations
// are called from a single inference goroutine, so Forward never needs to be
// safe for concurrent use.
type Adapter interface {
	// Spec returns the adapter's fixed geometry and output shape.
	Spec() types.AdapterSpec
	// Preprocess reads the raw bands for the chunk's read window and cuts
	// them into overlapping patches.
	Preprocess(ctx context.Context, chunk tiling.ChunkSpec) (tiling.CutResult, error)
	// Forward runs the model over a batch of patches and returns one
	// prediction per patch, in input order.
	Forward(ctx context.Context, patches []tiling.Patch) ([]tiling.PatchPrediction, error)
}

// Reporter consumes reconstructed chunk outputs. Reporters run on the writer
// goroutine; a failing reporter is logged and skipped, never fatal.
type Reporter interface {
	OnStart(ctx types.ReportContext) error
	OnChunk(data types.ChunkData) error
	OnFinish(ctx types.ReportContext) error
}

// zeroPredictions builds shape-correct zero-filled predictions for a batch,
// substituted when the model fails so downstream reconstruction geometry
// stays consistent.
func zeroPredictions(batch []tiling.Patch, spec types.AdapterSpec) []tiling.PatchPrediction {
	size := spec.NumClasses
	if spec.IsSegmentation {
		size = spec.NumClasses * spec.PatchSize * spec.PatchSize
	}
	preds := make([]tiling.PatchPrediction, len(batch))
	for i, p := range batch {
		preds[i] = tiling.PatchPrediction{Scores: make([]float32, size), Row: p.Row, Col: p.Col}
	}
	return preds
}
