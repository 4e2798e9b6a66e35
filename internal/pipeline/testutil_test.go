package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"rasterd/internal/tiling"
	"rasterd/pkg/types"
)

// fakeAdapter is a controllable in-memory adapter for engine tests. By
// default Forward paints every patch with constScores; tests can override
// forwardFn or gate Forward on a channel to hold the inference stage.
type fakeAdapter struct {
	spec         types.AdapterSpec
	constScores  []float32
	forwardFn    func(batch []tiling.Patch) ([]tiling.PatchPrediction, error)
	gate         chan struct{}
	preprocessed atomic.Int32
	forwarded    atomic.Int32
}

func newFakeAdapter(spec types.AdapterSpec) *fakeAdapter {
	scores := make([]float32, spec.NumClasses)
	for i := range scores {
		scores[i] = float32(i+1) / float32(spec.NumClasses)
	}
	return &fakeAdapter{spec: spec, constScores: scores}
}

func (f *fakeAdapter) Spec() types.AdapterSpec { return f.spec }

func (f *fakeAdapter) Preprocess(ctx context.Context, chunk tiling.ChunkSpec) (tiling.CutResult, error) {
	f.preprocessed.Add(1)
	r := chunk.Read
	t := tiling.NewTensor(f.spec.NumBands, r.Height, r.Width)
	for b := 0; b < f.spec.NumBands; b++ {
		for y := 0; y < r.Height; y++ {
			for x := 0; x < r.Width; x++ {
				t.Set(b, y, x, float32(b)+0.001*float32(r.Row+y)+0.0001*float32(r.Col+x))
			}
		}
	}
	return tiling.CutPatches(t, f.spec.PatchSize, f.spec.Stride()), nil
}

func (f *fakeAdapter) Forward(ctx context.Context, patches []tiling.Patch) ([]tiling.PatchPrediction, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.forwarded.Add(1)
	if f.forwardFn != nil {
		return f.forwardFn(patches)
	}
	preds := make([]tiling.PatchPrediction, len(patches))
	for i, p := range patches {
		preds[i] = tiling.PatchPrediction{Scores: f.constScores, Row: p.Row, Col: p.Col}
	}
	return preds, nil
}

// collectReporter records every lifecycle call and chunk it receives.
type collectReporter struct {
	mu       sync.Mutex
	started  int
	finished int
	chunks   []types.ChunkData
}

func (r *collectReporter) OnStart(types.ReportContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started++
	return nil
}

func (r *collectReporter) OnChunk(data types.ChunkData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, data)
	return nil
}

func (r *collectReporter) OnFinish(types.ReportContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished++
	return nil
}

func (r *collectReporter) chunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

func testAdapterSpec() types.AdapterSpec {
	return types.AdapterSpec{
		NumBands:    2,
		NumClasses:  3,
		PatchSize:   8,
		StrideRatio: 0.5,
	}
}
