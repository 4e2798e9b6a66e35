package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"rasterd/internal/common/fsutil"
	"rasterd/internal/config"
	"rasterd/internal/pipeline"
	"rasterd/pkg/types"
)

func init() {
	Register("aggregated",
		func(cfg config.ReporterConfig) (pipeline.Reporter, error) {
			return &AggregatedReporter{}, nil
		},
		func(cfg config.ReporterConfig, rctx CostContext) (float64, error) {
			// Keeps one class vector, nothing per pixel.
			return 0, nil
		},
	)
}

// AggregatedReporter average-pools the reconstructed probability maps into a
// single global probability vector for the whole raster. Valid regions are
// non-overlapping, so summing chunk integrals gives the exact global mean.
type AggregatedReporter struct {
	mu          sync.Mutex
	sumProbs    []float64
	totalPixels int64
	outPath     string
}

func (r *AggregatedReporter) OnStart(ctx types.ReportContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sumProbs = make([]float64, ctx.Adapter.NumClasses)
	r.totalPixels = 0
	if ctx.OutputPath != "" {
		if err := fsutil.EnsureDir(ctx.OutputPath); err != nil {
			return err
		}
		r.outPath = filepath.Join(ctx.OutputPath, ctx.TileName+"_global_probs.json")
	}
	return nil
}

func (r *AggregatedReporter) OnChunk(data types.ChunkData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	area := data.Window.Height * data.Window.Width
	for c := 0; c < data.NumClasses; c++ {
		sum := 0.0
		for i := c * area; i < (c+1)*area; i++ {
			sum += float64(data.Probs[i])
		}
		r.sumProbs[c] += sum
	}
	r.totalPixels += int64(area)
	return nil
}

func (r *AggregatedReporter) OnFinish(ctx types.ReportContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.totalPixels == 0 || r.outPath == "" {
		return nil
	}
	out := struct {
		GlobalProbs []float64 `json:"global_probs"`
	}{GlobalProbs: r.globalLocked()}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.outPath, b, 0o644)
}

func (r *AggregatedReporter) globalLocked() []float64 {
	out := make([]float64, len(r.sumProbs))
	for i, s := range r.sumProbs {
		out[i] = s / float64(r.totalPixels)
	}
	return out
}

// GlobalProbs returns the per-class global mean probabilities accumulated so
// far, or nil before any chunk arrived.
func (r *AggregatedReporter) GlobalProbs() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.totalPixels == 0 {
		return nil
	}
	return r.globalLocked()
}
