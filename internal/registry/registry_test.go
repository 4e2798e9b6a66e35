package registry

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"rasterd/internal/config"
	"rasterd/internal/pipeline"
	"rasterd/pkg/types"
)

func TestBuildKnownReporters(t *testing.T) {
	reps, err := Build([]config.ReporterConfig{
		{Name: "aggregated"},
		{Name: "preview", Options: map[string]any{"downscale_factor": 4}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(reps) != 2 {
		t.Fatalf("built %d reporters", len(reps))
	}
}

func TestBuildUnknownReporter(t *testing.T) {
	if _, err := Build([]config.ReporterConfig{{Name: "nope"}}); err == nil {
		t.Fatalf("expected error for unknown reporter")
	}
}

func TestCostPerPixel(t *testing.T) {
	rctx := CostContext{NumClasses: 19, NumBands: 12}
	log := zerolog.Nop()

	// No reporters configured: planner must use its legacy fallback.
	if _, declared := CostPerPixel(nil, rctx, log); declared {
		t.Fatalf("empty config must not declare costs")
	}

	bpp, declared := CostPerPixel([]config.ReporterConfig{
		{Name: "aggregated"},
		{Name: "preview", Options: map[string]any{"downscale_factor": 2}},
	}, rctx, log)
	if !declared {
		t.Fatalf("costs should be declared")
	}
	if want := 0.25; math.Abs(bpp-want) > 1e-9 {
		t.Fatalf("bpp = %v, want %v", bpp, want)
	}
}

func TestCostHookFailureContributesZero(t *testing.T) {
	Register("failing-cost",
		func(cfg config.ReporterConfig) (pipeline.Reporter, error) {
			return &AggregatedReporter{}, nil
		},
		func(cfg config.ReporterConfig, rctx CostContext) (float64, error) {
			return 99, errors.New("boom")
		},
	)
	bpp, declared := CostPerPixel([]config.ReporterConfig{{Name: "failing-cost"}}, CostContext{}, zerolog.Nop())
	if !declared || bpp != 0 {
		t.Fatalf("failing hook must contribute zero, got %v (declared=%v)", bpp, declared)
	}
}

func testChunk(classes, h, w, row, col int, fill func(c, y, x int) float32) types.ChunkData {
	probs := make([]float32, classes*h*w)
	for c := 0; c < classes; c++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				probs[(c*h+y)*w+x] = fill(c, y, x)
			}
		}
	}
	return types.ChunkData{
		Probs:      probs,
		NumClasses: classes,
		Window:     types.Window{Row: row, Col: col, Height: h, Width: w},
	}
}

func TestAggregatedReporterGlobalMean(t *testing.T) {
	r := &AggregatedReporter{}
	ctx := types.ReportContext{
		RasterHeight: 4, RasterWidth: 8,
		Adapter: types.AdapterSpec{NumClasses: 2},
	}
	if err := r.OnStart(ctx); err != nil {
		t.Fatalf("on start: %v", err)
	}
	// Two chunks with different constant probabilities; global mean is the
	// area-weighted average.
	left := testChunk(2, 4, 4, 0, 0, func(c, y, x int) float32 {
		if c == 0 {
			return 0.8
		}
		return 0.2
	})
	right := testChunk(2, 4, 4, 0, 4, func(c, y, x int) float32 {
		if c == 0 {
			return 0.4
		}
		return 0.6
	})
	if err := r.OnChunk(left); err != nil {
		t.Fatalf("on chunk: %v", err)
	}
	if err := r.OnChunk(right); err != nil {
		t.Fatalf("on chunk: %v", err)
	}
	probs := r.GlobalProbs()
	if probs == nil {
		t.Fatalf("no global probs")
	}
	if math.Abs(probs[0]-0.6) > 1e-6 || math.Abs(probs[1]-0.4) > 1e-6 {
		t.Fatalf("global probs = %v, want [0.6 0.4]", probs)
	}
}

func TestAggregatedReporterWritesJSON(t *testing.T) {
	r := &AggregatedReporter{}
	d := t.TempDir()
	ctx := types.ReportContext{
		OutputPath: d,
		TileName:   "t33",
		Adapter:    types.AdapterSpec{NumClasses: 1},
	}
	if err := r.OnStart(ctx); err != nil {
		t.Fatalf("on start: %v", err)
	}
	if err := r.OnChunk(testChunk(1, 2, 2, 0, 0, func(c, y, x int) float32 { return 1 })); err != nil {
		t.Fatalf("on chunk: %v", err)
	}
	if err := r.OnFinish(ctx); err != nil {
		t.Fatalf("on finish: %v", err)
	}
	if _, err := os.Stat(filepath.Join(d, "t33_global_probs.json")); err != nil {
		t.Fatalf("output file missing: %v", err)
	}
}

func TestPreviewReporterMosaic(t *testing.T) {
	r := &PreviewReporter{downscale: 2}
	ctx := types.ReportContext{RasterHeight: 4, RasterWidth: 4}
	if err := r.OnStart(ctx); err != nil {
		t.Fatalf("on start: %v", err)
	}
	// Class 1 dominates everywhere in this single full-raster chunk.
	chunk := testChunk(2, 4, 4, 0, 0, func(c, y, x int) float32 {
		if c == 1 {
			return 0.9
		}
		return 0.1
	})
	if err := r.OnChunk(chunk); err != nil {
		t.Fatalf("on chunk: %v", err)
	}
	mosaic, rows, cols := r.Mosaic()
	if rows != 2 || cols != 2 {
		t.Fatalf("mosaic %dx%d, want 2x2", rows, cols)
	}
	for i, v := range mosaic {
		if v != 1 {
			t.Fatalf("mosaic[%d] = %d, want 1", i, v)
		}
	}
}
