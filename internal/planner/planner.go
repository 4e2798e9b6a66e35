// Package planner derives a safe chunk side length ("Zone of Responsibility")
// from a memory budget, the pipeline queue depths, and a per-pixel cost model
// of every buffer a chunk occupies while in flight. The solve is pure and
// deterministic: no raster, no model, no system state.
package planner

import (
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"rasterd/pkg/types"
)

// PlanChunkSide returns the largest valid (halo-free) chunk side that fits
// the budget. The result is a positive multiple of the patch size; when even
// one patch does not fit, it returns exactly one patch size so the pipeline
// stays correct at the cost of exceeding the budget.
//
// Monotonic: a larger effective budget never yields a smaller side.
func PlanChunkSide(spec types.AdapterSpec, budget MemoryBudget, depths PipelineDepths, halo int, reporterBPP float64) int {
	model := NewCostModel(spec, reporterBPP)
	totalBPP := model.TotalBPP(depths)

	maxPixels := float64(budget.EffectiveBytes()) / totalBPP
	maxChunkSide := int(math.Sqrt(maxPixels))

	maxValid := maxChunkSide - 2*halo
	if maxValid <= 0 {
		return spec.PatchSize
	}
	side := (maxValid / spec.PatchSize) * spec.PatchSize
	if side < spec.PatchSize {
		side = spec.PatchSize
	}
	return side
}

// Plan runs PlanChunkSide and returns the full cost breakdown for dry runs.
func Plan(spec types.AdapterSpec, budget MemoryBudget, depths PipelineDepths, halo int, reporterBPP float64) types.PlanResponse {
	model := NewCostModel(spec, reporterBPP)
	return types.PlanResponse{
		ChunkSide:      PlanChunkSide(spec, budget, depths, halo, reporterBPP),
		EffectiveBytes: budget.EffectiveBytes(),
		TotalBPP:       model.TotalBPP(depths),
		BPPPatches:     model.BPPPatches,
		BPPLogits:      model.BPPLogits,
		BPPRecon:       model.BPPRecon,
		BPPReporters:   model.BPPReporters,
		BPPIO:          model.BPPIO,
		OverheadBPP:    model.OverheadBPP,
	}
}

// Resolve turns the configured chunk-side value into pixels. "auto" invokes
// the planner via auto; an explicit positive integer is used verbatim; any
// other value falls back to ten patch sizes with a warning. Non-positive
// explicit values take the fallback too: a zero side would stall the chunk
// grid iteration.
func Resolve(zor any, patchSize int, auto func() int, log zerolog.Logger) int {
	explicit := -1
	switch v := zor.(type) {
	case string:
		if strings.EqualFold(strings.TrimSpace(v), "auto") {
			log.Info().Msg("auto-calculating chunk side from available memory")
			return auto()
		}
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			explicit = n
		}
	case int:
		explicit = v
	case int64:
		explicit = int(v)
	case uint64:
		explicit = int(v)
	case float64:
		// JSON numbers decode as float64.
		explicit = int(v)
	}
	if explicit > 0 {
		return explicit
	}
	fallback := patchSize * 10
	log.Warn().Interface("zor", zor).Int("fallback", fallback).Msg("invalid chunk-side config, using fallback")
	return fallback
}
