package pipeline

import (
	"context"
	"math"

	"rasterd/internal/tiling"
	"rasterd/pkg/types"
)

// SyntheticAdapter is a self-contained adapter with no raster or model
// behind it: bands are generated deterministically from pixel position and
// predictions are a softmax over per-class band means. It exists to exercise
// the full pipeline for demos, benchmarks, and tuner dry runs.
type SyntheticAdapter struct {
	spec types.AdapterSpec
	seed uint32
}

// NewSyntheticAdapter builds a synthetic adapter with the given geometry.
func NewSyntheticAdapter(spec types.AdapterSpec, seed uint32) *SyntheticAdapter {
	if seed == 0 {
		seed = 1
	}
	return &SyntheticAdapter{spec: spec, seed: seed}
}

func (a *SyntheticAdapter) Spec() types.AdapterSpec { return a.spec }

// sample is a cheap position hash mapped into [0, 1). Deterministic per
// (band, row, col), so re-reading a window yields identical data.
func (a *SyntheticAdapter) sample(band, row, col int) float32 {
	h := a.seed
	h = h*31 + uint32(band)
	h = h*31 + uint32(row)
	h = h*31 + uint32(col)
	h ^= h >> 13
	h *= 0x5bd1e995
	h ^= h >> 15
	return float32(h%10000) / 10000.0
}

func (a *SyntheticAdapter) Preprocess(ctx context.Context, chunk tiling.ChunkSpec) (tiling.CutResult, error) {
	if err := ctx.Err(); err != nil {
		return tiling.CutResult{}, err
	}
	r := chunk.Read
	t := tiling.NewTensor(a.spec.NumBands, r.Height, r.Width)
	for b := 0; b < a.spec.NumBands; b++ {
		for y := 0; y < r.Height; y++ {
			for x := 0; x < r.Width; x++ {
				t.Set(b, y, x, a.sample(b, r.Row+y, r.Col+x))
			}
		}
	}
	return tiling.CutPatches(t, a.spec.PatchSize, a.spec.Stride()), nil
}

func (a *SyntheticAdapter) Forward(ctx context.Context, patches []tiling.Patch) ([]tiling.PatchPrediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := a.spec.PatchSize
	area := p * p
	preds := make([]tiling.PatchPrediction, len(patches))
	for i, patch := range patches {
		// Per-class score from the mean of band c mod NumBands.
		logits := make([]float64, a.spec.NumClasses)
		for c := 0; c < a.spec.NumClasses; c++ {
			band := c % a.spec.NumBands
			sum := 0.0
			for j := band * area; j < (band+1)*area; j++ {
				sum += float64(patch.Data[j])
			}
			logits[c] = sum / float64(area)
		}
		probs := softmax(logits)
		if a.spec.IsSegmentation {
			scores := make([]float32, a.spec.NumClasses*area)
			for c := 0; c < a.spec.NumClasses; c++ {
				for j := 0; j < area; j++ {
					scores[c*area+j] = probs[c]
				}
			}
			preds[i] = tiling.PatchPrediction{Scores: scores, Row: patch.Row, Col: patch.Col}
		} else {
			preds[i] = tiling.PatchPrediction{Scores: probs, Row: patch.Row, Col: patch.Col}
		}
	}
	return preds, nil
}

func softmax(logits []float64) []float32 {
	maxL := logits[0]
	for _, v := range logits[1:] {
		if v > maxL {
			maxL = v
		}
	}
	sum := 0.0
	exps := make([]float64, len(logits))
	for i, v := range logits {
		exps[i] = math.Exp(v - maxL)
		sum += exps[i]
	}
	out := make([]float32, len(logits))
	for i := range exps {
		out[i] = float32(exps[i] / sum)
	}
	return out
}
