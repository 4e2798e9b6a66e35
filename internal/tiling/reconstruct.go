package tiling

// PatchPrediction is the model output for a single patch, tagged with the
// patch's offset within its chunk. For classification, Scores holds one
// value per class. For segmentation, Scores is a dense (NumClasses, P, P)
// map, channel-major.
type PatchPrediction struct {
	Scores []float32
	Row    int
	Col    int
}

// Reconstruct stitches overlapping patch predictions back into a
// (numClasses, hCrop, wCrop) map by overlap-averaging: every output pixel is
// the mean of all patch contributions covering it. A pixel covered once
// reproduces its patch's score exactly.
//
// In classification mode each patch paints its whole footprint with its
// single class vector. Footprint area hanging past the crop extent (the
// zero-padded overhang from CutPatches) is ignored.
func Reconstruct(preds []PatchPrediction, numClasses, patchSize, hCrop, wCrop int, segmentation bool) Tensor {
	sum := NewTensor(numClasses, hCrop, wCrop)
	counts := make([]float32, hCrop*wCrop)

	for _, p := range preds {
		maxY := min(patchSize, hCrop-p.Row)
		maxX := min(patchSize, wCrop-p.Col)
		if maxY <= 0 || maxX <= 0 {
			continue
		}
		for c := 0; c < numClasses; c++ {
			for y := 0; y < maxY; y++ {
				rowOff := sum.index(c, p.Row+y, p.Col)
				if segmentation {
					predOff := (c*patchSize + y) * patchSize
					for x := 0; x < maxX; x++ {
						sum.Data[rowOff+x] += p.Scores[predOff+x]
					}
				} else {
					v := p.Scores[c]
					for x := 0; x < maxX; x++ {
						sum.Data[rowOff+x] += v
					}
				}
			}
		}
		for y := 0; y < maxY; y++ {
			countOff := (p.Row+y)*wCrop + p.Col
			for x := 0; x < maxX; x++ {
				counts[countOff+x]++
			}
		}
	}

	for c := 0; c < numClasses; c++ {
		base := c * hCrop * wCrop
		for i, n := range counts {
			if n > 0 {
				sum.Data[base+i] /= n
			}
		}
	}
	return sum
}
