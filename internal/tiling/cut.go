package tiling

// Patch is one fixed-size tile cut from a chunk, plus its top-left offset
// within the chunk. Data is (C, P, P), channel-major.
type Patch struct {
	Data []float32
	Row  int
	Col  int
}

// CutResult is the ordered patch sequence for one chunk and the extent the
// patches cover. Patches appear in row-major corner order.
type CutResult struct {
	Patches   []Patch
	PatchSize int
	HCrop     int
	WCrop     int
}

// corners returns the stride-spaced top-left positions needed to cover
// extent with patches of the given size. The final position may leave the
// patch hanging past the extent; CutPatches zero-pads that overhang.
func corners(extent, patchSize, stride int) []int {
	if extent <= patchSize {
		return []int{0}
	}
	n := (extent - patchSize + stride - 1) / stride
	out := make([]int, 0, n+1)
	for i := 0; i <= n; i++ {
		out = append(out, i*stride)
	}
	return out
}

// CutPatches slices src into overlapping (C, P, P) patches with
// stride-spaced corners covering the full extent. Patches that hang past the
// right or bottom edge are zero-padded; the padding policy is fixed and
// relied on by reconstruction.
func CutPatches(src Tensor, patchSize, stride int) CutResult {
	rows := corners(src.H, patchSize, stride)
	cols := corners(src.W, patchSize, stride)

	res := CutResult{
		Patches:   make([]Patch, 0, len(rows)*len(cols)),
		PatchSize: patchSize,
		HCrop:     src.H,
		WCrop:     src.W,
	}
	for _, r := range rows {
		for _, c := range cols {
			p := Patch{Data: make([]float32, src.C*patchSize*patchSize), Row: r, Col: c}
			copyH := min(patchSize, src.H-r)
			copyW := min(patchSize, src.W-c)
			for ch := 0; ch < src.C; ch++ {
				for y := 0; y < copyH; y++ {
					srcOff := src.index(ch, r+y, c)
					dstOff := (ch*patchSize+y)*patchSize
					copy(p.Data[dstOff:dstOff+copyW], src.Data[srcOff:srcOff+copyW])
				}
			}
			res.Patches = append(res.Patches, p)
		}
	}
	return res
}

// NumPatches returns how many patches CutPatches produces for an extent,
// without cutting anything.
func NumPatches(h, w, patchSize, stride int) int {
	return len(corners(h, patchSize, stride)) * len(corners(w, patchSize, stride))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
