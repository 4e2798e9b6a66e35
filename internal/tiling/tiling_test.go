package tiling

import (
	"math"
	"testing"
)

// ramp fills a tensor with values unique per (channel, row, col).
func ramp(c, h, w int) Tensor {
	t := NewTensor(c, h, w)
	for i := range t.Data {
		t.Data[i] = float32(i%977) * 0.5
	}
	return t
}

func TestCornersCoverExtent(t *testing.T) {
	cases := []struct {
		extent, patch, stride int
	}{
		{240, 120, 60},
		{250, 120, 60},
		{120, 120, 60},
		{100, 120, 60},
		{361, 120, 120},
	}
	for _, tc := range cases {
		cs := corners(tc.extent, tc.patch, tc.stride)
		if cs[0] != 0 {
			t.Fatalf("extent=%d: first corner %d", tc.extent, cs[0])
		}
		last := cs[len(cs)-1]
		if tc.extent > tc.patch && last+tc.patch < tc.extent {
			t.Fatalf("extent=%d: coverage ends at %d", tc.extent, last+tc.patch)
		}
		for i := 1; i < len(cs); i++ {
			if cs[i]-cs[i-1] != tc.stride {
				t.Fatalf("extent=%d: corners not stride-spaced: %v", tc.extent, cs)
			}
		}
	}
}

func TestCutPatchesShapeAndOrder(t *testing.T) {
	src := ramp(3, 240, 180)
	res := CutPatches(src, 120, 60)
	// rows: 0,60,120; cols: 0,60
	if len(res.Patches) != 3*2 {
		t.Fatalf("patch count = %d, want 6", len(res.Patches))
	}
	if res.HCrop != 240 || res.WCrop != 180 {
		t.Fatalf("crop extent = %dx%d", res.HCrop, res.WCrop)
	}
	// Row-major corner order.
	wantCorners := [][2]int{{0, 0}, {0, 60}, {60, 0}, {60, 60}, {120, 0}, {120, 60}}
	for i, p := range res.Patches {
		if p.Row != wantCorners[i][0] || p.Col != wantCorners[i][1] {
			t.Fatalf("patch %d at (%d,%d), want (%d,%d)", i, p.Row, p.Col, wantCorners[i][0], wantCorners[i][1])
		}
	}
	// Interior patch values match the source.
	p := res.Patches[3] // corner (60, 60)
	for ch := 0; ch < 3; ch++ {
		for y := 0; y < 120; y += 17 {
			for x := 0; x < 120; x += 13 {
				got := p.Data[(ch*120+y)*120+x]
				want := src.At(ch, 60+y, 60+x)
				if got != want {
					t.Fatalf("patch value (%d,%d,%d) = %v, want %v", ch, y, x, got, want)
				}
			}
		}
	}
}

func TestCutPatchesZeroPadsOverhang(t *testing.T) {
	src := ramp(2, 150, 150)
	res := CutPatches(src, 120, 60)
	// Corners at 0 and 60; patch at 60 hangs 30px past the 150px extent.
	var edge *Patch
	for i := range res.Patches {
		if res.Patches[i].Row == 60 && res.Patches[i].Col == 60 {
			edge = &res.Patches[i]
		}
	}
	if edge == nil {
		t.Fatalf("no edge patch at (60,60)")
	}
	for ch := 0; ch < 2; ch++ {
		// In-bounds values preserved.
		if got, want := edge.Data[(ch*120+0)*120+0], src.At(ch, 60, 60); got != want {
			t.Fatalf("in-bounds value = %v, want %v", got, want)
		}
		// Overhang rows and columns are zero.
		if v := edge.Data[(ch*120+100)*120+50]; v != 0 {
			t.Fatalf("padded row not zero: %v", v)
		}
		if v := edge.Data[(ch*120+50)*120+100]; v != 0 {
			t.Fatalf("padded col not zero: %v", v)
		}
	}
}

func TestReconstructIdentitySegmentation(t *testing.T) {
	// Cut, run an identity "model" echoing patch pixels, reconstruct:
	// every pixel of the crop extent must come back exactly.
	src := ramp(4, 180, 150)
	res := CutPatches(src, 120, 60)
	preds := make([]PatchPrediction, len(res.Patches))
	for i, p := range res.Patches {
		preds[i] = PatchPrediction{Scores: p.Data, Row: p.Row, Col: p.Col}
	}
	out := Reconstruct(preds, 4, 120, res.HCrop, res.WCrop, true)
	for c := 0; c < 4; c++ {
		for y := 0; y < res.HCrop; y++ {
			for x := 0; x < res.WCrop; x++ {
				got := out.At(c, y, x)
				want := src.At(c, y, x)
				if math.Abs(float64(got-want)) > 1e-4 {
					t.Fatalf("(%d,%d,%d) = %v, want %v", c, y, x, got, want)
				}
			}
		}
	}
}

func TestReconstructIdentityClassification(t *testing.T) {
	// A constant-per-channel input means every patch vector equals the
	// channel constants, so averaging overlaps must reproduce them.
	const classes = 3
	src := NewTensor(classes, 240, 240)
	consts := []float32{0.25, 0.5, 0.75}
	for c := 0; c < classes; c++ {
		for y := 0; y < 240; y++ {
			for x := 0; x < 240; x++ {
				src.Set(c, y, x, consts[c])
			}
		}
	}
	res := CutPatches(src, 120, 60)
	preds := make([]PatchPrediction, len(res.Patches))
	for i, p := range res.Patches {
		preds[i] = PatchPrediction{Scores: consts, Row: p.Row, Col: p.Col}
	}
	out := Reconstruct(preds, classes, 120, res.HCrop, res.WCrop, false)
	for c := 0; c < classes; c++ {
		for y := 0; y < 240; y += 7 {
			for x := 0; x < 240; x += 11 {
				if got := out.At(c, y, x); math.Abs(float64(got-consts[c])) > 1e-5 {
					t.Fatalf("(%d,%d,%d) = %v, want %v", c, y, x, got, consts[c])
				}
			}
		}
	}
}

func TestReconstructAveragesOverlaps(t *testing.T) {
	// Two classification patches overlapping by half: the overlap strip
	// averages their vectors, the exclusive strips keep each exactly.
	preds := []PatchPrediction{
		{Scores: []float32{1.0}, Row: 0, Col: 0},
		{Scores: []float32{3.0}, Row: 0, Col: 2},
	}
	out := Reconstruct(preds, 1, 4, 4, 6, false)
	checks := []struct {
		x    int
		want float32
	}{
		{0, 1.0}, {1, 1.0}, // covered only by the first
		{2, 2.0}, {3, 2.0}, // overlap: mean of 1 and 3
		{4, 3.0}, {5, 3.0}, // covered only by the second
	}
	for _, ck := range checks {
		if got := out.At(0, 1, ck.x); got != ck.want {
			t.Fatalf("x=%d: got %v, want %v", ck.x, got, ck.want)
		}
	}
}

func TestCrop(t *testing.T) {
	src := ramp(2, 50, 60)
	out := Crop(src, 10, 20, 30, 25)
	if out.C != 2 || out.H != 30 || out.W != 25 {
		t.Fatalf("crop shape = (%d,%d,%d)", out.C, out.H, out.W)
	}
	for c := 0; c < 2; c++ {
		for y := 0; y < 30; y += 3 {
			for x := 0; x < 25; x += 4 {
				if out.At(c, y, x) != src.At(c, 10+y, 20+x) {
					t.Fatalf("crop mismatch at (%d,%d,%d)", c, y, x)
				}
			}
		}
	}
}

func TestGridPartitionsRaster(t *testing.T) {
	// Valid regions must tile the raster exactly once: no gaps, no overlap.
	for _, tc := range []struct{ h, w, side, halo int }{
		{1000, 1000, 360, 128},
		{3120, 2881, 3120, 128},
		{500, 720, 240, 64},
		{100, 100, 360, 128}, // raster smaller than one chunk
	} {
		covered := make([]int, tc.h*tc.w)
		chunks := Grid(tc.h, tc.w, tc.side, tc.halo)
		for _, ch := range chunks {
			v := ch.Valid
			for y := v.Row; y < v.Row+v.Height; y++ {
				for x := v.Col; x < v.Col+v.Width; x++ {
					covered[y*tc.w+x]++
				}
			}
			// Read window contains the valid region expanded by at
			// most halo, clamped to the raster.
			r := ch.Read
			if r.Row > v.Row || r.Col > v.Col {
				t.Fatalf("%+v: read window does not contain valid region", tc)
			}
			if r.Row+r.Height < v.Row+v.Height || r.Col+r.Width < v.Col+v.Width {
				t.Fatalf("%+v: read window truncates valid region", tc)
			}
			if r.Row < 0 || r.Col < 0 || r.Row+r.Height > tc.h || r.Col+r.Width > tc.w {
				t.Fatalf("%+v: read window out of raster bounds", tc)
			}
		}
		for i, n := range covered {
			if n != 1 {
				t.Fatalf("%+v: pixel %d covered %d times", tc, i, n)
			}
		}
		// Row-major ordering by valid-region origin.
		for i := 1; i < len(chunks); i++ {
			a, b := chunks[i-1].Valid, chunks[i].Valid
			if b.Row < a.Row || (b.Row == a.Row && b.Col <= a.Col) {
				t.Fatalf("%+v: chunks out of row-major order at %d", tc, i)
			}
		}
	}
}
