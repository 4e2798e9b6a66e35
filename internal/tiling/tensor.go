// Package tiling implements the patch-cut and reconstruction geometry: a
// chunk is sliced into fixed-size overlapping patches for inference, and the
// overlapping patch predictions are averaged back into a continuous,
// halo-free probability surface.
package tiling

// Tensor is a dense (C, H, W) float32 array, channel-major.
type Tensor struct {
	Data []float32
	C    int
	H    int
	W    int
}

// NewTensor allocates a zero-filled tensor.
func NewTensor(c, h, w int) Tensor {
	return Tensor{Data: make([]float32, c*h*w), C: c, H: h, W: w}
}

func (t Tensor) index(c, y, x int) int { return (c*t.H+y)*t.W + x }

// At returns the value at channel c, row y, column x.
func (t Tensor) At(c, y, x int) float32 { return t.Data[t.index(c, y, x)] }

// Set stores v at channel c, row y, column x.
func (t Tensor) Set(c, y, x int, v float32) { t.Data[t.index(c, y, x)] = v }

// Crop copies out the sub-tensor of size h x w starting at (top, left).
func Crop(t Tensor, top, left, h, w int) Tensor {
	out := NewTensor(t.C, h, w)
	for c := 0; c < t.C; c++ {
		for y := 0; y < h; y++ {
			srcOff := t.index(c, top+y, left)
			dstOff := out.index(c, y, 0)
			copy(out.Data[dstOff:dstOff+w], t.Data[srcOff:srcOff+w])
		}
	}
	return out
}
