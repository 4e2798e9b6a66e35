package tiling

import "rasterd/pkg/types"

// ChunkSpec locates one chunk of the raster sweep: the valid region the
// chunk is responsible for producing, and the expanded window actually read
// so edge patches get halo context. Valid regions of the full grid partition
// the raster; read windows overlap by up to one halo on each side.
type ChunkSpec struct {
	Index int
	Valid types.Window
	Read  types.Window
}

// HaloTop is the number of halo rows above the valid region inside the read
// window (clamped at the raster border, so it can be less than the halo).
func (c ChunkSpec) HaloTop() int { return c.Valid.Row - c.Read.Row }

// HaloLeft is the number of halo columns left of the valid region.
func (c ChunkSpec) HaloLeft() int { return c.Valid.Col - c.Read.Col }

// Grid cuts the raster into chunk-sized valid regions in row-major order,
// each with a halo-expanded read window clamped to the raster extent.
func Grid(rasterH, rasterW, chunkSide, halo int) []ChunkSpec {
	var chunks []ChunkSpec
	idx := 0
	for r := 0; r < rasterH; r += chunkSide {
		h := min(chunkSide, rasterH-r)
		for c := 0; c < rasterW; c += chunkSide {
			w := min(chunkSide, rasterW-c)
			readR := max(0, r-halo)
			readC := max(0, c-halo)
			readH := min(rasterH, r+h+halo) - readR
			readW := min(rasterW, c+w+halo) - readC
			chunks = append(chunks, ChunkSpec{
				Index: idx,
				Valid: types.Window{Row: r, Col: c, Height: h, Width: w},
				Read:  types.Window{Row: readR, Col: readC, Height: readH, Width: readW},
			})
			idx++
		}
	}
	return chunks
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
