package registry

import (
	"sync"

	"rasterd/internal/config"
	"rasterd/internal/pipeline"
	"rasterd/pkg/types"
)

const defaultPreviewDownscale = 10

func init() {
	Register("preview",
		func(cfg config.ReporterConfig) (pipeline.Reporter, error) {
			return &PreviewReporter{
				downscale: intOption(cfg.Options, "downscale_factor", defaultPreviewDownscale),
			}, nil
		},
		func(cfg config.ReporterConfig, rctx CostContext) (float64, error) {
			f := intOption(cfg.Options, "downscale_factor", defaultPreviewDownscale)
			// One dominant-class byte per downscaled pixel.
			return 1.0 / float64(f*f), nil
		},
	)
}

// PreviewReporter maintains a low-resolution dominant-class mosaic of the
// whole raster, filled incrementally as chunks arrive. Rendering the mosaic
// to an image is the caller's concern.
type PreviewReporter struct {
	downscale int

	mu     sync.Mutex
	mosaic []uint8
	rows   int
	cols   int
}

func (r *PreviewReporter) OnStart(ctx types.ReportContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.downscale < 1 {
		r.downscale = 1
	}
	r.rows = (ctx.RasterHeight + r.downscale - 1) / r.downscale
	r.cols = (ctx.RasterWidth + r.downscale - 1) / r.downscale
	r.mosaic = make([]uint8, r.rows*r.cols)
	return nil
}

func (r *PreviewReporter) OnChunk(data types.ChunkData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := data.Window
	// Nearest-neighbor sample: each mosaic cell whose anchor pixel falls
	// inside this window takes that pixel's dominant class.
	startRow := (w.Row + r.downscale - 1) / r.downscale
	startCol := (w.Col + r.downscale - 1) / r.downscale
	for mr := startRow; mr*r.downscale < w.Row+w.Height && mr < r.rows; mr++ {
		y := mr*r.downscale - w.Row
		for mc := startCol; mc*r.downscale < w.Col+w.Width && mc < r.cols; mc++ {
			x := mc*r.downscale - w.Col
			best, bestV := 0, data.At(0, y, x)
			for c := 1; c < data.NumClasses; c++ {
				if v := data.At(c, y, x); v > bestV {
					best, bestV = c, v
				}
			}
			r.mosaic[mr*r.cols+mc] = uint8(best)
		}
	}
	return nil
}

func (r *PreviewReporter) OnFinish(ctx types.ReportContext) error { return nil }

// Mosaic returns a copy of the dominant-class mosaic and its dimensions.
func (r *PreviewReporter) Mosaic() ([]uint8, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint8, len(r.mosaic))
	copy(out, r.mosaic)
	return out, r.rows, r.cols
}
