package types

// AdapterSpec describes the geometry and output shape of a model adapter.
// All fields are read-only properties of the adapter and fixed for a run.
type AdapterSpec struct {
	// Number of input bands (channels) the model consumes.
	NumBands int `json:"num_bands"`
	// Number of output classes.
	NumClasses int `json:"num_classes"`
	// Side length of a square inference patch, in pixels.
	PatchSize int `json:"patch_size"`
	// Stride between patch corners as a fraction of PatchSize (0 < r <= 1).
	StrideRatio float64 `json:"stride_ratio"`
	// True for dense per-pixel output, false for one vector per patch.
	IsSegmentation bool `json:"is_segmentation"`
}

// Stride returns the patch stride in pixels.
func (s AdapterSpec) Stride() int {
	st := int(float64(s.PatchSize) * s.StrideRatio)
	if st < 1 {
		st = 1
	}
	return st
}

// Window is a rectangular region of the raster in pixel coordinates.
type Window struct {
	Row    int `json:"row"`
	Col    int `json:"col"`
	Height int `json:"height"`
	Width  int `json:"width"`
}

// RunState tracks the lifecycle of a pipeline run.
type RunState string

const (
	RunNotStarted RunState = "not_started"
	RunRunning    RunState = "running"
	RunCompleted  RunState = "completed"
	RunStopped    RunState = "stopped"
	RunFailed     RunState = "failed"
)

// Terminal reports whether the state is final.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunStopped || s == RunFailed
}

// ReportContext carries run-level context into reporter lifecycle calls.
type ReportContext struct {
	OutputPath   string      `json:"output_path"`
	TileName     string      `json:"tile_name"`
	RunID        string      `json:"run_id"`
	RasterHeight int         `json:"raster_height"`
	RasterWidth  int         `json:"raster_width"`
	Classes      []string    `json:"classes"`
	Adapter      AdapterSpec `json:"adapter"`
}

// ChunkData is the unit handed to reporters: the reconstructed, halo-cropped
// probability map for one chunk's valid region, plus its raster window.
type ChunkData struct {
	// Probs is a flat (NumClasses, Window.Height, Window.Width) float32 array
	// of normalized per-class probabilities, class-major.
	Probs      []float32
	NumClasses int
	Window     Window
}

// At returns the probability for class c at (row, col) within the window.
func (d ChunkData) At(c, row, col int) float32 {
	return d.Probs[(c*d.Window.Height+row)*d.Window.Width+col]
}
