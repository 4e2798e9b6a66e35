package types

// StageStatus is the live status of a single pipeline stage.
type StageStatus struct {
	// Stage name, e.g. "reader", "inference", "writer".
	Name string `json:"name"`
	// Human-readable status line, e.g. "PROCESSING batch 12" or "IDLE".
	Status string `json:"status"`
	// 1-based index of the batch currently in flight (0 when idle).
	CurrentBatch int `json:"current_batch"`
	// Total batches for the current chunk (0 until known).
	TotalBatches int `json:"total_batches"`
	// Inclusive patch index range of the current batch.
	PatchRange [2]int `json:"patch_range"`
}

// StatusResponse is a consistent snapshot of pipeline progress, served by
// GET /status and rendered by the live monitor.
type StatusResponse struct {
	RunID             string        `json:"run_id"`
	State             RunState      `json:"state"`
	ChunkSide         int           `json:"chunk_side"`
	CurrentChunk      int           `json:"current_chunk"`
	TotalChunks       int           `json:"total_chunks"`
	PatchesProcessed  int           `json:"patches_processed"`
	TotalPatches      int           `json:"total_patches"`
	ZeroFilledBatches int           `json:"zero_filled_batches"`
	ElapsedSeconds    float64       `json:"elapsed_seconds"`
	Stages            []StageStatus `json:"stages"`
	Error             string        `json:"error,omitempty"`
}

// ErrorResponse is the JSON error payload returned by the HTTP API.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// PlanResponse is the result of a planning dry run.
type PlanResponse struct {
	ChunkSide      int     `json:"chunk_side"`
	EffectiveBytes int64   `json:"effective_bytes"`
	TotalBPP       float64 `json:"total_bpp"`
	BPPPatches     float64 `json:"bpp_patches"`
	BPPLogits      float64 `json:"bpp_logits"`
	BPPRecon       float64 `json:"bpp_recon"`
	BPPReporters   float64 `json:"bpp_reporters"`
	BPPIO          float64 `json:"bpp_io"`
	OverheadBPP    float64 `json:"overhead_bpp"`
}
