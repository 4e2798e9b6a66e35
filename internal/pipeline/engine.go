// Package pipeline orchestrates the raster sweep: reader workers cut chunks
// into patches and feed a bounded prefetch queue, a single inference worker
// batches patches through the model adapter, and a writer worker
// reconstructs each chunk's valid region and hands it to reporters. Queues
// apply blocking backpressure; no patch is ever dropped.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rasterd/internal/tiling"
	"rasterd/pkg/types"
)

// Defaults applied when corresponding EngineConfig fields are unset.
const (
	defaultBatchSize     = 16
	defaultPrefetchDepth = 2
	defaultWriterDepth   = 4
	defaultReaderWorkers = 1

	// How long the status observer sleeps between forced wakeups.
	monitorPollInterval = 200 * time.Millisecond
)

// EngineConfig encapsulates all tunables for Engine construction.
type EngineConfig struct {
	RunID        string
	RasterHeight int
	RasterWidth  int
	// Valid (halo-free) chunk side in pixels, from the planner or config.
	ChunkSide int
	// Halo margin read around each chunk.
	Halo int
	// Patches per model invocation.
	BatchSize int
	// Bounded queue depths. PrefetchDepth 0 means synchronous handoff.
	PrefetchDepth int
	WriterDepth   int
	ReaderWorkers int
	// Abort the run on a model failure instead of substituting zeros.
	FailFast bool
	// Run the status observer goroutine.
	EnableMonitor bool
	// StatusSink receives observer snapshots; rendering is the caller's
	// concern. Only used when EnableMonitor is set.
	StatusSink func(types.StatusResponse)
	// Report is the run-level context passed to reporter lifecycle calls.
	Report types.ReportContext
	Log    zerolog.Logger
}

// RunReport summarizes a finished run for callers and benchmark tooling.
type RunReport struct {
	RunID             string
	State             types.RunState
	TotalChunks       int
	TotalPatches      int
	PatchesProcessed  int
	ZeroFilledBatches int
	BatchTimes        []time.Duration
	Elapsed           time.Duration
}

// Engine drives one raster sweep. An Engine is single-use: construct, Run
// once, inspect the report.
type Engine struct {
	cfg       EngineConfig
	adapter   Adapter
	reporters []Reporter
	monitor   *StatusMonitor
	log       zerolog.Logger

	mu     sync.Mutex
	state  types.RunState
	runErr error

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewEngine constructs an Engine, applying defaults for unset tunables.
func NewEngine(cfg EngineConfig, adapter Adapter, reporters []Reporter) *Engine {
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.PrefetchDepth < 0 {
		cfg.PrefetchDepth = defaultPrefetchDepth
	}
	if cfg.WriterDepth <= 0 {
		cfg.WriterDepth = defaultWriterDepth
	}
	if cfg.ReaderWorkers <= 0 {
		cfg.ReaderWorkers = defaultReaderWorkers
	}
	cfg.Report.RunID = cfg.RunID
	return &Engine{
		cfg:       cfg,
		adapter:   adapter,
		reporters: reporters,
		monitor:   NewStatusMonitor(cfg.RunID, cfg.ChunkSide),
		log:       cfg.Log.With().Str("run_id", cfg.RunID).Logger(),
		state:     types.RunNotStarted,
		stopCh:    make(chan struct{}),
	}
}

// chunkPatches is the unit flowing through the prefetch queue: one chunk's
// cut patches. Ownership transfers to the inference stage.
type chunkPatches struct {
	spec tiling.ChunkSpec
	cut  tiling.CutResult
}

// chunkPredictions flows through the writer queue: all predictions for one
// chunk, still in patch space.
type chunkPredictions struct {
	spec  tiling.ChunkSpec
	preds []tiling.PatchPrediction
	hCrop int
	wCrop int
}

// Stop requests a cooperative stop. In-flight batches finish; no new batch
// starts. The run then reports RunStopped, which is not an error.
func (e *Engine) Stop() { e.requestStop() }

func (e *Engine) requestStop() { e.stopOnce.Do(func() { close(e.stopCh) }) }

func (e *Engine) stopRequested() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

// State returns the current run state.
func (e *Engine) State() types.RunState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s types.RunState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.monitor.SetState(s)
}

// Status returns a consistent snapshot of run progress.
func (e *Engine) Status() types.StatusResponse { return e.monitor.Snapshot() }

// Ready reports whether the pipeline is actively running.
func (e *Engine) Ready() bool { return e.State() == types.RunRunning }

func (e *Engine) fail(err error) {
	e.mu.Lock()
	if e.runErr == nil {
		e.runErr = err
	}
	e.mu.Unlock()
	e.requestStop()
}

// Run executes the full raster sweep and blocks until it finishes. A
// cooperative stop (Stop or context cancellation) yields a RunStopped report
// and a nil error; only genuine failures return an error.
func (e *Engine) Run(ctx context.Context) (RunReport, error) {
	e.mu.Lock()
	if e.state != types.RunNotStarted {
		e.mu.Unlock()
		return RunReport{}, alreadyRanError{}
	}
	e.state = types.RunRunning
	e.mu.Unlock()
	e.monitor.SetState(types.RunRunning)

	start := time.Now()
	spec := e.adapter.Spec()
	stride := spec.Stride()
	chunks := tiling.Grid(e.cfg.RasterHeight, e.cfg.RasterWidth, e.cfg.ChunkSide, e.cfg.Halo)
	totalPatches := 0
	for _, c := range chunks {
		totalPatches += tiling.NumPatches(c.Read.Height, c.Read.Width, spec.PatchSize, stride)
	}
	e.monitor.SetTotals(len(chunks), totalPatches)
	e.log.Info().
		Int("chunks", len(chunks)).
		Int("total_patches", totalPatches).
		Int("chunk_side", e.cfg.ChunkSide).
		Int("batch_size", e.cfg.BatchSize).
		Msg("starting raster sweep")

	// Propagate context cancellation into the stop flag.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			e.requestStop()
		case <-e.stopCh:
		case <-watchDone:
		}
	}()

	for _, r := range e.reporters {
		if err := r.OnStart(e.cfg.Report); err != nil {
			e.log.Warn().Err(err).Msg("reporter OnStart failed")
		}
	}

	prefetch := make(chan chunkPatches, e.cfg.PrefetchDepth)
	writerQ := make(chan chunkPredictions, e.cfg.WriterDepth)

	var wg sync.WaitGroup

	// Reader workers each handle an interleaved subset of the grid and a
	// sequencer merges them back, so the prefetch queue carries chunks in
	// row-major order regardless of worker count.
	workerOut := make([]chan chunkPatches, e.cfg.ReaderWorkers)
	for w := range workerOut {
		workerOut[w] = make(chan chunkPatches)
		wg.Add(1)
		go func(w int, out chan chunkPatches) {
			defer wg.Done()
			defer close(out)
			for i := w; i < len(chunks); i += e.cfg.ReaderWorkers {
				if e.stopRequested() {
					return
				}
				e.monitor.UpdateStage(types.StageStatus{
					Name:   StageReader,
					Status: fmt.Sprintf("READING chunk %d", i+1),
				})
				cut, err := e.adapter.Preprocess(ctx, chunks[i])
				if err != nil {
					e.fail(fmt.Errorf("preprocess chunk %d: %w", i, err))
					return
				}
				select {
				case out <- chunkPatches{spec: chunks[i], cut: cut}:
				case <-e.stopCh:
					return
				}
			}
		}(w, workerOut[w])
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(prefetch)
		for i := 0; i < len(chunks); i++ {
			cp, ok := <-workerOut[i%e.cfg.ReaderWorkers]
			if !ok {
				return
			}
			select {
			case prefetch <- cp:
				queueLength.WithLabelValues("prefetch").Set(float64(len(prefetch)))
			case <-e.stopCh:
				return
			}
		}
		e.monitor.UpdateStage(types.StageStatus{Name: StageReader, Status: "DONE"})
	}()

	// Inference worker: single goroutine, single accelerator.
	var batchTimes []time.Duration
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(writerQ)
		batchIndex := 0
		for {
			var cp chunkPatches
			var ok bool
			select {
			case cp, ok = <-prefetch:
				if !ok {
					e.monitor.UpdateStage(types.StageStatus{Name: StageInference, Status: "DONE"})
					return
				}
			case <-e.stopCh:
				return
			}
			queueLength.WithLabelValues("prefetch").Set(float64(len(prefetch)))

			patches := cp.cut.Patches
			nBatches := (len(patches) + e.cfg.BatchSize - 1) / e.cfg.BatchSize
			preds := make([]tiling.PatchPrediction, 0, len(patches))
			for b := 0; b < nBatches; b++ {
				if e.stopRequested() {
					return
				}
				lo := b * e.cfg.BatchSize
				hi := min(lo+e.cfg.BatchSize, len(patches))
				batchIndex++
				e.monitor.UpdateStage(types.StageStatus{
					Name:         StageInference,
					Status:       fmt.Sprintf("PROCESSING batch %d", batchIndex),
					CurrentBatch: b + 1,
					TotalBatches: nBatches,
					PatchRange:   [2]int{lo, hi - 1},
				})

				t0 := time.Now()
				out, err := e.adapter.Forward(ctx, patches[lo:hi])
				d := time.Since(t0)
				batchTimes = append(batchTimes, d)
				batchDuration.Observe(d.Seconds())
				batchesTotal.Inc()
				if err != nil {
					if e.cfg.FailFast {
						e.fail(ErrAdapterFailure(err))
						return
					}
					e.log.Error().Err(err).Int("batch", batchIndex).
						Msg("model failure, substituting zero-filled predictions")
					out = zeroPredictions(patches[lo:hi], spec)
					zeroFilledBatchesTotal.Inc()
					e.monitor.IncZeroFilled()
				}
				preds = append(preds, out...)
				patchesProcessedTotal.Add(float64(hi - lo))
				e.monitor.AddPatches(hi - lo)
				e.monitor.UpdateStage(types.StageStatus{
					Name:         StageInference,
					Status:       fmt.Sprintf("IDLE (processed batch %d)", batchIndex),
					CurrentBatch: b + 1,
					TotalBatches: nBatches,
					PatchRange:   [2]int{lo, hi - 1},
				})
			}

			select {
			case writerQ <- chunkPredictions{spec: cp.spec, preds: preds, hCrop: cp.cut.HCrop, wCrop: cp.cut.WCrop}:
				queueLength.WithLabelValues("writer").Set(float64(len(writerQ)))
			case <-e.stopCh:
				return
			}
		}
	}()

	// Writer worker: reconstruct the valid region and hand it to reporters.
	// Drains everything the inference stage produced, even after a stop.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for pc := range writerQ {
			queueLength.WithLabelValues("writer").Set(float64(len(writerQ)))
			e.monitor.UpdateStage(types.StageStatus{
				Name:   StageWriter,
				Status: fmt.Sprintf("PROCESSING chunk %d", pc.spec.Index+1),
			})
			recon := tiling.Reconstruct(pc.preds, spec.NumClasses, spec.PatchSize, pc.hCrop, pc.wCrop, spec.IsSegmentation)
			valid := tiling.Crop(recon, pc.spec.HaloTop(), pc.spec.HaloLeft(), pc.spec.Valid.Height, pc.spec.Valid.Width)
			data := types.ChunkData{
				Probs:      valid.Data,
				NumClasses: spec.NumClasses,
				Window:     pc.spec.Valid,
			}
			for _, r := range e.reporters {
				if err := r.OnChunk(data); err != nil {
					e.log.Warn().Err(err).Int("chunk", pc.spec.Index).Msg("reporter OnChunk failed")
				}
			}
			chunksWrittenTotal.Inc()
			e.monitor.SetCurrentChunk(pc.spec.Index + 1)
		}
		e.monitor.UpdateStage(types.StageStatus{Name: StageWriter, Status: "DONE"})
	}()

	// Status observer: wakes on signal or a bounded timeout, never hangs.
	observerDone := make(chan struct{})
	if e.cfg.EnableMonitor {
		go func() {
			defer close(observerDone)
			for {
				// After a stop request the pipeline is still draining;
				// fall back to signal/timeout so the loop does not spin
				// on the closed stop channel.
				stopCh := e.stopCh
				if e.stopRequested() {
					stopCh = nil
				}
				e.monitor.Wait(monitorPollInterval, stopCh)
				snap := e.monitor.Snapshot()
				if e.cfg.StatusSink != nil {
					e.cfg.StatusSink(snap)
				}
				if snap.State.Terminal() {
					return
				}
			}
		}()
	} else {
		close(observerDone)
	}

	wg.Wait()

	e.mu.Lock()
	runErr := e.runErr
	e.mu.Unlock()

	state := types.RunCompleted
	switch {
	case runErr != nil:
		state = types.RunFailed
		e.monitor.SetError(runErr.Error())
	case e.stopRequested():
		state = types.RunStopped
	}

	if state != types.RunFailed {
		for _, r := range e.reporters {
			if err := r.OnFinish(e.cfg.Report); err != nil {
				e.log.Warn().Err(err).Msg("reporter OnFinish failed")
			}
		}
	}

	e.setState(state)
	<-observerDone

	snap := e.monitor.Snapshot()
	report := RunReport{
		RunID:             e.cfg.RunID,
		State:             state,
		TotalChunks:       len(chunks),
		TotalPatches:      totalPatches,
		PatchesProcessed:  snap.PatchesProcessed,
		ZeroFilledBatches: snap.ZeroFilledBatches,
		BatchTimes:        batchTimes,
		Elapsed:           time.Since(start),
	}
	e.log.Info().
		Str("state", string(state)).
		Int("patches", report.PatchesProcessed).
		Dur("elapsed", report.Elapsed).
		Msg("raster sweep finished")
	if state == types.RunFailed {
		return report, runErr
	}
	return report, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
