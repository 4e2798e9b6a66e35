package pipeline

import (
	"sync"
	"time"

	"rasterd/pkg/types"
)

// Stage names as they appear in status snapshots.
const (
	StageReader    = "reader"
	StageInference = "inference"
	StageWriter    = "writer"
)

// StatusMonitor is the shared status record between the pipeline stages and
// any progress observer. Mutations happen under a mutex and poke a
// capacity-1 signal channel with a non-blocking send, so updating never
// blocks the inference stage beyond the lock hold time. Observers wait on
// the signal with a bounded timeout so they never hang indefinitely.
type StatusMonitor struct {
	mu      sync.Mutex
	status  types.StatusResponse
	order   []string
	stages  map[string]types.StageStatus
	started time.Time
	signal  chan struct{}
}

// NewStatusMonitor creates a monitor for one run.
func NewStatusMonitor(runID string, chunkSide int) *StatusMonitor {
	m := &StatusMonitor{
		status: types.StatusResponse{
			RunID:     runID,
			State:     types.RunNotStarted,
			ChunkSide: chunkSide,
		},
		order:   []string{StageReader, StageInference, StageWriter},
		stages:  make(map[string]types.StageStatus),
		started: time.Now(),
		signal:  make(chan struct{}, 1),
	}
	for _, name := range m.order {
		m.stages[name] = types.StageStatus{Name: name, Status: "IDLE"}
	}
	return m
}

func (m *StatusMonitor) notifyLocked() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// SetState records a run-state transition.
func (m *StatusMonitor) SetState(s types.RunState) {
	m.mu.Lock()
	m.status.State = s
	m.notifyLocked()
	m.mu.Unlock()
}

// SetTotals fixes the sweep totals once the grid is known.
func (m *StatusMonitor) SetTotals(totalChunks, totalPatches int) {
	m.mu.Lock()
	m.status.TotalChunks = totalChunks
	m.status.TotalPatches = totalPatches
	m.notifyLocked()
	m.mu.Unlock()
}

// UpdateStage replaces one stage's status record.
func (m *StatusMonitor) UpdateStage(st types.StageStatus) {
	m.mu.Lock()
	m.stages[st.Name] = st
	m.notifyLocked()
	m.mu.Unlock()
}

// AddPatches accumulates processed patches.
func (m *StatusMonitor) AddPatches(n int) {
	m.mu.Lock()
	m.status.PatchesProcessed += n
	m.notifyLocked()
	m.mu.Unlock()
}

// IncZeroFilled counts a batch substituted with zeros after a model failure.
func (m *StatusMonitor) IncZeroFilled() {
	m.mu.Lock()
	m.status.ZeroFilledBatches++
	m.notifyLocked()
	m.mu.Unlock()
}

// SetCurrentChunk records writer progress through the chunk grid.
func (m *StatusMonitor) SetCurrentChunk(i int) {
	m.mu.Lock()
	m.status.CurrentChunk = i
	m.notifyLocked()
	m.mu.Unlock()
}

// SetError records the run error message.
func (m *StatusMonitor) SetError(msg string) {
	m.mu.Lock()
	m.status.Error = msg
	m.notifyLocked()
	m.mu.Unlock()
}

// Snapshot returns a consistent copy of the full status.
func (m *StatusMonitor) Snapshot() types.StatusResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.status
	snap.ElapsedSeconds = time.Since(m.started).Seconds()
	snap.Stages = make([]types.StageStatus, 0, len(m.order))
	for _, name := range m.order {
		snap.Stages = append(snap.Stages, m.stages[name])
	}
	return snap
}

// Wait blocks until a status change is signaled, the timeout elapses, or
// stop closes, whichever comes first.
func (m *StatusMonitor) Wait(timeout time.Duration, stop <-chan struct{}) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-m.signal:
	case <-t.C:
	case <-stop:
	}
}
