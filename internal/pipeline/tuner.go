package pipeline

// ProbeFunc trials a batch size against the live device and reports the peak
// memory the trial allocated. A returned error (out of memory or otherwise)
// marks the size as failed. The probe mutates real device state, so it is
// injected rather than hidden behind package state.
type ProbeFunc func(batchSize int) (peakBytes int64, err error)

// FindBatchSize binary-searches [1, hardCap] for the largest batch size
// whose probe succeeds and stays within deviceTotalBytes*safetyFactor.
// Failures are search signal, never propagated: if even size 1 fails, the
// result is 1. Because the probe runs against live hardware, repeated calls
// may legitimately differ between runs.
func FindBatchSize(probe ProbeFunc, deviceTotalBytes int64, safetyFactor float64, hardCap int) int {
	if hardCap < 1 {
		hardCap = 1
	}
	low, high := 1, hardCap
	best := 1
	for low <= high {
		mid := (low + high) / 2
		peak, err := probe(mid)
		if err != nil || float64(peak) > float64(deviceTotalBytes)*safetyFactor {
			high = mid - 1
			continue
		}
		best = mid
		low = mid + 1
	}
	return best
}
