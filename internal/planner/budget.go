package planner

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const bytesPerGiB = 1 << 30

// MemoryBudget is the memory envelope for a run. Derived once from system
// introspection or an explicit override; immutable afterwards.
type MemoryBudget struct {
	TotalBytes        int64
	AvailableBytes    int64
	SafetyBufferBytes int64
}

// EffectiveBytes is the budget actually usable by the planner: available
// minus the safety buffer, clamped at zero.
func (b MemoryBudget) EffectiveBytes() int64 {
	eff := b.AvailableBytes - b.SafetyBufferBytes
	if eff < 0 {
		return 0
	}
	return eff
}

// DetectBudget builds a MemoryBudget from /proc/meminfo, unless maxMemoryGB
// is set, in which case the override wins and detection is skipped.
func DetectBudget(maxMemoryGB, safetyBufferGB float64, log zerolog.Logger) (MemoryBudget, error) {
	buffer := int64(safetyBufferGB * bytesPerGiB)
	if maxMemoryGB > 0 {
		limit := int64(maxMemoryGB * bytesPerGiB)
		b := MemoryBudget{TotalBytes: limit, AvailableBytes: limit, SafetyBufferBytes: buffer}
		log.Info().
			Float64("limit_gb", maxMemoryGB).
			Float64("buffer_gb", safetyBufferGB).
			Float64("effective_gb", float64(b.EffectiveBytes())/bytesPerGiB).
			Msg("memory budget from manual limit")
		return b, nil
	}
	total, avail, err := readMemInfo("/proc/meminfo")
	if err != nil {
		return MemoryBudget{}, fmt.Errorf("detect memory: %w", err)
	}
	b := MemoryBudget{TotalBytes: total, AvailableBytes: avail, SafetyBufferBytes: buffer}
	log.Info().
		Float64("available_gb", float64(avail)/bytesPerGiB).
		Float64("buffer_gb", safetyBufferGB).
		Float64("effective_gb", float64(b.EffectiveBytes())/bytesPerGiB).
		Msg("memory budget from system")
	return b, nil
}

// readMemInfo parses MemTotal and MemAvailable (kB) from a meminfo file.
func readMemInfo(path string) (total, available int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		var dst *int64
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			dst = &total
		case strings.HasPrefix(line, "MemAvailable:"):
			dst = &available
		default:
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		kb, perr := strconv.ParseInt(fields[1], 10, 64)
		if perr != nil {
			continue
		}
		*dst = kb * 1024
	}
	if err := sc.Err(); err != nil {
		return 0, 0, err
	}
	if total == 0 || available == 0 {
		return 0, 0, fmt.Errorf("meminfo missing MemTotal/MemAvailable")
	}
	return total, available, nil
}
