package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"rasterd/pkg/types"
)

// Executes the real command tree end to end, including the persistent
// pre-run that installs the HTTP layer's logger.
func TestPlanCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "run.yaml")
	cfgYAML := "tiling:\n  max_memory_gb: 8\n"
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	root := buildRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"plan", "--config", cfgPath, "--log-level", "error"})
	if err := root.Execute(); err != nil {
		t.Fatalf("plan: %v", err)
	}

	var resp types.PlanResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("decode plan output: %v\n%s", err, out.String())
	}
	// Default geometry (12 bands, 19 classes, patch 120, stride 0.5, halo
	// 128) under an 8 GiB limit with a 1 GiB buffer.
	if resp.ChunkSide != 3120 {
		t.Fatalf("chunk side = %d, want 3120", resp.ChunkSide)
	}
	if resp.EffectiveBytes != 7*(1<<30) {
		t.Fatalf("effective bytes = %d, want 7 GiB", resp.EffectiveBytes)
	}
	// No reporters configured: the legacy flag-based estimate applies, with
	// all three products on by default.
	if resp.BPPReporters != 21 {
		t.Fatalf("reporter bpp = %v, want 21", resp.BPPReporters)
	}
}

func TestBatchFootprintProbe(t *testing.T) {
	seg := types.AdapterSpec{NumBands: 2, NumClasses: 3, PatchSize: 8, StrideRatio: 0.5, IsSegmentation: true}
	probe := batchFootprintProbe(seg)
	// Dense output is a full (C, P, P) map per patch, independent of stride.
	want := int64(4) * int64(2*8*8+3*8*8) * 4
	if peak, err := probe(4); err != nil || peak != want {
		t.Fatalf("segmentation probe(4) = (%d, %v), want %d", peak, err, want)
	}

	cls := seg
	cls.IsSegmentation = false
	probe = batchFootprintProbe(cls)
	want = int64(2) * int64(2*8*8+3) * 4
	if peak, err := probe(2); err != nil || peak != want {
		t.Fatalf("classification probe(2) = (%d, %v), want %d", peak, err, want)
	}
}
