package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// TilingConfig controls chunk geometry and the memory model.
type TilingConfig struct {
	// Halo margin read around each chunk, in pixels.
	HaloSizePixels int `json:"halo_size_pixels" yaml:"halo_size_pixels" toml:"halo_size_pixels"`
	// Memory held back from the budget, in GiB.
	MemorySafetyBufferGB float64 `json:"memory_safety_buffer_gb" yaml:"memory_safety_buffer_gb" toml:"memory_safety_buffer_gb"`
	// Optional override of system-detected memory, in GiB (0 = detect).
	MaxMemoryGB float64 `json:"max_memory_gb" yaml:"max_memory_gb" toml:"max_memory_gb"`
	// Chunk side: "auto" or an explicit pixel count. Anything else is
	// coerced and falls back with a warning.
	ZoR any `json:"zor" yaml:"zor" toml:"zor"`
}

// DistributedConfig sizes the bounded queues between pipeline stages.
type DistributedConfig struct {
	UsePrefetcher     bool `json:"use_prefetcher" yaml:"use_prefetcher" toml:"use_prefetcher"`
	PrefetchQueueSize int  `json:"prefetch_queue_size" yaml:"prefetch_queue_size" toml:"prefetch_queue_size"`
	WriterQueueSize   int  `json:"writer_queue_size" yaml:"writer_queue_size" toml:"writer_queue_size"`
}

// PipelineConfig tunes scheduler behavior.
type PipelineConfig struct {
	ReaderWorkers int  `json:"reader_workers" yaml:"reader_workers" toml:"reader_workers"`
	FailFast      bool `json:"fail_fast" yaml:"fail_fast" toml:"fail_fast"`
	EnableMonitor bool `json:"enable_monitor" yaml:"enable_monitor" toml:"enable_monitor"`
}

// OutputConfig carries the legacy per-product flags used by the planner's
// fallback cost estimate when no reporter declares its own cost.
type OutputConfig struct {
	Path           string `json:"path" yaml:"path" toml:"path"`
	SaveConfidence bool   `json:"save_confidence" yaml:"save_confidence" toml:"save_confidence"`
	SaveEntropy    bool   `json:"save_entropy" yaml:"save_entropy" toml:"save_entropy"`
	SaveGap        bool   `json:"save_gap" yaml:"save_gap" toml:"save_gap"`
}

// AdapterConfig describes the model adapter to run.
type AdapterConfig struct {
	Name           string  `json:"name" yaml:"name" toml:"name"`
	NumBands       int     `json:"num_bands" yaml:"num_bands" toml:"num_bands"`
	NumClasses     int     `json:"num_classes" yaml:"num_classes" toml:"num_classes"`
	PatchSize      int     `json:"patch_size" yaml:"patch_size" toml:"patch_size"`
	StrideRatio    float64 `json:"stride_ratio" yaml:"stride_ratio" toml:"stride_ratio"`
	IsSegmentation bool    `json:"is_segmentation" yaml:"is_segmentation" toml:"is_segmentation"`
	// GPU batch size. 0 means auto-tune at startup.
	BatchSize int `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	// Fraction of device memory the tuner may fill.
	TunerSafetyFactor float64 `json:"tuner_safety_factor" yaml:"tuner_safety_factor" toml:"tuner_safety_factor"`
	// Upper bound of the tuner's search.
	TunerHardCap int `json:"tuner_hard_cap" yaml:"tuner_hard_cap" toml:"tuner_hard_cap"`
}

// ReporterConfig selects a registered reporter by name with free-form options.
type ReporterConfig struct {
	Name    string         `json:"name" yaml:"name" toml:"name"`
	Options map[string]any `json:"options" yaml:"options" toml:"options"`
}

// ServerConfig controls the live status HTTP API (empty addr = disabled).
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
}

// Config holds runtime parameters for a run.
// Load unmarshals on top of Default(), so absent keys keep their defaults.
type Config struct {
	Tiling      TilingConfig      `json:"tiling" yaml:"tiling" toml:"tiling"`
	Distributed DistributedConfig `json:"distributed" yaml:"distributed" toml:"distributed"`
	Pipeline    PipelineConfig    `json:"pipeline" yaml:"pipeline" toml:"pipeline"`
	Output      OutputConfig      `json:"output" yaml:"output" toml:"output"`
	Adapter     AdapterConfig     `json:"adapter" yaml:"adapter" toml:"adapter"`
	Reporters   []ReporterConfig  `json:"reporters" yaml:"reporters" toml:"reporters"`
	Server      ServerConfig      `json:"server" yaml:"server" toml:"server"`
}

// Default returns the configuration applied when keys are absent.
func Default() Config {
	return Config{
		Tiling: TilingConfig{
			HaloSizePixels:       128,
			MemorySafetyBufferGB: 1.0,
			ZoR:                  "auto",
		},
		Distributed: DistributedConfig{
			UsePrefetcher:     true,
			PrefetchQueueSize: 2,
			WriterQueueSize:   4,
		},
		Pipeline: PipelineConfig{
			ReaderWorkers: 1,
			EnableMonitor: true,
		},
		Output: OutputConfig{
			SaveConfidence: true,
			SaveEntropy:    true,
			SaveGap:        true,
		},
		Adapter: AdapterConfig{
			NumBands:          12,
			NumClasses:        19,
			PatchSize:         120,
			StrideRatio:       0.5,
			TunerSafetyFactor: 0.40,
			TunerHardCap:      256,
		},
	}
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
