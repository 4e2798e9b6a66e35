package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"rasterd/internal/common/fsutil"
	"rasterd/internal/config"
	"rasterd/internal/httpapi"
	"rasterd/internal/pipeline"
	"rasterd/internal/planner"
	"rasterd/internal/registry"
	"rasterd/pkg/types"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	defaultConfig := "rasterd.yaml"
	if v := os.Getenv("RASTERD_CONFIG"); v != "" {
		defaultConfig = v
	}
	defaultLevel := "info"
	if v := os.Getenv("RASTERD_LOG_LEVEL"); v != "" {
		defaultLevel = v
	}

	var (
		configPath string
		logLevel   string
		log        zerolog.Logger
	)

	root := &cobra.Command{
		Use:           "rasterd",
		Short:         "Memory-budgeted raster inference pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "Config file (.yaml|.yml|.json|.toml), defaults RASTERD_CONFIG")
	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLevel, "Log level: debug|info|warn|error, defaults RASTERD_LOG_LEVEL")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		log = newLogger(logLevel)
		httpapi.SetLogger(log)
	}

	var (
		rasterHeight int
		rasterWidth  int
		tileName     string
		seed         uint32
	)

	runCmd := &cobra.Command{
		Use:     "run",
		Short:   "Sweep a raster through the inference pipeline",
		Example: "  rasterd run --config run.yaml --height 10980 --width 10980 --tile T32ULC",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runPipeline(cmd.Context(), cfg, rasterHeight, rasterWidth, tileName, seed, log)
		},
	}
	runCmd.Flags().IntVar(&rasterHeight, "height", 10980, "Raster height in pixels")
	runCmd.Flags().IntVar(&rasterWidth, "width", 10980, "Raster width in pixels")
	runCmd.Flags().StringVar(&tileName, "tile", "tile", "Tile name used in reporter outputs")
	runCmd.Flags().Uint32Var(&seed, "seed", 42, "Seed for the synthetic adapter")

	planCmd := &cobra.Command{
		Use:     "plan",
		Short:   "Print the chunk plan and memory cost breakdown as JSON",
		Example: "  rasterd plan --config run.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			resp, err := planChunks(cfg, log)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	tuneCmd := &cobra.Command{
		Use:     "tune",
		Short:   "Search for the largest safe batch size",
		Example: "  rasterd tune --config run.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			budget, err := planner.DetectBudget(cfg.Tiling.MaxMemoryGB, cfg.Tiling.MemorySafetyBufferGB, log)
			if err != nil {
				return err
			}
			spec := adapterSpec(cfg.Adapter)
			bs := pipeline.FindBatchSize(batchFootprintProbe(spec), budget.TotalBytes,
				cfg.Adapter.TunerSafetyFactor, cfg.Adapter.TunerHardCap)
			log.Info().Int("batch_size", bs).Msg("tuned batch size")
			fmt.Fprintln(cmd.OutOrStdout(), bs)
			return nil
		},
	}

	root.AddCommand(runCmd, planCmd, tuneCmd)
	return root
}

func newLogger(level string) zerolog.Logger {
	lvl := zerolog.InfoLevel
	if p, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil {
		lvl = p
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).With().Timestamp().Logger()
}

func adapterSpec(a config.AdapterConfig) types.AdapterSpec {
	return types.AdapterSpec{
		NumBands:       a.NumBands,
		NumClasses:     a.NumClasses,
		PatchSize:      a.PatchSize,
		StrideRatio:    a.StrideRatio,
		IsSegmentation: a.IsSegmentation,
	}
}

func pipelineDepths(cfg config.Config) planner.PipelineDepths {
	d := planner.PipelineDepths{
		PrefetchDepth: cfg.Distributed.PrefetchQueueSize,
		WriterDepth:   cfg.Distributed.WriterQueueSize,
	}
	if !cfg.Distributed.UsePrefetcher {
		d.PrefetchDepth = 0
	}
	return d
}

// reporterBPP asks registered reporters for their per-pixel cost and falls
// back to the legacy flag-based estimate when none declares one.
func reporterBPP(cfg config.Config, spec types.AdapterSpec, log zerolog.Logger) float64 {
	rctx := registry.CostContext{
		NumClasses:     spec.NumClasses,
		NumBands:       spec.NumBands,
		IsSegmentation: spec.IsSegmentation,
	}
	if bpp, declared := registry.CostPerPixel(cfg.Reporters, rctx, log); declared {
		return bpp
	}
	return planner.LegacyReporterBPP(cfg.Output.SaveConfidence, cfg.Output.SaveEntropy, cfg.Output.SaveGap)
}

func planChunks(cfg config.Config, log zerolog.Logger) (types.PlanResponse, error) {
	budget, err := planner.DetectBudget(cfg.Tiling.MaxMemoryGB, cfg.Tiling.MemorySafetyBufferGB, log)
	if err != nil {
		return types.PlanResponse{}, err
	}
	spec := adapterSpec(cfg.Adapter)
	resp := planner.Plan(spec, budget, pipelineDepths(cfg), cfg.Tiling.HaloSizePixels, reporterBPP(cfg, spec, log))
	resp.ChunkSide = planner.Resolve(cfg.Tiling.ZoR, spec.PatchSize, func() int { return resp.ChunkSide }, log)
	return resp, nil
}

// batchFootprintProbe estimates the working-set bytes of one forward pass.
// Real device probing belongs to the adapter; the synthetic path models
// input patches plus output scores.
func batchFootprintProbe(spec types.AdapterSpec) pipeline.ProbeFunc {
	inFloats := spec.NumBands * spec.PatchSize * spec.PatchSize
	outFloats := spec.NumClasses
	if spec.IsSegmentation {
		// Dense heads emit a full (C, P, P) score map per patch.
		outFloats = spec.NumClasses * spec.PatchSize * spec.PatchSize
	}
	perPatch := int64(inFloats+outFloats) * 4
	return func(batchSize int) (int64, error) {
		return int64(batchSize) * perPatch, nil
	}
}

func buildAdapter(cfg config.AdapterConfig, seed uint32) (pipeline.Adapter, error) {
	spec := adapterSpec(cfg)
	switch cfg.Name {
	case "", "synthetic":
		return pipeline.NewSyntheticAdapter(spec, seed), nil
	default:
		return nil, fmt.Errorf("unknown adapter %q (available: synthetic)", cfg.Name)
	}
}

func runPipeline(ctx context.Context, cfg config.Config, height, width int, tileName string, seed uint32, log zerolog.Logger) error {
	budget, err := planner.DetectBudget(cfg.Tiling.MaxMemoryGB, cfg.Tiling.MemorySafetyBufferGB, log)
	if err != nil {
		return err
	}
	spec := adapterSpec(cfg.Adapter)
	bpp := reporterBPP(cfg, spec, log)
	depths := pipelineDepths(cfg)

	chunkSide := planner.Resolve(cfg.Tiling.ZoR, spec.PatchSize, func() int {
		return planner.PlanChunkSide(spec, budget, depths, cfg.Tiling.HaloSizePixels, bpp)
	}, log)
	log.Info().
		Int("chunk_side", chunkSide).
		Int64("effective_bytes", budget.EffectiveBytes()).
		Float64("reporter_bpp", bpp).
		Msg("chunk plan resolved")

	outPath, err := fsutil.ExpandHome(cfg.Output.Path)
	if err != nil {
		return err
	}
	if err := fsutil.EnsureDir(outPath); err != nil {
		return fmt.Errorf("output path: %w", err)
	}

	adapter, err := buildAdapter(cfg.Adapter, seed)
	if err != nil {
		return err
	}
	reporters, err := registry.Build(cfg.Reporters)
	if err != nil {
		return err
	}

	batchSize := cfg.Adapter.BatchSize
	if batchSize <= 0 {
		batchSize = pipeline.FindBatchSize(batchFootprintProbe(spec), budget.TotalBytes,
			cfg.Adapter.TunerSafetyFactor, cfg.Adapter.TunerHardCap)
		log.Info().Int("batch_size", batchSize).Msg("auto-tuned batch size")
	}

	engine := pipeline.NewEngine(pipeline.EngineConfig{
		RasterHeight:  height,
		RasterWidth:   width,
		ChunkSide:     chunkSide,
		Halo:          cfg.Tiling.HaloSizePixels,
		BatchSize:     batchSize,
		PrefetchDepth: depths.PrefetchDepth,
		WriterDepth:   depths.WriterDepth,
		ReaderWorkers: cfg.Pipeline.ReaderWorkers,
		FailFast:      cfg.Pipeline.FailFast,
		EnableMonitor: cfg.Pipeline.EnableMonitor,
		StatusSink:    progressSink(log),
		Report: types.ReportContext{
			OutputPath:   outPath,
			TileName:     tileName,
			RasterHeight: height,
			RasterWidth:  width,
			Adapter:      spec,
		},
		Log: log,
	}, adapter, reporters)

	// Ctrl+C and SIGTERM request a cooperative stop; a second signal kills.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		log.Warn().Msg("signal received, stopping run")
		engine.Stop()
	}()

	var srv *http.Server
	if cfg.Server.Addr != "" {
		srv = &http.Server{Addr: cfg.Server.Addr, Handler: httpapi.NewMux(engine)}
		go func() {
			log.Info().Str("addr", cfg.Server.Addr).Msg("status API listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("status API server error")
			}
		}()
	}

	report, runErr := engine.Run(ctx)

	if srv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Warn().Err(err).Msg("status API shutdown error")
		}
		cancel()
	}

	log.Info().
		Str("run_id", report.RunID).
		Str("state", string(report.State)).
		Int("chunks", report.TotalChunks).
		Int("patches", report.PatchesProcessed).
		Int("zero_filled_batches", report.ZeroFilledBatches).
		Dur("elapsed", report.Elapsed).
		Msg("run finished")
	return runErr
}

// progressSink renders observer snapshots as one log line per update.
func progressSink(log zerolog.Logger) func(types.StatusResponse) {
	return func(s types.StatusResponse) {
		ev := log.Debug().Str("state", string(s.State)).Int("chunk", s.CurrentChunk).Int("total_chunks", s.TotalChunks)
		for _, st := range s.Stages {
			ev = ev.Str(st.Name, fmt.Sprintf("%s %d/%d", st.Status, st.CurrentBatch, st.TotalBatches))
		}
		ev.Msg("progress")
	}
}
