// Package registry is the static registration table for reporters. Config
// names resolve to factories at bind time; each factory is paired with a
// cost hook the planner consults before any reporter is constructed.
package registry

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"rasterd/internal/config"
	"rasterd/internal/pipeline"
)

// Factory builds a reporter from its configuration block.
type Factory func(cfg config.ReporterConfig) (pipeline.Reporter, error)

// CostHook estimates a reporter's memory cost in bytes per chunk pixel,
// without constructing the reporter.
type CostHook func(cfg config.ReporterConfig, rctx CostContext) (float64, error)

// CostContext gives cost hooks the run geometry they may need.
type CostContext struct {
	NumClasses     int
	NumBands       int
	IsSegmentation bool
}

type entry struct {
	factory Factory
	cost    CostHook
}

var reporters = map[string]entry{}

// Register adds a reporter to the table. Built-in reporters register from
// init; panics on a duplicate name.
func Register(name string, f Factory, c CostHook) {
	if _, dup := reporters[name]; dup {
		panic("registry: duplicate reporter " + name)
	}
	reporters[name] = entry{factory: f, cost: c}
}

// Names lists the registered reporter names, sorted.
func Names() []string {
	out := make([]string, 0, len(reporters))
	for name := range reporters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build constructs all configured reporters. An unknown name is a
// configuration error.
func Build(cfgs []config.ReporterConfig) ([]pipeline.Reporter, error) {
	out := make([]pipeline.Reporter, 0, len(cfgs))
	for _, cfg := range cfgs {
		ent, ok := reporters[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("unknown reporter %q (registered: %v)", cfg.Name, Names())
		}
		r, err := ent.factory(cfg)
		if err != nil {
			return nil, fmt.Errorf("build reporter %q: %w", cfg.Name, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// CostPerPixel sums the declared per-pixel cost of the configured reporters.
// A failing hook is logged and contributes zero. The second return is false
// when no reporters are configured at all, so the planner can apply its
// legacy fallback estimate.
func CostPerPixel(cfgs []config.ReporterConfig, rctx CostContext, log zerolog.Logger) (float64, bool) {
	if len(cfgs) == 0 {
		return 0, false
	}
	total := 0.0
	for _, cfg := range cfgs {
		ent, ok := reporters[cfg.Name]
		if !ok || ent.cost == nil {
			continue
		}
		bpp, err := ent.cost(cfg, rctx)
		if err != nil {
			log.Warn().Err(err).Str("reporter", cfg.Name).Msg("reporter cost hook failed, contributing zero")
			continue
		}
		total += bpp
	}
	return total, true
}

// intOption reads an integer option with a default, tolerating the numeric
// types the config codecs produce.
func intOption(opts map[string]any, key string, def int) int {
	v, ok := opts[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}
