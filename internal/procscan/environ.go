package procscan

import (
	"fmt"
	"sort"
	"strings"
)

// IndicatorCategory groups environment indicators.
type IndicatorCategory string

const (
	CategoryGPU         IndicatorCategory = "gpu"
	CategoryDistributed IndicatorCategory = "distributed"
)

// ParseCategory maps a configuration name onto a category.
func ParseCategory(s string) (IndicatorCategory, error) {
	switch c := IndicatorCategory(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryGPU, CategoryDistributed:
		return c, nil
	default:
		return "", fmt.Errorf("unknown indicator category %q", s)
	}
}

// Indicator is an environment variable whose presence hints at GPU use or
// at participation in a distributed job.
type Indicator struct {
	// Name is the variable name, or a name prefix when Prefix is set.
	Name     string
	Prefix   bool
	Category IndicatorCategory
	// ValueContains, when non-empty, requires the value to mention one of
	// these substrings (case-insensitive).
	ValueContains []string
}

func (ind Indicator) matches(key, value string) bool {
	if ind.Prefix {
		if !strings.HasPrefix(key, ind.Name) {
			return false
		}
	} else if key != ind.Name {
		return false
	}
	if len(ind.ValueContains) == 0 {
		return true
	}
	lower := strings.ToLower(value)
	for _, s := range ind.ValueContains {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// DefaultIndicators returns the built-in indicator set.
func DefaultIndicators() []Indicator {
	gpu := func(name string) Indicator { return Indicator{Name: name, Category: CategoryGPU} }
	dist := func(name string) Indicator { return Indicator{Name: name, Category: CategoryDistributed} }
	distPrefix := func(name string) Indicator {
		return Indicator{Name: name, Prefix: true, Category: CategoryDistributed}
	}

	return []Indicator{
		gpu("CUDA_VISIBLE_DEVICES"),
		gpu("NVIDIA_VISIBLE_DEVICES"),
		gpu("NVIDIA_DRIVER_CAPABILITIES"),
		gpu("ROCR_VISIBLE_DEVICES"),
		gpu("HIP_VISIBLE_DEVICES"),
		gpu("GPU_DEVICE_ORDINAL"),
		gpu("CUDA_MPS_PIPE_DIRECTORY"),
		{Name: "LD_LIBRARY_PATH", Category: CategoryGPU, ValueContains: []string{"cuda", "nvidia", "rocm"}},
		dist("WORLD_SIZE"),
		dist("RANK"),
		dist("LOCAL_RANK"),
		dist("MASTER_ADDR"),
		dist("MASTER_PORT"),
		dist("TORCHELASTIC_RUN_ID"),
		dist("SLURM_PROCID"),
		distPrefix("NCCL_"),
		distPrefix("HOROVOD_"),
		distPrefix("OMPI_COMM_WORLD_"),
	}
}

// Environment is the result of probing a process environment block.
type Environment struct {
	// Available is false when the block could not be read; every query then
	// answers false.
	Available bool
	// Matches maps each matched variable name to its indicator category.
	Matches map[string]IndicatorCategory
	// StartTime identifies the process incarnation the block was read from.
	StartTime uint64
}

// Has reports whether any variable of the category was present.
func (e Environment) Has(c IndicatorCategory) bool {
	for _, cat := range e.Matches {
		if cat == c {
			return true
		}
	}
	return false
}

// HasGPU reports whether a GPU indicator was present.
func (e Environment) HasGPU() bool { return e.Has(CategoryGPU) }

// HasDistributed reports whether a distributed-job indicator was present.
func (e Environment) HasDistributed() bool { return e.Has(CategoryDistributed) }

// Names returns the matched variable names in sorted order.
func (e Environment) Names() []string {
	names := make([]string, 0, len(e.Matches))
	for name := range e.Matches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MatchIndicators evaluates the indicator set against KEY=VALUE entries.
// Values are never retained.
func MatchIndicators(vars []string, indicators []Indicator) Environment {
	env := Environment{Available: true, Matches: map[string]IndicatorCategory{}}
	for _, kv := range vars {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		for _, ind := range indicators {
			if ind.matches(key, value) {
				env.Matches[key] = ind.Category
				break
			}
		}
	}
	return env
}
