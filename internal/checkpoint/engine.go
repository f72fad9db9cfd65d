// Package checkpoint defines the contract between detection and the engine
// that captures and restores GPU state.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gpucheckpoint/internal/detector"
	"gpucheckpoint/internal/strategy"
)

// ErrNotImplemented is returned by engines that cannot perform an operation yet.
var ErrNotImplemented = errors.New("not implemented")

// Engine consumes a detection report and owns every step after it.
type Engine interface {
	Checkpoint(ctx context.Context, report detector.Report, s strategy.Strategy) error
	Restore(ctx context.Context, manifest string) error
}

// Placeholder is the engine used until a capture backend exists. It refuses
// every operation so callers never mistake a no-op for success.
type Placeholder struct{}

func (Placeholder) Checkpoint(ctx context.Context, report detector.Report, s strategy.Strategy) error {
	return fmt.Errorf("checkpoint of pid %d with strategy %s: %w", report.PID, s, ErrNotImplemented)
}

func (Placeholder) Restore(ctx context.Context, manifest string) error {
	return fmt.Errorf("restore from %s: %w", manifest, ErrNotImplemented)
}

// Auto means "use the strategy selected by detection".
const Auto = "auto"

var strategyNames = map[string]strategy.Strategy{
	"cuda":        strategy.CudaCheckpoint,
	"bar-sliding": strategy.BarSliding,
	"hybrid":      strategy.Hybrid,
	"skip":        strategy.Skip,
}

// ParseStrategy parses a --strategy value. "auto" returns ok=false, meaning
// the detected strategy applies.
func ParseStrategy(s string) (strategy.Strategy, bool, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" || name == Auto {
		return "", false, nil
	}
	if st, ok := strategyNames[name]; ok {
		return st, true, nil
	}
	return "", false, fmt.Errorf("unknown strategy %q (want auto, cuda, bar-sliding, hybrid or skip)", s)
}

// Resolve picks the strategy to hand to the engine: the override when given,
// otherwise the one in the report.
func Resolve(report detector.Report, override string) (strategy.Strategy, error) {
	st, ok, err := ParseStrategy(override)
	if err != nil {
		return "", err
	}
	if !ok {
		return report.Strategy, nil
	}
	return st, nil
}
