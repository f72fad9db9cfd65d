// Package strategy maps a classified allocation set onto a checkpoint strategy.
package strategy

import (
	"gpucheckpoint/internal/classify"
)

// Strategy is a checkpoint strategy tag.
type Strategy string

const (
	Skip           Strategy = "Skip"
	CudaCheckpoint Strategy = "CudaCheckpoint"
	BarSliding     Strategy = "BarSliding"
	Hybrid         Strategy = "Hybrid"
)

// All lists every strategy.
var All = []Strategy{Skip, CudaCheckpoint, BarSliding, Hybrid}

// Select picks the strategy for a multiset of allocation kinds. Only the set
// of distinct kinds matters, so any permutation gives the same answer.
//
//	no allocations                           -> Skip
//	only Standard                            -> CudaCheckpoint
//	Standard plus exactly one other kind     -> Hybrid
//	anything else                            -> BarSliding
func Select(kinds []classify.AllocationKind) Strategy {
	if len(kinds) == 0 {
		return Skip
	}

	standard := false
	others := map[classify.AllocationKind]struct{}{}
	for _, k := range kinds {
		if k == classify.KindStandard {
			standard = true
			continue
		}
		others[k] = struct{}{}
	}

	switch {
	case len(others) == 0:
		return CudaCheckpoint
	case standard && len(others) == 1:
		return Hybrid
	default:
		return BarSliding
	}
}

// Describe returns a one-line rationale for s.
func (s Strategy) Describe() string {
	switch s {
	case Skip:
		return "no GPU allocations found; nothing to checkpoint on the device"
	case CudaCheckpoint:
		return "only standard device allocations; the driver checkpoint API can capture them"
	case Hybrid:
		return "standard allocations plus one special kind; use the driver checkpoint API and handle the rest separately"
	case BarSliding:
		return "special allocations need incremental capture through BAR sliding"
	default:
		return "unknown strategy"
	}
}
