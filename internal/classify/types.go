// Package classify fuses mapping, descriptor and environment snapshots into
// typed GPU allocation records.
package classify

import (
	"fmt"

	"gpucheckpoint/internal/gpupath"
	"gpucheckpoint/internal/procscan"
)

// AllocationKind is the closed set of GPU allocation kinds.
type AllocationKind string

const (
	KindStandard    AllocationKind = "Standard"
	KindUvm         AllocationKind = "Uvm"
	KindManaged     AllocationKind = "Managed"
	KindIpc         AllocationKind = "Ipc"
	KindDistributed AllocationKind = "Distributed"
	KindPcieBar     AllocationKind = "PcieBar"
)

// Kinds lists every kind from lowest to highest precedence.
var Kinds = []AllocationKind{KindStandard, KindManaged, KindUvm, KindIpc, KindDistributed, KindPcieBar}

var precedence = map[AllocationKind]int{
	KindPcieBar:     60,
	KindDistributed: 50,
	KindIpc:         40,
	KindUvm:         30,
	KindManaged:     20,
	KindStandard:    10,
}

// Precedence returns the conflict rank of k; the higher rank wins.
func Precedence(k AllocationKind) int { return precedence[k] }

// ParseKind maps a kind name onto an AllocationKind.
func ParseKind(s string) (AllocationKind, error) {
	k := AllocationKind(s)
	if _, ok := precedence[k]; !ok {
		return "", fmt.Errorf("unknown allocation kind %q", s)
	}
	return k, nil
}

// Confidence marks whether a kind was inferred from one unambiguous signal.
type Confidence string

const (
	ConfidenceHigh Confidence = "High"
	ConfidenceLow  Confidence = "Low"
)

// Evidence indexes into the snapshots that justified an allocation.
type Evidence struct {
	Mappings    []int `json:"mappings"`
	Descriptors []int `json:"descriptors,omitempty"`
}

// GpuAllocation is one classified GPU allocation.
type GpuAllocation struct {
	Kind       AllocationKind `json:"kind"`
	Start      uint64         `json:"start"`
	Size       uint64         `json:"size"`
	Confidence Confidence     `json:"confidence"`
	Evidence   Evidence       `json:"evidence"`
	// Backing is the mapped path, or "anonymous".
	Backing string `json:"backing"`
	// Rules names every rule that matched, winner first.
	Rules []string `json:"rules,omitempty"`
}

// End returns the exclusive end address.
func (a GpuAllocation) End() uint64 { return a.Start + a.Size }

// Problematic reports whether the allocation needs more than a plain device
// checkpoint to be captured consistently.
func (a GpuAllocation) Problematic() bool {
	switch a.Kind {
	case KindUvm, KindManaged, KindIpc, KindDistributed:
		return true
	}
	return false
}

// Input is everything the classifier looks at for one process.
type Input struct {
	Mappings    procscan.MappingSnapshot
	Descriptors procscan.DescriptorSnapshot
	// DescriptorsAvailable is false when the descriptor table could not be read.
	DescriptorsAvailable bool
	Environment          procscan.Environment
}

// Result is the classifier output.
type Result struct {
	Allocations []GpuAllocation
	Vendor      gpupath.Vendor
}

// Kinds returns the kind of each allocation, in allocation order.
func (r Result) Kinds() []AllocationKind {
	kinds := make([]AllocationKind, len(r.Allocations))
	for i, a := range r.Allocations {
		kinds[i] = a.Kind
	}
	return kinds
}
