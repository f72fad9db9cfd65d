// Package procscan reads the OS-exposed evidence about a process that GPU
// detection works from: its memory-mapping table, its open descriptors and its
// environment block.
//
// Every read is a fresh snapshot. Nothing is cached between calls, so readers
// for different processes may run concurrently without coordination.
package procscan

import (
	"context"
	"fmt"

	"gpucheckpoint/internal/gpupath"
)

// Permissions holds the permission column of a mapping line.
type Permissions struct {
	Read    bool
	Write   bool
	Execute bool
	Shared  bool
	Private bool
}

func (p Permissions) String() string {
	b := []byte("----")
	if p.Read {
		b[0] = 'r'
	}
	if p.Write {
		b[1] = 'w'
	}
	if p.Execute {
		b[2] = 'x'
	}
	switch {
	case p.Shared:
		b[3] = 's'
	case p.Private:
		b[3] = 'p'
	}
	return string(b)
}

// MemoryMapping is one row of a process's mapping table. End is exclusive.
type MemoryMapping struct {
	Start  uint64
	End    uint64
	Perms  Permissions
	Offset uint64
	Dev    uint64
	Inode  uint64
	// Path is the backing device node, file or pseudo-path such as
	// "[anon:name]". It is empty for anonymous mappings.
	Path string
}

// Size returns the length of the mapping in bytes.
func (m MemoryMapping) Size() uint64 { return m.End - m.Start }

// Anonymous reports whether the mapping has no file backing.
func (m MemoryMapping) Anonymous() bool { return m.Path == "" && m.Inode == 0 }

// ParseWarning records a mapping line that was skipped.
type ParseWarning struct {
	Line   int
	Reason string
	Text   string
}

func (w ParseWarning) String() string {
	if w.Line == 0 {
		return fmt.Sprintf("%s: %q", w.Reason, w.Text)
	}
	return fmt.Sprintf("line %d: %s: %q", w.Line, w.Reason, w.Text)
}

// MappingSnapshot is the mapping table of one process at one instant.
type MappingSnapshot struct {
	PID      int
	Mappings []MemoryMapping
	Warnings []ParseWarning
	// Generation fingerprints the process identity and the raw table bytes.
	// Two snapshots with equal generations saw the same address space.
	Generation string
	// StartTime is the process start time in clock ticks since boot.
	StartTime uint64
}

// DescriptorInfo describes one open descriptor of a process.
type DescriptorInfo struct {
	FD int
	// Target is the resolved link target. It is empty when Resolved is false.
	Target   string
	Resolved bool
	// Flags holds the open(2) flag bits reported by fdinfo.
	Flags uint64
	Dev   uint64
	Inode uint64
	// Rdev is the device identifier of character-device targets.
	Rdev    *uint64
	Classes gpupath.ClassSet
	Vendor  gpupath.Vendor
	// PeerRefs counts other processes found holding the same target. The
	// peer scan stops at the first hit per target, so it is a lower bound.
	PeerRefs int
}

// DescriptorSnapshot is the descriptor table of one process at one instant.
type DescriptorSnapshot struct {
	PID         int
	Descriptors []DescriptorInfo
	// Warnings holds per-descriptor resolution failures.
	Warnings []string
	// PeerScanErr is set when the peer reference scan could not complete.
	PeerScanErr error
	StartTime   uint64
}

// MappingProvider produces mapping snapshots.
type MappingProvider interface {
	ReadMappings(ctx context.Context, pid int) (MappingSnapshot, error)
}

// DescriptorProvider produces descriptor snapshots.
type DescriptorProvider interface {
	ReadDescriptors(ctx context.Context, pid int) (DescriptorSnapshot, error)
}

// EnvironmentProvider produces environment probes.
type EnvironmentProvider interface {
	ReadEnvironment(ctx context.Context, pid int) (Environment, error)
}

// Options configures a ProcFS reader.
type Options struct {
	// Table classifies descriptor targets; nil selects gpupath.Default().
	Table *gpupath.Table
	// Indicators replaces the default environment indicator set when non-nil.
	Indicators []Indicator
	// PeerScan enables counting other processes that hold the same GPU
	// shared-memory segments.
	PeerScan bool
}

func (o Options) table() *gpupath.Table {
	if o.Table == nil {
		return gpupath.Default()
	}
	return o.Table
}

func (o Options) indicators() []Indicator {
	if o.Indicators == nil {
		return DefaultIndicators()
	}
	return o.Indicators
}
