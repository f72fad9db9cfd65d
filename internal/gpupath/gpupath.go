// Package gpupath holds the table of path and device-node patterns that mark
// a descriptor target or mapping backing as GPU-relevant.
//
// The table is data: scanning and classification code only ever asks a Table
// which classes a path belongs to, so new device layouts can be supported by
// appending patterns (see config detection.extra_patterns).
package gpupath

import (
	"fmt"
	"regexp"
	"strings"
)

// Class is a single GPU-relevance category of a path.
type Class uint8

const (
	// ClassCompute marks GPU compute/control device nodes.
	ClassCompute Class = 1 << iota
	// ClassUVM marks the unified virtual memory device nodes.
	ClassUVM
	// ClassSharedMemory marks GPU-related POSIX shared memory segments.
	ClassSharedMemory
	// ClassBAR marks PCIe BAR resource files.
	ClassBAR
	// ClassManaged marks named anonymous mappings created by a managed-memory runtime.
	ClassManaged
)

// ClassSet is a bitmask of classes; a path may match several patterns.
type ClassSet uint8

// Has reports whether c is in the set.
func (s ClassSet) Has(c Class) bool { return s&ClassSet(c) != 0 }

// Empty reports whether no class matched.
func (s ClassSet) Empty() bool { return s == 0 }

func (s ClassSet) String() string {
	if s == 0 {
		return "none"
	}
	var names []string
	for _, c := range allClasses {
		if s.Has(c) {
			names = append(names, c.String())
		}
	}
	return strings.Join(names, "|")
}

var allClasses = []Class{ClassCompute, ClassUVM, ClassSharedMemory, ClassBAR, ClassManaged}

func (c Class) String() string {
	switch c {
	case ClassCompute:
		return "compute"
	case ClassUVM:
		return "uvm"
	case ClassSharedMemory:
		return "shm"
	case ClassBAR:
		return "bar"
	case ClassManaged:
		return "managed"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// ParseClass maps a configuration name onto a Class.
func ParseClass(s string) (Class, error) {
	for _, c := range allClasses {
		if strings.EqualFold(s, c.String()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown path class %q", s)
}

// Vendor identifies the GPU vendor a pattern belongs to.
type Vendor string

const (
	VendorNvidia  Vendor = "nvidia"
	VendorAMD     Vendor = "amd"
	VendorIntel   Vendor = "intel"
	VendorUnknown Vendor = "unknown"
)

// Pattern is one row of the table.
type Pattern struct {
	Name   string
	Class  Class
	Vendor Vendor
	Regexp *regexp.Regexp
}

// PatternSpec is the uncompiled form of a Pattern, as read from configuration.
type PatternSpec struct {
	Name    string
	Class   string
	Vendor  string
	Pattern string
}

// Match is the outcome of classifying a path.
type Match struct {
	Classes ClassSet
	Vendor  Vendor
}

// Table classifies paths against an ordered list of patterns.
type Table struct {
	patterns []Pattern
}

// DefaultPatterns returns the built-in pattern rows.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "nvidia-device", Class: ClassCompute, Vendor: VendorNvidia, Regexp: regexp.MustCompile(`^/dev/nvidia[0-9]+$`)},
		{Name: "nvidia-ctl", Class: ClassCompute, Vendor: VendorNvidia, Regexp: regexp.MustCompile(`^/dev/nvidiactl$`)},
		{Name: "nvidia-uvm", Class: ClassUVM, Vendor: VendorNvidia, Regexp: regexp.MustCompile(`^/dev/nvidia-uvm(-tools)?$`)},
		{Name: "amd-kfd", Class: ClassCompute, Vendor: VendorAMD, Regexp: regexp.MustCompile(`^/dev/kfd$`)},
		{Name: "dri-render", Class: ClassCompute, Vendor: VendorUnknown, Regexp: regexp.MustCompile(`^/dev/dri/(renderD|card)[0-9]+$`)},
		{Name: "gpu-shm", Class: ClassSharedMemory, Vendor: VendorUnknown, Regexp: regexp.MustCompile(`(?i)^/dev/shm/.*(cuda|nccl|nvshmem|hip|horovod)`)},
		{Name: "pci-bar", Class: ClassBAR, Vendor: VendorUnknown, Regexp: regexp.MustCompile(`^/sys/(bus/pci/devices/[0-9a-fA-F:.]+|devices/pci[0-9a-fA-F:.]+(/[0-9a-fA-F:.]+)*)/resource[0-9]+(_wc)?$`)},
		{Name: "managed-anon", Class: ClassManaged, Vendor: VendorUnknown, Regexp: regexp.MustCompile(`(?i)^\[anon:.*(cuda|managed).*\]$`)},
	}
}

// NewTable builds a table from the defaults plus extra configured rows.
func NewTable(extra []PatternSpec) (*Table, error) {
	patterns := DefaultPatterns()
	for _, spec := range extra {
		p, err := spec.compile()
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return &Table{patterns: patterns}, nil
}

// Default returns the table of built-in patterns.
func Default() *Table {
	return &Table{patterns: DefaultPatterns()}
}

// Patterns returns a copy of the table rows.
func (t *Table) Patterns() []Pattern {
	out := make([]Pattern, len(t.patterns))
	copy(out, t.patterns)
	return out
}

// Classify returns every class whose pattern matches path. The vendor is that
// of the first matching row naming a concrete vendor.
func (t *Table) Classify(path string) Match {
	m := Match{Vendor: VendorUnknown}
	if path == "" {
		return m
	}
	for _, p := range t.patterns {
		if !p.Regexp.MatchString(path) {
			continue
		}
		m.Classes |= ClassSet(p.Class)
		if m.Vendor == VendorUnknown && p.Vendor != "" {
			m.Vendor = p.Vendor
		}
	}
	return m
}

func (s PatternSpec) compile() (Pattern, error) {
	class, err := ParseClass(s.Class)
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %q: %w", s.Name, err)
	}
	re, err := regexp.Compile(s.Pattern)
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %q: invalid regexp: %w", s.Name, err)
	}
	vendor := Vendor(strings.ToLower(s.Vendor))
	switch vendor {
	case VendorNvidia, VendorAMD, VendorIntel:
	default:
		vendor = VendorUnknown
	}
	return Pattern{Name: s.Name, Class: class, Vendor: vendor, Regexp: re}, nil
}
