//go:build !linux

package procscan

import (
	"context"
	"fmt"
	"runtime"
)

// ProcFS is unavailable on this platform; every method fails with
// ErrUnsupportedPlatform.
type ProcFS struct{}

// NewProcFS reports ErrUnsupportedPlatform.
func NewProcFS(root string, opts Options) (*ProcFS, error) {
	return nil, fmt.Errorf("%s: %w", runtime.GOOS, ErrUnsupportedPlatform)
}

func (p *ProcFS) ReadMappings(ctx context.Context, pid int) (MappingSnapshot, error) {
	return MappingSnapshot{}, ErrUnsupportedPlatform
}

func (p *ProcFS) ReadDescriptors(ctx context.Context, pid int) (DescriptorSnapshot, error) {
	return DescriptorSnapshot{}, ErrUnsupportedPlatform
}

func (p *ProcFS) ReadEnvironment(ctx context.Context, pid int) (Environment, error) {
	return Environment{}, ErrUnsupportedPlatform
}
