// Package detector runs one GPU allocation detection pass over a process.
package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"gpucheckpoint/internal/classify"
	"gpucheckpoint/internal/logging"
	"gpucheckpoint/internal/procscan"
	"gpucheckpoint/internal/strategy"
)

// Fatal detection errors. Match them with errors.Is.
var (
	ErrProcessNotFound         = procscan.ErrProcessNotFound
	ErrPermissionDenied        = procscan.ErrPermissionDenied
	ErrProcessExitedDuringScan = procscan.ErrProcessExited
	ErrUnsupportedPlatform     = procscan.ErrUnsupportedPlatform
	ErrTimeout                 = errors.New("detection timed out")
)

// DefaultTimeout bounds a detection call when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// Providers are the evidence sources for a Detector.
type Providers struct {
	Mappings    procscan.MappingProvider
	Descriptors procscan.DescriptorProvider
	Environment procscan.EnvironmentProvider
}

// Options configures a Detector.
type Options struct {
	Timeout    time.Duration
	Classifier *classify.Classifier
	Logger     *logging.Logger
}

// Detector is safe for concurrent use; every call reads fresh snapshots.
type Detector struct {
	providers  Providers
	timeout    time.Duration
	classifier *classify.Classifier
	logger     *logging.Logger
}

func New(p Providers, opts Options) *Detector {
	d := &Detector{
		providers:  p,
		timeout:    opts.Timeout,
		classifier: opts.Classifier,
		logger:     opts.Logger,
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	if d.classifier == nil {
		d.classifier = classify.New(classify.Options{})
	}
	return d
}

// NewProcFS builds a Detector reading from a procfs mount.
func NewProcFS(root string, scan procscan.Options, opts Options) (*Detector, error) {
	pfs, err := procscan.NewProcFS(root, scan)
	if err != nil {
		return nil, err
	}
	return New(Providers{Mappings: pfs, Descriptors: pfs, Environment: pfs}, opts), nil
}

type evidence struct {
	maps    procscan.MappingSnapshot
	descs   procscan.DescriptorSnapshot
	descErr error
	env     procscan.Environment
	envErr  error
}

// Detect reads the three snapshots of pid concurrently, classifies them and
// assembles a report. Only mapping failures, process exit and timeouts are
// fatal; everything else becomes a report warning.
func (d *Detector) Detect(ctx context.Context, pid int) (Report, error) {
	if pid <= 0 {
		return Report{}, fmt.Errorf("invalid pid %d: %w", pid, ErrProcessNotFound)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	d.logger.Debug("detect.start", "Detection started", map[string]interface{}{
		"pid":        pid,
		"timeout_ms": d.timeout.Milliseconds(),
	})

	ev, err := d.gather(ctx, pid)
	if err != nil {
		d.logger.Debug("detect.failed", "Detection failed", map[string]interface{}{
			"pid":   pid,
			"error": err.Error(),
		})
		return Report{}, err
	}

	report := d.assemble(pid, start, ev)

	for _, w := range report.Warnings {
		d.logger.Debug("detect.warning", w.Message, map[string]interface{}{
			"pid":  pid,
			"kind": string(w.Kind),
		})
	}
	d.logger.Info("detect.done", "Detection finished", map[string]interface{}{
		"pid":         pid,
		"allocations": len(report.Allocations),
		"strategy":    string(report.Strategy),
		"warnings":    len(report.Warnings),
		"elapsed_ms":  report.ElapsedMS,
	})
	return report, nil
}

// gather fans out to the readers and joins them behind a select on ctx, so a
// reader stuck in the kernel cannot hold the call past its deadline.
func (d *Detector) gather(ctx context.Context, pid int) (*evidence, error) {
	ev := &evidence{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s, err := d.providers.Mappings.ReadMappings(gctx, pid)
		if err != nil {
			return err
		}
		ev.maps = s
		d.logger.Debug("detect.maps.done", "Mapping table read", map[string]interface{}{
			"pid":      pid,
			"mappings": len(s.Mappings),
			"warnings": len(s.Warnings),
		})
		return nil
	})
	g.Go(func() error {
		ev.descs, ev.descErr = d.providers.Descriptors.ReadDescriptors(gctx, pid)
		return nil
	})
	g.Go(func() error {
		ev.env, ev.envErr = d.providers.Environment.ReadEnvironment(gctx, pid)
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var err error
	select {
	case <-ctx.Done():
		return nil, ctxErr(ctx, pid)
	case err = <-done:
	}
	if ctx.Err() != nil {
		return nil, ctxErr(ctx, pid)
	}
	if err != nil {
		return nil, err
	}

	// The process was alive for the whole mapping pass; if another reader
	// lost it, it exited during this call.
	for _, e := range []error{ev.descErr, ev.envErr} {
		if errors.Is(e, procscan.ErrProcessExited) || errors.Is(e, procscan.ErrProcessNotFound) {
			return nil, fmt.Errorf("pid %d: %w", pid, ErrProcessExitedDuringScan)
		}
	}
	// A reader that saw another start time read a different incarnation.
	if ev.descErr == nil && ev.descs.StartTime != ev.maps.StartTime {
		return nil, fmt.Errorf("pid %d: descriptors read from another process instance: %w", pid, ErrProcessExitedDuringScan)
	}
	if ev.envErr == nil && ev.env.StartTime != ev.maps.StartTime {
		return nil, fmt.Errorf("pid %d: environment read from another process instance: %w", pid, ErrProcessExitedDuringScan)
	}
	return ev, nil
}

func ctxErr(ctx context.Context, pid int) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("pid %d: %w", pid, ErrTimeout)
	}
	return ctx.Err()
}

func (d *Detector) assemble(pid int, start time.Time, ev *evidence) Report {
	var warnings []Warning
	for _, w := range ev.maps.Warnings {
		warnings = append(warnings, Warning{Kind: WarnParse, Message: w.String()})
	}

	descsAvailable := ev.descErr == nil
	if !descsAvailable {
		warnings = append(warnings, Warning{Kind: WarnDescriptorsUnavailable, Message: ev.descErr.Error()})
	} else {
		for _, msg := range ev.descs.Warnings {
			warnings = append(warnings, Warning{Kind: WarnUnresolvedDescriptor, Message: msg})
		}
		if ev.descs.PeerScanErr != nil {
			warnings = append(warnings, Warning{Kind: WarnPeerScan, Message: ev.descs.PeerScanErr.Error()})
		}
	}

	env := ev.env
	if ev.envErr != nil {
		env = procscan.Environment{}
		warnings = append(warnings, Warning{Kind: WarnEnvironmentUnavailable, Message: ev.envErr.Error()})
	}

	res := d.classifier.Classify(classify.Input{
		Mappings:             ev.maps,
		Descriptors:          ev.descs,
		DescriptorsAvailable: descsAvailable,
		Environment:          env,
	})

	allocs := res.Allocations
	if allocs == nil {
		allocs = []classify.GpuAllocation{}
	}
	if warnings == nil {
		warnings = []Warning{}
	}
	indicators := env.Names()

	return Report{
		PID:         pid,
		Timestamp:   start.UTC(),
		Allocations: allocs,
		Strategy:    strategy.Select(res.Kinds()),
		ElapsedMS:   float64(time.Since(start).Microseconds()) / 1000,
		Warnings:    warnings,
		SnapshotID:  ev.maps.Generation,
		Vendor:      res.Vendor,
		Indicators:  indicators,
		Stats:       classify.Summarize(allocs),
	}
}
