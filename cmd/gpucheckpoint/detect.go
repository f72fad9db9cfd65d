package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"gpucheckpoint/internal/checkpoint"
	"gpucheckpoint/internal/classify"
	"gpucheckpoint/internal/config"
	"gpucheckpoint/internal/configdir"
	"gpucheckpoint/internal/detector"
	"gpucheckpoint/internal/fsutil"
	"gpucheckpoint/internal/logging"
	"gpucheckpoint/internal/output"
	"gpucheckpoint/internal/procscan"
	"gpucheckpoint/internal/tui"
)

// detectFlags are shared by every command that runs detection.
type detectFlags struct {
	pid        int
	verbose    bool
	timeout    time.Duration
	procRoot   string
	noPeerScan bool
	configPath string
}

func (f *detectFlags) register(fs *pflag.FlagSet) {
	fs.IntVar(&f.pid, "pid", 0, "target process id")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "show evidence per allocation and log at debug level")
	fs.DurationVar(&f.timeout, "timeout", 0, "overall detection timeout (default from config)")
	fs.StringVar(&f.procRoot, "proc-root", "", "procfs mount point (default from config)")
	fs.BoolVar(&f.noPeerScan, "no-peer-scan", false, "skip counting other holders of the same GPU files")
	fs.StringVar(&f.configPath, "config", "", "configuration file (default: system and user configs)")
}

// validate resolves a positional pid and checks the flag values.
func (f *detectFlags) validate(fs *pflag.FlagSet) error {
	if f.pid == 0 && fs.NArg() == 1 {
		pid, err := strconv.Atoi(fs.Arg(0))
		if err != nil {
			return usagef("invalid pid %q", fs.Arg(0))
		}
		f.pid = pid
	} else if fs.NArg() > 0 {
		return usagef("unexpected arguments: %v", fs.Args())
	}
	if f.pid <= 0 {
		return usagef("--pid is required and must be positive")
	}
	if f.timeout < 0 {
		return usagef("--timeout must not be negative")
	}
	return nil
}

// parseFlags parses args into fs. It returns done=true with an exit code when
// the command must stop (help requested or bad flags).
func (a *app) parseFlags(fs *pflag.FlagSet, args []string) (int, bool) {
	fs.SetOutput(a.stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK, true
		}
		return a.fail(usagef("%v", err)), true
	}
	return exitOK, false
}

// session is the configured detection pipeline for one command invocation.
type session struct {
	cfg      config.Config
	logger   *logging.Logger
	detector *detector.Detector
	timeout  time.Duration
}

func (s *session) close() {
	if err := s.logger.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close log file: %v\n", err)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}

func newLogger(cfg config.LoggingConfig, verbose bool, w io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = logging.LevelDebug
	}
	if cfg.File != "" {
		return logging.NewFileLogger(level, cfg.File)
	}
	return logging.NewLoggerTo(w, level, logging.Format(cfg.Format)), nil
}

// newSession builds the detector from configuration overlaid with flags.
// logOut receives log events unless the configuration names a log file.
func newSession(f *detectFlags, logOut io.Writer) (*session, error) {
	cfg, err := loadConfig(f.configPath)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Logging, f.verbose, logOut)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Detection.Timeout()
	if f.timeout > 0 {
		timeout = f.timeout
	}
	root := cfg.Detection.ProcRoot
	if f.procRoot != "" {
		root = f.procRoot
	}

	table, err := cfg.Detection.PatternTable()
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	indicators, err := cfg.Detection.Indicators()
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	scan := procscan.Options{
		Table:      table,
		Indicators: indicators,
		PeerScan:   cfg.Detection.PeerScanEnabled() && !f.noPeerScan,
	}
	classifier := classify.New(classify.Options{
		Table:             table,
		MinAnonymousBytes: cfg.Detection.MinAnonymousBytes(),
	})
	det, err := detector.NewProcFS(root, scan, detector.Options{
		Timeout:    timeout,
		Classifier: classifier,
		Logger:     logger,
	})
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	return &session{cfg: cfg, logger: logger, detector: det, timeout: timeout}, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runDetect(a *app, args []string) int {
	var f detectFlags
	var format, outPath string

	fs := pflag.NewFlagSet("detect", pflag.ContinueOnError)
	f.register(fs)
	fs.StringVar(&format, "format", "", "report format: text or json (default from config)")
	fs.StringVar(&outPath, "output", "", "also write the JSON report to this file")
	if code, done := a.parseFlags(fs, args); done {
		return code
	}
	if err := f.validate(fs); err != nil {
		return a.fail(err)
	}

	s, err := newSession(&f, a.stderr)
	if err != nil {
		return a.fail(err)
	}
	defer s.close()

	if format == "" {
		format = s.cfg.Output.Format
	}
	outFormat, err := output.ParseFormat(format)
	if err != nil {
		return a.fail(usagef("%v", err))
	}

	ctx, cancel := signalContext()
	defer cancel()

	report, err := s.detector.Detect(ctx, f.pid)
	if err != nil {
		return a.fail(err)
	}

	opts := output.TextOptions{Verbose: f.verbose, Color: a.color}
	if err := output.Write(a.stdout, report, outFormat, opts); err != nil {
		return a.fail(fmt.Errorf("write report: %w", err))
	}

	if outPath != "" {
		data, err := output.MarshalReport(report)
		if err != nil {
			return a.fail(err)
		}
		if err := fsutil.AtomicWriteFile(outPath, data, fsutil.DefaultFilePermissions, s.logger); err != nil {
			return a.fail(fmt.Errorf("save report: %w", err))
		}
		s.logger.Info("detect.report.saved", "Report saved", map[string]interface{}{
			"path": outPath,
		})
	}

	return exitOK
}

func runCheckpoint(a *app, args []string) int {
	var f detectFlags
	var strategyName string

	fs := pflag.NewFlagSet("checkpoint", pflag.ContinueOnError)
	f.register(fs)
	fs.StringVar(&strategyName, "strategy", checkpoint.Auto, "auto, cuda, bar-sliding, hybrid or skip")
	if code, done := a.parseFlags(fs, args); done {
		return code
	}
	if err := f.validate(fs); err != nil {
		return a.fail(err)
	}
	if _, _, err := checkpoint.ParseStrategy(strategyName); err != nil {
		return a.fail(usagef("%v", err))
	}

	s, err := newSession(&f, a.stderr)
	if err != nil {
		return a.fail(err)
	}
	defer s.close()

	ctx, cancel := signalContext()
	defer cancel()

	report, err := s.detector.Detect(ctx, f.pid)
	if err != nil {
		return a.fail(err)
	}
	if err := output.WriteText(a.stdout, report, output.TextOptions{Verbose: f.verbose, Color: a.color}); err != nil {
		return a.fail(fmt.Errorf("write report: %w", err))
	}

	st, err := checkpoint.Resolve(report, strategyName)
	if err != nil {
		return a.fail(usagef("%v", err))
	}
	fmt.Fprintf(a.stdout, "\nCheckpoint strategy: %s\n", st)

	var engine checkpoint.Engine = checkpoint.Placeholder{}
	return a.fail(engine.Checkpoint(ctx, report, st))
}

func runRestore(a *app, args []string) int {
	var manifest string

	fs := pflag.NewFlagSet("restore", pflag.ContinueOnError)
	fs.StringVar(&manifest, "manifest", "", "checkpoint manifest to restore from")
	if code, done := a.parseFlags(fs, args); done {
		return code
	}
	if manifest == "" {
		return a.fail(usagef("--manifest is required"))
	}

	ctx, cancel := signalContext()
	defer cancel()

	var engine checkpoint.Engine = checkpoint.Placeholder{}
	return a.fail(engine.Restore(ctx, manifest))
}

func runInspect(a *app, args []string) int {
	var f detectFlags

	fs := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
	f.register(fs)
	if code, done := a.parseFlags(fs, args); done {
		return code
	}
	if err := f.validate(fs); err != nil {
		return a.fail(err)
	}

	// The viewer owns the terminal; log events only reach a configured file.
	s, err := newSession(&f, io.Discard)
	if err != nil {
		return a.fail(err)
	}
	defer s.close()

	var stateDir string
	if userPath := configdir.UserConfigPath(); userPath != "" {
		stateDir = filepath.Dir(userPath)
	}

	s.logger.Info("inspect.started", "Inspect viewer started", map[string]interface{}{
		"pid": f.pid,
	})
	err = tui.Run(tui.Options{
		PID:      f.pid,
		Detect:   s.detector.Detect,
		Timeout:  s.timeout,
		StateDir: stateDir,
		Logger:   s.logger,
	})
	if err != nil {
		return a.fail(fmt.Errorf("inspect viewer: %w", err))
	}
	s.logger.Info("inspect.exited", "Inspect viewer exited", nil)
	return exitOK
}
