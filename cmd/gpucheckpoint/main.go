package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"gpucheckpoint/internal/checkpoint"
	"gpucheckpoint/internal/detector"
)

const version = "0.1.0-dev"

// Exit codes are part of the command line contract.
const (
	exitOK                  = 0
	exitError               = 1
	exitUsage               = 2
	exitProcessNotFound     = 3
	exitPermissionDenied    = 4
	exitProcessExited       = 5
	exitTimeout             = 6
	exitUnsupportedPlatform = 7
	exitNotImplemented      = 10
)

// app carries the process streams so commands can be driven from tests.
type app struct {
	stdout io.Writer
	stderr io.Writer
	// color enables styled text output on terminals.
	color bool
}

type handler func(a *app, args []string) int

// usageError marks bad invocations (exit code 2).
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...interface{}) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

func main() {
	a := &app{
		stdout: os.Stdout,
		stderr: os.Stderr,
		color:  isatty.IsTerminal(os.Stdout.Fd()),
	}
	os.Exit(a.run(os.Args[1:]))
}

func (a *app) run(args []string) int {
	if len(args) == 0 {
		a.printUsage()
		return exitUsage
	}

	command := strings.ToLower(args[0])
	if h, ok := commandHandlers()[command]; ok {
		return h(a, args[1:])
	}

	fmt.Fprintf(a.stderr, "Unknown command: %s\n\n", args[0])
	a.printUsage()
	return exitUsage
}

func commandHandlers() map[string]handler {
	return map[string]handler{
		"detect":     runDetect,
		"checkpoint": runCheckpoint,
		"restore":    runRestore,
		"inspect":    runInspect,
		"gpu-check":  runGPUCheck,
		"config":     runConfig,
		"version":    runVersion,
		"help":       runHelp,
		"--help":     runHelp,
		"-h":         runHelp,
	}
}

func runVersion(a *app, _ []string) int {
	fmt.Fprintf(a.stdout, "gpucheckpoint version %s\n", version)
	return exitOK
}

func runHelp(a *app, _ []string) int {
	a.printUsage()
	return exitOK
}

// exitCode maps an error onto the documented exit codes.
func exitCode(err error) int {
	var usage usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &usage):
		return exitUsage
	case errors.Is(err, detector.ErrProcessNotFound):
		return exitProcessNotFound
	case errors.Is(err, detector.ErrPermissionDenied):
		return exitPermissionDenied
	case errors.Is(err, detector.ErrProcessExitedDuringScan):
		return exitProcessExited
	case errors.Is(err, detector.ErrTimeout):
		return exitTimeout
	case errors.Is(err, detector.ErrUnsupportedPlatform):
		return exitUnsupportedPlatform
	case errors.Is(err, checkpoint.ErrNotImplemented):
		return exitNotImplemented
	default:
		return exitError
	}
}

// fail prints a message naming the failure class and returns its exit code.
func (a *app) fail(err error) int {
	if err == nil {
		return exitOK
	}
	code := exitCode(err)
	var prefix string
	switch code {
	case exitUsage:
		prefix = "Usage error"
	case exitProcessNotFound:
		prefix = "Process not found"
	case exitPermissionDenied:
		prefix = "Permission denied"
	case exitProcessExited:
		prefix = "Process exited during scan"
	case exitTimeout:
		prefix = "Detection timed out"
	case exitUnsupportedPlatform:
		prefix = "Unsupported platform"
	case exitNotImplemented:
		prefix = "Not implemented"
	default:
		prefix = "Error"
	}
	fmt.Fprintf(a.stderr, "%s: %v\n", prefix, err)
	return code
}

func (a *app) printUsage() {
	fmt.Fprintf(a.stdout, `gpucheckpoint - GPU allocation detection for process checkpointing (version %s)

Usage:
  gpucheckpoint detect --pid <pid> [flags]      Detect GPU allocations and recommend a checkpoint strategy
  gpucheckpoint checkpoint --pid <pid> [--strategy auto|cuda|bar-sliding|hybrid|skip]
                                               Detect, then checkpoint (engine not implemented yet)
  gpucheckpoint restore --manifest <file>      Restore from a checkpoint (not implemented yet)
  gpucheckpoint inspect --pid <pid>            Interactive viewer (r: re-run, arrows: select, q: quit)
  gpucheckpoint gpu-check [--save <file>]      Host GPU inventory (device nodes, NVML in cuda builds)
  gpucheckpoint config test [path]             Validate configuration (defaults to system/user configs)
  gpucheckpoint version                        Print version information
  gpucheckpoint help                           Show this help message

Detection flags:
  --pid int             target process id (required)
  --format text|json    report format (default from config, text)
  --verbose, -v         show evidence per allocation and log at debug level
  --timeout duration    overall detection timeout (default from config, 5s)
  --output file         also write the JSON report atomically to file
  --proc-root path      procfs mount point (default /proc)
  --no-peer-scan        skip counting other processes holding the same GPU files
  --config file         load configuration from file instead of system/user configs

Exit codes:
  0 success, 1 error, 2 usage, 3 process not found, 4 permission denied,
  5 process exited during scan, 6 timeout, 7 unsupported platform, 10 not implemented
`, version)
}
