package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"gpucheckpoint/internal/gpu"
	"gpucheckpoint/internal/logging"
)

func runGPUCheck(a *app, args []string) int {
	var savePath, root string
	var verbose bool

	fs := pflag.NewFlagSet("gpu-check", pflag.ContinueOnError)
	fs.StringVar(&savePath, "save", "", "write the inventory as JSON to this file")
	fs.StringVar(&root, "root", "/", "host root the device nodes are probed below")
	fs.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	if code, done := a.parseFlags(fs, args); done {
		return code
	}

	level := logging.LevelWarn
	if verbose {
		level = logging.LevelDebug
	}
	logger := logging.NewLoggerTo(a.stderr, level, logging.FormatJSON)

	detector := gpu.NewDetector(logger)
	detector.SetRoot(root)
	report := detector.Inventory()

	fmt.Fprintln(a.stdout, "=== GPU Inventory ===")
	if report.Present {
		fmt.Fprintf(a.stdout, "✓ GPU present (vendors: %s)\n", vendorList(report.Vendors))
	} else {
		fmt.Fprintln(a.stdout, "❌ No GPU device nodes found")
	}
	for _, n := range report.DeviceNodes {
		fmt.Fprintf(a.stdout, "  %-22s %-8s %s\n", n.Path, n.Class, n.Vendor)
	}
	fmt.Fprintln(a.stdout)

	fmt.Fprintln(a.stdout, "=== NVML ===")
	if !report.NVMLOk {
		fmt.Fprintf(a.stdout, "NVML Status: unavailable (%s)\n", report.ErrorMessage)
	} else {
		fmt.Fprintf(a.stdout, "✓ NVML Status: OK\n")
		fmt.Fprintf(a.stdout, "  Driver Version: %s\n", report.DriverVersion)
		fmt.Fprintf(a.stdout, "  CUDA Version: %d\n", report.CUDAVersion)
		fmt.Fprintf(a.stdout, "  GPU Count: %d\n", len(report.GPUs))
		for _, g := range report.GPUs {
			fmt.Fprintf(a.stdout, "  GPU %d: %s (%s)\n", g.Index, g.Name, g.UUID)
			fmt.Fprintf(a.stdout, "    Memory: %d MB total, %d MB used\n", g.MemoryMB, g.MemoryUsedMB)
		}
	}

	if savePath != "" {
		if err := detector.SaveReport(report, savePath); err != nil {
			return a.fail(fmt.Errorf("save inventory: %w", err))
		}
		fmt.Fprintf(a.stdout, "\nDetailed report saved to: %s\n", savePath)
	}
	return exitOK
}

func vendorList(v []string) string {
	if len(v) == 0 {
		return "unknown"
	}
	return strings.Join(v, ", ")
}
