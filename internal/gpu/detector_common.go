package gpu

import (
	"encoding/json"
	"fmt"

	"gpucheckpoint/internal/fsutil"
	"gpucheckpoint/internal/gpupath"
)

// SetRoot changes the host root the device node probe looks below.
func (d *Detector) SetRoot(root string) {
	d.root = root
}

// Inventory probes device nodes and, in cuda builds, queries NVML.
func (d *Detector) Inventory() GPUReport {
	root := d.root
	if root == "" {
		root = "/"
	}
	nodes := ProbeDeviceNodes(root, nil)

	report := d.DetectGPUs()
	report.DeviceNodes = nodes
	report.Vendors = vendorsOf(nodes)
	if len(report.GPUs) > 0 && !hasVendor(report.Vendors, gpupath.VendorNvidia) {
		report.Vendors = append([]string{string(gpupath.VendorNvidia)}, report.Vendors...)
	}
	report.Present = len(nodes) > 0 || len(report.GPUs) > 0

	d.logger.Info("gpu.inventory.done", "GPU inventory complete", map[string]interface{}{
		"present":      report.Present,
		"device_nodes": len(nodes),
		"nvml_ok":      report.NVMLOk,
		"gpus":         len(report.GPUs),
	})
	return report
}

// SaveReport persists a GPU report to disk.
func (d *Detector) SaveReport(report GPUReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')

	if err := fsutil.AtomicWriteFile(path, data, fsutil.DefaultFilePermissions, d.logger); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}

	d.logger.Info("gpu.report.saved", "GPU report saved", map[string]interface{}{
		"filepath": path,
	})
	return nil
}
