//go:build !cuda

package gpu

import "gpucheckpoint/internal/logging"

const nvmlDisabledMessage = "NVML disabled: rebuild with -tags cuda"

// Detector probes device nodes only; NVML is not compiled in.
type Detector struct {
	logger *logging.Logger
	root   string
}

// NewDetector creates a GPU detector that skips NVML when CUDA support is disabled.
func NewDetector(logger *logging.Logger) *Detector {
	return &Detector{logger: logger, root: "/"}
}

// DetectGPUs returns a report indicating that NVML is unavailable in the current build.
func (d *Detector) DetectGPUs() GPUReport {
	d.logger.Debug("gpu.detect.disabled", "Skipping NVML detection (built without cuda tag)", nil)

	return GPUReport{
		GPUs:         []GPUInfo{},
		NVMLOk:       false,
		ErrorMessage: nvmlDisabledMessage,
	}
}
