package gpu

import "gpucheckpoint/internal/gpupath"

// GPUInfo represents information about a single GPU as reported by NVML
type GPUInfo struct {
	Name         string `json:"name"`
	UUID         string `json:"uuid"`
	MemoryMB     uint64 `json:"memory_mb"`
	MemoryUsedMB uint64 `json:"memory_used_mb"`
	Index        int    `json:"index"`
}

// DeviceNode is a vendor device node found on the host.
type DeviceNode struct {
	Path   string         `json:"path"`
	Class  string         `json:"class"`
	Vendor gpupath.Vendor `json:"vendor"`
}

// GPUReport is the host-level GPU inventory written by gpu-check
type GPUReport struct {
	Present       bool         `json:"present"`
	Vendors       []string     `json:"vendors"`
	DeviceNodes   []DeviceNode `json:"device_nodes"`
	DriverVersion string       `json:"driver_version,omitempty"`
	CUDAVersion   int          `json:"cuda_version,omitempty"`
	NVMLOk        bool         `json:"nvml_ok"`
	GPUs          []GPUInfo    `json:"gpus"`
	ErrorMessage  string       `json:"error_message,omitempty"`
}
