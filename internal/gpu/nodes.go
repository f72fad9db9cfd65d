package gpu

import (
	"path/filepath"
	"sort"
	"strings"

	"gpucheckpoint/internal/gpupath"
)

// nodeGlobs lists the device node locations probed below the host root.
var nodeGlobs = []string{
	"dev/nvidia[0-9]*",
	"dev/nvidiactl",
	"dev/nvidia-uvm",
	"dev/kfd",
	"dev/dri/renderD*",
}

// ProbeDeviceNodes returns the vendor device nodes present below root,
// classified with table. Paths are reported as seen from inside root.
func ProbeDeviceNodes(root string, table *gpupath.Table) []DeviceNode {
	if table == nil {
		table = gpupath.Default()
	}
	seen := make(map[string]bool)
	var nodes []DeviceNode
	for _, pattern := range nodeGlobs {
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			continue
		}
		for _, m := range matches {
			rel, err := filepath.Rel(root, m)
			if err != nil {
				continue
			}
			path := "/" + filepath.ToSlash(rel)
			if seen[path] {
				continue
			}
			match := table.Classify(path)
			if match.Classes.Empty() {
				continue
			}
			seen[path] = true
			nodes = append(nodes, DeviceNode{Path: path, Class: match.Classes.String(), Vendor: match.Vendor})
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Path < nodes[j].Path })
	return nodes
}

// vendorsOf returns the distinct known vendors among nodes, sorted.
func vendorsOf(nodes []DeviceNode) []string {
	set := make(map[string]bool)
	for _, n := range nodes {
		if n.Vendor != gpupath.VendorUnknown && n.Vendor != "" {
			set[string(n.Vendor)] = true
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func hasVendor(vendors []string, v gpupath.Vendor) bool {
	for _, s := range vendors {
		if strings.EqualFold(s, string(v)) {
			return true
		}
	}
	return false
}
