package classify

// Stats summarizes a set of allocations.
type Stats struct {
	Count       int                    `json:"count"`
	ByKind      map[AllocationKind]int `json:"by_kind"`
	TotalBytes  uint64                 `json:"total_bytes"`
	LargestSize uint64                 `json:"largest_bytes"`
	Problematic int                    `json:"problematic"`
}

// Summarize counts allocations per kind and totals their sizes.
func Summarize(allocs []GpuAllocation) Stats {
	s := Stats{Count: len(allocs), ByKind: map[AllocationKind]int{}}
	for _, a := range allocs {
		s.ByKind[a.Kind]++
		s.TotalBytes += a.Size
		if a.Size > s.LargestSize {
			s.LargestSize = a.Size
		}
		if a.Problematic() {
			s.Problematic++
		}
	}
	return s
}
