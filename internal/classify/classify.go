package classify

import (
	"sort"

	"gpucheckpoint/internal/gpupath"
	"gpucheckpoint/internal/procscan"
)

// DefaultMinAnonymousBytes is the smallest anonymous cluster treated as a
// device allocation when the process holds a compute device.
const DefaultMinAnonymousBytes = 64 << 20

// Options configures a Classifier.
type Options struct {
	// Table classifies mapping paths; nil selects gpupath.Default().
	Table *gpupath.Table
	// Rules replaces DefaultRules() when non-nil.
	Rules []Rule
	// MinAnonymousBytes overrides DefaultMinAnonymousBytes when non-zero.
	MinAnonymousBytes uint64
}

// Classifier is safe for concurrent use; Classify keeps no state between calls.
type Classifier struct {
	table        *gpupath.Table
	rules        []Rule
	minAnonymous uint64
}

func New(opts Options) *Classifier {
	c := &Classifier{table: opts.Table, rules: opts.Rules, minAnonymous: opts.MinAnonymousBytes}
	if c.table == nil {
		c.table = gpupath.Default()
	}
	if c.rules == nil {
		c.rules = DefaultRules()
	}
	if c.minAnonymous == 0 {
		c.minAnonymous = DefaultMinAnonymousBytes
	}
	return c
}

// Classify turns one set of snapshots into non-overlapping allocations in
// address order.
func (c *Classifier) Classify(in Input) Result {
	clusters := c.cluster(in.Mappings.Mappings)
	descs := in.Descriptors.Descriptors
	correlate(clusters, descs)

	facts := &Facts{
		Descriptors:          descs,
		DescriptorsAvailable: in.DescriptorsAvailable,
		Environment:          in.Environment,
		MinAnonymousBytes:    c.minAnonymous,
	}
	for _, d := range descs {
		if d.Classes.Has(gpupath.ClassCompute) {
			facts.HoldsCompute = true
			break
		}
	}
	if !facts.HoldsCompute {
		for _, cl := range clusters {
			if cl.Classes.Has(gpupath.ClassCompute) {
				facts.HoldsCompute = true
				break
			}
		}
	}

	var allocs []GpuAllocation
	var names []string
	var verdicts []Verdict
	for _, cl := range clusters {
		names, verdicts = names[:0], verdicts[:0]
		for _, r := range c.rules {
			if v, ok := r.Match(cl, facts); ok {
				names = append(names, r.Name)
				verdicts = append(verdicts, v)
			}
		}
		if len(verdicts) == 0 {
			continue
		}
		v, rules := resolve(names, verdicts)
		backing := cl.Path
		if backing == "" {
			backing = "anonymous"
		}
		allocs = append(allocs, GpuAllocation{
			Kind:       v.Kind,
			Start:      cl.Start,
			Size:       cl.Size(),
			Confidence: v.Confidence,
			Evidence:   Evidence{Mappings: cl.Mappings, Descriptors: cl.Descriptors},
			Backing:    backing,
			Rules:      rules,
		})
	}

	return Result{
		Allocations: mergeOverlaps(allocs),
		Vendor:      inferVendor(clusters, descs),
	}
}

// cluster groups mappings by backing. Input order does not matter.
func (c *Classifier) cluster(mappings []procscan.MemoryMapping) []*Cluster {
	order := make([]int, len(mappings))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return mappings[order[a]].Start < mappings[order[b]].Start })

	classes := map[string]gpupath.Match{}
	var clusters []*Cluster
	var cur *Cluster
	for _, i := range order {
		m := mappings[i]
		if m.End <= m.Start {
			continue
		}
		if cur != nil && m.Start <= cur.End && m.Path == cur.Path && m.Dev == cur.Dev && m.Inode == cur.Inode {
			if m.End > cur.End {
				cur.End = m.End
			}
			cur.Shared = cur.Shared || m.Perms.Shared
			cur.Execute = cur.Execute || m.Perms.Execute
			cur.Mappings = append(cur.Mappings, i)
			continue
		}

		match, ok := classes[m.Path]
		if !ok {
			match = c.table.Classify(m.Path)
			classes[m.Path] = match
		}
		cur = &Cluster{
			Start:    m.Start,
			End:      m.End,
			Path:     m.Path,
			Dev:      m.Dev,
			Inode:    m.Inode,
			Shared:   m.Perms.Shared,
			Execute:  m.Perms.Execute,
			Mappings: []int{i},
			Classes:  match.Classes,
			Vendor:   match.Vendor,
		}
		clusters = append(clusters, cur)
	}
	return clusters
}

type devIno struct{ dev, ino uint64 }

// correlate attaches descriptors whose target or (dev, inode) equals a
// cluster backing.
func correlate(clusters []*Cluster, descs []procscan.DescriptorInfo) {
	byTarget := map[string][]int{}
	byNode := map[devIno][]int{}
	for i, d := range descs {
		if !d.Resolved {
			continue
		}
		byTarget[d.Target] = append(byTarget[d.Target], i)
		if d.Inode != 0 {
			k := devIno{d.Dev, d.Inode}
			byNode[k] = append(byNode[k], i)
		}
	}
	if len(byTarget) == 0 {
		return
	}

	for _, cl := range clusters {
		if cl.Anonymous() {
			continue
		}
		seen := map[int]bool{}
		add := func(idx []int) {
			for _, i := range idx {
				if !seen[i] {
					seen[i] = true
					cl.Descriptors = append(cl.Descriptors, i)
					cl.Classes |= descs[i].Classes
				}
			}
		}
		if cl.Path != "" {
			add(byTarget[cl.Path])
		}
		if cl.Inode != 0 {
			add(byNode[devIno{cl.Dev, cl.Inode}])
		}
		sort.Ints(cl.Descriptors)
	}
}

// mergeOverlaps folds allocations whose ranges intersect. Well-formed
// snapshots never produce any; the merged record keeps the higher-precedence
// kind at Low confidence.
func mergeOverlaps(allocs []GpuAllocation) []GpuAllocation {
	if len(allocs) < 2 {
		return allocs
	}
	sort.SliceStable(allocs, func(i, j int) bool { return allocs[i].Start < allocs[j].Start })

	out := allocs[:1]
	for _, a := range allocs[1:] {
		last := &out[len(out)-1]
		if a.Start >= last.End() {
			out = append(out, a)
			continue
		}
		if end := a.End(); end > last.End() {
			last.Size = end - last.Start
		}
		if Precedence(a.Kind) > Precedence(last.Kind) {
			last.Kind = a.Kind
			last.Backing = a.Backing
		}
		last.Confidence = ConfidenceLow
		last.Evidence.Mappings = mergeIndexes(last.Evidence.Mappings, a.Evidence.Mappings)
		last.Evidence.Descriptors = mergeIndexes(last.Evidence.Descriptors, a.Evidence.Descriptors)
		last.Rules = append(last.Rules, a.Rules...)
	}
	return out
}

func mergeIndexes(a, b []int) []int {
	if len(b) == 0 {
		return a
	}
	out := append(append([]int(nil), a...), b...)
	sort.Ints(out)
	n := 0
	for i, v := range out {
		if i == 0 || v != out[n-1] {
			out[n] = v
			n++
		}
	}
	return out[:n]
}

// inferVendor picks the first concrete vendor named by descriptors (in
// descriptor order), then by mapping backings.
func inferVendor(clusters []*Cluster, descs []procscan.DescriptorInfo) gpupath.Vendor {
	for _, d := range descs {
		if !d.Classes.Empty() && d.Vendor != "" && d.Vendor != gpupath.VendorUnknown {
			return d.Vendor
		}
	}
	for _, cl := range clusters {
		if !cl.Classes.Empty() && cl.Vendor != "" && cl.Vendor != gpupath.VendorUnknown {
			return cl.Vendor
		}
	}
	return gpupath.VendorUnknown
}
