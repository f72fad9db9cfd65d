package classify

import (
	"regexp"

	"gpucheckpoint/internal/gpupath"
	"gpucheckpoint/internal/procscan"
)

// Cluster is a run of mappings that share one backing and touch or overlap in
// address space.
type Cluster struct {
	Start, End uint64
	Path       string
	Dev, Inode uint64
	// Shared and Execute are set when any member mapping has the flag.
	Shared, Execute bool
	Mappings        []int
	// Classes unions the path classes of the backing and of every
	// correlated descriptor.
	Classes     gpupath.ClassSet
	Vendor      gpupath.Vendor
	Descriptors []int
}

// Anonymous reports whether the cluster has no file backing.
func (c *Cluster) Anonymous() bool { return c.Path == "" && c.Inode == 0 }

// Size returns the cluster length in bytes.
func (c *Cluster) Size() uint64 { return c.End - c.Start }

// Facts are the process-wide signals rules may consult.
type Facts struct {
	Descriptors          []procscan.DescriptorInfo
	DescriptorsAvailable bool
	Environment          procscan.Environment
	// HoldsCompute is set when any descriptor or mapping names a compute device.
	HoldsCompute      bool
	MinAnonymousBytes uint64
}

// Verdict is the outcome of one rule on one cluster.
type Verdict struct {
	Kind       AllocationKind
	Confidence Confidence
}

// Rule is one row of the classification table.
type Rule struct {
	Name  string
	Match func(c *Cluster, f *Facts) (Verdict, bool)
}

var distributedShm = regexp.MustCompile(`(?i)(nccl|horovod)`)

// DefaultRules returns the rule table. Row order is informational; conflicts
// are settled by Precedence, never by position.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "pcie-bar", Match: matchPcieBar},
		{Name: "shared-memory", Match: matchSharedMemory},
		{Name: "uvm", Match: matchUvm},
		{Name: "managed", Match: matchManaged},
		{Name: "compute-device", Match: matchComputeDevice},
		{Name: "anonymous-compute", Match: matchAnonymousCompute},
	}
}

func matchPcieBar(c *Cluster, f *Facts) (Verdict, bool) {
	if !c.Classes.Has(gpupath.ClassBAR) || !c.Shared || c.Execute {
		return Verdict{}, false
	}
	conf := ConfidenceLow
	if correlatedHas(c, f, gpupath.ClassBAR) {
		conf = ConfidenceHigh
	}
	return Verdict{Kind: KindPcieBar, Confidence: conf}, true
}

func matchSharedMemory(c *Cluster, f *Facts) (Verdict, bool) {
	if !c.Classes.Has(gpupath.ClassSharedMemory) {
		return Verdict{}, false
	}
	v := Verdict{Kind: KindIpc, Confidence: ConfidenceLow}
	namedDistributed := distributedShm.MatchString(c.Path)
	if namedDistributed || f.Environment.HasDistributed() {
		v.Kind = KindDistributed
	}
	if !f.DescriptorsAvailable {
		return v, true
	}
	// A missing environment only matters while it could still turn Ipc
	// into Distributed.
	if !f.Environment.Available && !namedDistributed {
		return v, true
	}
	for _, i := range c.Descriptors {
		if f.Descriptors[i].PeerRefs > 0 {
			v.Confidence = ConfidenceHigh
			break
		}
	}
	return v, true
}

func matchUvm(c *Cluster, f *Facts) (Verdict, bool) {
	if !c.Classes.Has(gpupath.ClassUVM) {
		return Verdict{}, false
	}
	return Verdict{Kind: KindUvm, Confidence: ConfidenceHigh}, true
}

func matchManaged(c *Cluster, f *Facts) (Verdict, bool) {
	if !c.Classes.Has(gpupath.ClassManaged) {
		return Verdict{}, false
	}
	return Verdict{Kind: KindManaged, Confidence: ConfidenceHigh}, true
}

func matchComputeDevice(c *Cluster, f *Facts) (Verdict, bool) {
	if !c.Classes.Has(gpupath.ClassCompute) {
		return Verdict{}, false
	}
	conf := ConfidenceLow
	if correlatedHas(c, f, gpupath.ClassCompute) {
		conf = ConfidenceHigh
	}
	return Verdict{Kind: KindStandard, Confidence: conf}, true
}

func matchAnonymousCompute(c *Cluster, f *Facts) (Verdict, bool) {
	if !c.Anonymous() || !f.HoldsCompute || c.Size() < f.MinAnonymousBytes {
		return Verdict{}, false
	}
	return Verdict{Kind: KindStandard, Confidence: ConfidenceLow}, true
}

func correlatedHas(c *Cluster, f *Facts, class gpupath.Class) bool {
	for _, i := range c.Descriptors {
		if f.Descriptors[i].Classes.Has(class) {
			return true
		}
	}
	return false
}

// resolve settles the matches of one cluster. Disagreeing kinds resolve to
// the highest precedence with Low confidence.
func resolve(names []string, verdicts []Verdict) (Verdict, []string) {
	best := 0
	agree := true
	conf := verdicts[0].Confidence
	for i, v := range verdicts[1:] {
		if v.Kind != verdicts[0].Kind {
			agree = false
		}
		if Precedence(v.Kind) > Precedence(verdicts[best].Kind) {
			best = i + 1
		}
		if v.Confidence == ConfidenceHigh {
			conf = ConfidenceHigh
		}
	}
	out := Verdict{Kind: verdicts[best].Kind, Confidence: conf}
	if !agree {
		out.Confidence = ConfidenceLow
	}

	ordered := make([]string, 0, len(names))
	ordered = append(ordered, names[best])
	for i, n := range names {
		if i != best {
			ordered = append(ordered, n)
		}
	}
	return out, ordered
}
