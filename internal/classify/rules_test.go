package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gpucheckpoint/internal/gpupath"
	"gpucheckpoint/internal/procscan"
)

func TestRules_Individually(t *testing.T) {
	facts := &Facts{
		Descriptors: []procscan.DescriptorInfo{
			{FD: 3, Target: "/dev/nvidia0", Resolved: true, Classes: gpupath.ClassSet(gpupath.ClassCompute)},
		},
		DescriptorsAvailable: true,
		Environment:          procscan.Environment{Available: true},
		HoldsCompute:         true,
		MinAnonymousBytes:    DefaultMinAnonymousBytes,
	}

	tests := []struct {
		name    string
		rule    func(*Cluster, *Facts) (Verdict, bool)
		cluster Cluster
		want    Verdict
		matched bool
	}{
		{
			name:    "bar shared",
			rule:    matchPcieBar,
			cluster: Cluster{Classes: gpupath.ClassSet(gpupath.ClassBAR), Shared: true},
			want:    Verdict{KindPcieBar, ConfidenceLow},
			matched: true,
		},
		{
			name:    "bar executable",
			rule:    matchPcieBar,
			cluster: Cluster{Classes: gpupath.ClassSet(gpupath.ClassBAR), Shared: true, Execute: true},
		},
		{
			name:    "uvm",
			rule:    matchUvm,
			cluster: Cluster{Classes: gpupath.ClassSet(gpupath.ClassUVM)},
			want:    Verdict{KindUvm, ConfidenceHigh},
			matched: true,
		},
		{
			name:    "compute correlated",
			rule:    matchComputeDevice,
			cluster: Cluster{Classes: gpupath.ClassSet(gpupath.ClassCompute), Descriptors: []int{0}},
			want:    Verdict{KindStandard, ConfidenceHigh},
			matched: true,
		},
		{
			name:    "anonymous at threshold",
			rule:    matchAnonymousCompute,
			cluster: Cluster{Start: 0, End: DefaultMinAnonymousBytes},
			want:    Verdict{KindStandard, ConfidenceLow},
			matched: true,
		},
		{
			name:    "anonymous below threshold",
			rule:    matchAnonymousCompute,
			cluster: Cluster{Start: 0, End: DefaultMinAnonymousBytes - 1},
		},
		{
			name:    "managed needs class",
			rule:    matchManaged,
			cluster: Cluster{Path: "[anon:scudo]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.rule(&tt.cluster, facts)
			assert.Equal(t, tt.matched, ok)
			if tt.matched {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	v, names := resolve([]string{"compute-device"}, []Verdict{{KindStandard, ConfidenceHigh}})
	assert.Equal(t, Verdict{KindStandard, ConfidenceHigh}, v)
	assert.Equal(t, []string{"compute-device"}, names)

	v, names = resolve(
		[]string{"shared-memory", "uvm", "pcie-bar"},
		[]Verdict{{KindIpc, ConfidenceHigh}, {KindUvm, ConfidenceHigh}, {KindPcieBar, ConfidenceHigh}},
	)
	assert.Equal(t, Verdict{KindPcieBar, ConfidenceLow}, v)
	assert.Equal(t, []string{"pcie-bar", "shared-memory", "uvm"}, names)
}
