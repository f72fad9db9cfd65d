package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpucheckpoint/internal/classify"
	"gpucheckpoint/internal/detector"
	"gpucheckpoint/internal/gpupath"
	"gpucheckpoint/internal/strategy"
)

func sampleReport() detector.Report {
	allocs := []classify.GpuAllocation{
		{Kind: classify.KindStandard, Start: 0x200000000, Size: 500 << 20, Confidence: classify.ConfidenceHigh,
			Evidence: classify.Evidence{Mappings: []int{2, 3}, Descriptors: []int{1}}, Backing: "/dev/nvidia0", Rules: []string{"compute-device"}},
		{Kind: classify.KindUvm, Start: 0x300000000, Size: 1 << 30, Confidence: classify.ConfidenceHigh,
			Evidence: classify.Evidence{Mappings: []int{4}}, Backing: "/dev/nvidia-uvm", Rules: []string{"uvm"}},
	}
	return detector.Report{
		PID:         4242,
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Allocations: allocs,
		Strategy:    strategy.Hybrid,
		ElapsedMS:   1.5,
		Warnings:    []detector.Warning{{Kind: detector.WarnParse, Message: "line 7: malformed inode: \"\\x1b[31m\""}},
		SnapshotID:  "abc123",
		Vendor:      gpupath.VendorNvidia,
		Indicators:  []string{"CUDA_VISIBLE_DEVICES"},
		Stats:       classify.Summarize(allocs),
	}
}

func TestRenderText(t *testing.T) {
	out := RenderText(sampleReport(), TextOptions{})

	for _, want := range []string{
		"=== nvidia GPU detection: pid 4242 ===",
		"1.5ms",
		"Allocations: 2 (1.5 GiB total, largest 1.0 GiB)",
		"1 problematic allocation(s) detected",
		"Standard",
		"500 MiB",
		"/dev/nvidia-uvm",
		"Indicators: CUDA_VISIBLE_DEVICES",
		"Warnings (1)",
		"Recommended checkpoint strategy: Hybrid",
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "rules:", "evidence only in verbose mode")
	assert.NotContains(t, out, "\x1b", "plain output carries no escape sequences")
}

func TestRenderText_Verbose(t *testing.T) {
	out := RenderText(sampleReport(), TextOptions{Verbose: true})
	assert.Contains(t, out, "rules: compute-device")
	assert.Contains(t, out, "mappings: 2,3")
	assert.Contains(t, out, "descriptors: 1")
}

func TestRenderText_Empty(t *testing.T) {
	r := detector.Report{PID: 1, Strategy: strategy.Skip, Vendor: gpupath.VendorUnknown}
	out := RenderText(r, TextOptions{})
	assert.Contains(t, out, "Allocations: 0\n")
	assert.NotContains(t, out, "Allocation summary")
	assert.Contains(t, out, "Recommended checkpoint strategy: Skip")
}

func TestRenderText_TruncatesWarnings(t *testing.T) {
	r := sampleReport()
	r.Warnings = nil
	for i := 0; i < 8; i++ {
		r.Warnings = append(r.Warnings, detector.Warning{Kind: detector.WarnUnresolvedDescriptor, Message: "fd gone"})
	}

	assert.Contains(t, RenderText(r, TextOptions{}), "... 3 more")
	assert.NotContains(t, RenderText(r, TextOptions{Verbose: true}), "more (use --verbose)")
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleReport(), FormatJSON, TextOptions{}))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, float64(4242), decoded["pid"])
	assert.Equal(t, "Hybrid", decoded["strategy"])
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	_, err = ParseFormat("yaml")
	assert.Error(t, err)
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain /dev/nvidia0", "plain /dev/nvidia0"},
		{"a\tb\nc", "a\tb\nc"},
		{"hi\x1b[31mred", `hi\x1b[31mred`},
		{"nul:\x00", `nul:\x00`},
		{"bad:\xff", `bad:\xff`},
		{"sep\u2028x", `sep\u2028x`},
		{"unicode ok: äöü", "unicode ok: äöü"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in), "input %q", tt.in)
	}
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "250µs", FormatElapsed(250*time.Microsecond))
	assert.Equal(t, "12.5ms", FormatElapsed(12500*time.Microsecond))
	assert.Equal(t, "2s", FormatElapsed(2*time.Second+100*time.Microsecond))
}
