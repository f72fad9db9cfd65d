package detector

import (
	"time"

	"gpucheckpoint/internal/classify"
	"gpucheckpoint/internal/gpupath"
	"gpucheckpoint/internal/strategy"
)

// WarningKind classifies a non-fatal detection problem.
type WarningKind string

const (
	WarnParse                  WarningKind = "parse"
	WarnUnresolvedDescriptor   WarningKind = "unresolved-descriptor"
	WarnEnvironmentUnavailable WarningKind = "environment-unavailable"
	WarnDescriptorsUnavailable WarningKind = "descriptors-unavailable"
	WarnPeerScan               WarningKind = "peer-scan"
)

// Warning is a non-fatal problem recorded in a report. It serializes as a
// single "kind: message" string.
type Warning struct {
	Kind    WarningKind
	Message string
}

func (w Warning) String() string { return string(w.Kind) + ": " + w.Message }

func (w Warning) MarshalText() ([]byte, error) { return []byte(w.String()), nil }

// Report is the result of one detection call. It is never modified after
// Detect returns it.
type Report struct {
	PID         int                      `json:"pid"`
	Timestamp   time.Time                `json:"timestamp"`
	Allocations []classify.GpuAllocation `json:"allocations"`
	Strategy    strategy.Strategy        `json:"strategy"`
	ElapsedMS   float64                  `json:"elapsed_ms"`
	Warnings    []Warning                `json:"warnings"`
	// SnapshotID is the mapping snapshot generation the report was built from.
	SnapshotID string         `json:"snapshot_id"`
	Vendor     gpupath.Vendor `json:"vendor"`
	// Indicators names the environment indicator variables that were present.
	Indicators []string       `json:"indicators"`
	Stats      classify.Stats `json:"stats"`
}

// Elapsed returns the scan duration.
func (r Report) Elapsed() time.Duration {
	return time.Duration(r.ElapsedMS * float64(time.Millisecond))
}

// WarningsOf returns the warnings of one kind.
func (r Report) WarningsOf(kind WarningKind) []Warning {
	var out []Warning
	for _, w := range r.Warnings {
		if w.Kind == kind {
			out = append(out, w)
		}
	}
	return out
}
