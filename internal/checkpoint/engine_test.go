package checkpoint

import (
	"context"
	"errors"
	"testing"

	"gpucheckpoint/internal/detector"
	"gpucheckpoint/internal/strategy"
)

func TestPlaceholder_NeverSucceeds(t *testing.T) {
	var e Engine = Placeholder{}

	err := e.Checkpoint(context.Background(), detector.Report{PID: 42}, strategy.Hybrid)
	if !errors.Is(err, ErrNotImplemented) {
		t.Errorf("Checkpoint() error = %v, want ErrNotImplemented", err)
	}

	err = e.Restore(context.Background(), "/tmp/manifest.json")
	if !errors.Is(err, ErrNotImplemented) {
		t.Errorf("Restore() error = %v, want ErrNotImplemented", err)
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    strategy.Strategy
		ok      bool
		wantErr bool
	}{
		{"auto", "", false, false},
		{"", "", false, false},
		{"cuda", strategy.CudaCheckpoint, true, false},
		{"BAR-Sliding", strategy.BarSliding, true, false},
		{"hybrid", strategy.Hybrid, true, false},
		{"skip", strategy.Skip, true, false},
		{"criu", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok, err := ParseStrategy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStrategy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want || ok != tt.ok {
				t.Errorf("ParseStrategy(%q) = (%s, %v), want (%s, %v)", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	report := detector.Report{Strategy: strategy.Hybrid}

	if got, _ := Resolve(report, "auto"); got != strategy.Hybrid {
		t.Errorf("Resolve(auto) = %s, want Hybrid", got)
	}
	if got, _ := Resolve(report, "skip"); got != strategy.Skip {
		t.Errorf("Resolve(skip) = %s, want Skip", got)
	}
	if _, err := Resolve(report, "bogus"); err == nil {
		t.Error("Resolve(bogus) should fail")
	}
}
