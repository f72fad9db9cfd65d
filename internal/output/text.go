// Package output renders detection reports for people and for programs.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"gpucheckpoint/internal/classify"
	"gpucheckpoint/internal/detector"
)

// TextOptions controls the human-readable rendering.
type TextOptions struct {
	// Verbose adds per-allocation evidence and rule names.
	Verbose bool
	// Color enables terminal styling.
	Color bool
}

type styles struct {
	title   lipgloss.Style
	section lipgloss.Style
	label   lipgloss.Style
	warn    lipgloss.Style
	hint    lipgloss.Style
	color   bool
}

func newStyles(color bool) styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00d7ff")),
		section: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffd700")),
		label:   lipgloss.NewStyle().Foreground(lipgloss.Color("#87d7af")),
		warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f")).Bold(true),
		hint:    lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")),
		color:   color,
	}
}

func (s styles) paint(st lipgloss.Style, text string) string {
	if !s.color {
		return text
	}
	return st.Render(text)
}

// FormatSize renders a byte count with IEC units.
func FormatSize(n uint64) string { return humanize.IBytes(n) }

// FormatElapsed renders a scan duration.
func FormatElapsed(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return d.Round(time.Microsecond).String()
	case d < time.Second:
		return d.Round(10 * time.Microsecond).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}

// RenderText renders r as a human-readable block.
func RenderText(r detector.Report, opts TextOptions) string {
	st := newStyles(opts.Color)
	var b strings.Builder

	b.WriteString(st.paint(st.title, fmt.Sprintf("=== %s GPU detection: pid %d ===", r.Vendor, r.PID)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s\n", st.paint(st.label, "Captured:   "), r.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "%s %s\n", st.paint(st.label, "Scan time:  "), FormatElapsed(r.Elapsed()))
	if r.SnapshotID != "" {
		fmt.Fprintf(&b, "%s %s\n", st.paint(st.label, "Snapshot:   "), r.SnapshotID)
	}
	fmt.Fprintf(&b, "%s %d", st.paint(st.label, "Allocations:"), r.Stats.Count)
	if r.Stats.Count > 0 {
		fmt.Fprintf(&b, " (%s total, largest %s)", FormatSize(r.Stats.TotalBytes), FormatSize(r.Stats.LargestSize))
	}
	b.WriteString("\n")

	if r.Stats.Problematic > 0 {
		b.WriteString(st.paint(st.warn, fmt.Sprintf("\n! %d problematic allocation(s) detected", r.Stats.Problematic)))
		b.WriteString("\n")
	}

	if r.Stats.Count > 0 {
		b.WriteString("\n" + st.paint(st.section, "Allocation summary") + "\n")
		for _, k := range classify.Kinds {
			if n := r.Stats.ByKind[k]; n > 0 {
				fmt.Fprintf(&b, "  %-12s %d\n", k, n)
			}
		}

		b.WriteString("\n" + st.paint(st.section, "Allocations") + "\n")
		for i, a := range r.Allocations {
			marker := " "
			if a.Problematic() {
				marker = "!"
			}
			fmt.Fprintf(&b, "%s [%d] %-11s %#014x  %10s  %-4s  %s\n",
				marker, i, a.Kind, a.Start, FormatSize(a.Size), a.Confidence, Sanitize(a.Backing))
			if opts.Verbose {
				fmt.Fprintf(&b, "      %s %s\n", st.paint(st.hint, "rules:"), strings.Join(a.Rules, ", "))
				fmt.Fprintf(&b, "      %s %s", st.paint(st.hint, "mappings:"), joinInts(a.Evidence.Mappings))
				if len(a.Evidence.Descriptors) > 0 {
					fmt.Fprintf(&b, "  %s %s", st.paint(st.hint, "descriptors:"), joinInts(a.Evidence.Descriptors))
				}
				b.WriteString("\n")
			}
		}
	}

	if len(r.Indicators) > 0 {
		names := make([]string, len(r.Indicators))
		for i, n := range r.Indicators {
			names[i] = Sanitize(n)
		}
		fmt.Fprintf(&b, "\n%s %s\n", st.paint(st.label, "Indicators:"), strings.Join(names, ", "))
	}

	if len(r.Warnings) > 0 {
		b.WriteString("\n" + st.paint(st.section, fmt.Sprintf("Warnings (%d)", len(r.Warnings))) + "\n")
		shown := r.Warnings
		if !opts.Verbose && len(shown) > 5 {
			shown = shown[:5]
		}
		for _, w := range shown {
			fmt.Fprintf(&b, "  %s\n", Sanitize(w.String()))
		}
		if len(shown) < len(r.Warnings) {
			b.WriteString(st.paint(st.hint, fmt.Sprintf("  ... %d more (use --verbose)", len(r.Warnings)-len(shown))))
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "\n%s %s\n", st.paint(st.section, "Recommended checkpoint strategy:"), r.Strategy)
	b.WriteString("  " + st.paint(st.hint, r.Strategy.Describe()) + "\n")
	return b.String()
}

// WriteText writes the text rendering of r to w.
func WriteText(w io.Writer, r detector.Report, opts TextOptions) error {
	_, err := io.WriteString(w, RenderText(r, opts))
	return err
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ",")
}
