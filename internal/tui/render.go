package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"gpucheckpoint/internal/classify"
	"gpucheckpoint/internal/output"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00d7ff"))
	sectionStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffd700"))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#87d7af"))
	itemStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffffff"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#000000")).Background(lipgloss.Color("#00d7ff")).Bold(true)
	problemStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff8700"))
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#5fafff")).MarginTop(1)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
)

func (m Model) renderHeader(b *strings.Builder) {
	b.WriteString(titleStyle.Render(fmt.Sprintf("gpucheckpoint inspect: pid %d", m.pid)))
	b.WriteString("\n")

	switch {
	case m.running:
		b.WriteString(dimStyle.Render(fmt.Sprintf("Scanning (run %d)...", m.runs)))
		b.WriteString("\n")
	case m.hasReport:
		r := m.report
		fmt.Fprintf(b, "%s %s   %s %s   %s %s\n",
			labelStyle.Render("Vendor:"), r.Vendor,
			labelStyle.Render("Strategy:"), r.Strategy,
			labelStyle.Render("Scan:"), output.FormatElapsed(r.Elapsed()))
		fmt.Fprintf(b, "%s %s   %s %d\n",
			labelStyle.Render("Snapshot:"), r.SnapshotID,
			labelStyle.Render("Warnings:"), len(r.Warnings))
	}

	if m.lastError != "" {
		b.WriteString(errorStyle.Render("⚠ " + output.Sanitize(m.lastError)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func (m Model) renderAllocationsScreen() string {
	var b strings.Builder
	m.renderHeader(&b)

	if m.hasReport {
		allocs := m.report.Allocations
		b.WriteString(sectionStyle.Render(fmt.Sprintf("Allocations (%d)", len(allocs))))
		b.WriteString("\n")
		if len(allocs) == 0 {
			b.WriteString(dimStyle.Render("  No GPU allocations found"))
			b.WriteString("\n")
		}
		for i, a := range allocs {
			line := fmt.Sprintf("%-11s %#014x %10s  %-4s %s",
				a.Kind, a.Start, output.FormatSize(a.Size), a.Confidence, output.Sanitize(a.Backing))
			switch {
			case i == m.selection:
				b.WriteString("> " + selectedStyle.Render(line))
			case a.Problematic():
				b.WriteString("  " + problemStyle.Render(line))
			default:
				b.WriteString("  " + itemStyle.Render(line))
			}
			b.WriteString("\n")
		}

		if m.selection < len(allocs) {
			b.WriteString("\n")
			b.WriteString(m.renderDetails(allocs[m.selection]))
		}
	}

	b.WriteString(hintStyle.Render("Select: ↑/↓ | Re-run: r | Warnings: w | Details: v | Help: ? | Quit: q"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderDetails(a classify.GpuAllocation) string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render("Selected allocation"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  %s %#x-%#x (%s)\n", labelStyle.Render("Range:"), a.Start, a.End(), output.FormatSize(a.Size))
	fmt.Fprintf(&b, "  %s %s, confidence %s\n", labelStyle.Render("Kind:"), a.Kind, a.Confidence)
	if a.Problematic() {
		b.WriteString("  " + problemStyle.Render("Needs special handling during checkpoint"))
		b.WriteString("\n")
	}
	if m.verbose {
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("Rules:"), strings.Join(a.Rules, ", "))
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("Mappings:"), joinInts(a.Evidence.Mappings))
		if len(a.Evidence.Descriptors) > 0 {
			fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("Descriptors:"), joinInts(a.Evidence.Descriptors))
		}
	}
	return b.String()
}

func (m Model) renderWarningsScreen() string {
	var b strings.Builder
	m.renderHeader(&b)

	warnings := m.report.Warnings
	b.WriteString(sectionStyle.Render(fmt.Sprintf("Warnings (%d)", len(warnings))))
	b.WriteString("\n")
	if len(warnings) == 0 {
		b.WriteString(dimStyle.Render("  No warnings"))
		b.WriteString("\n")
	}
	for _, w := range warnings {
		b.WriteString("  " + output.Sanitize(w.String()))
		b.WriteString("\n")
	}

	b.WriteString(hintStyle.Render("Back: w/Esc | Re-run: r | Quit: q"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderHelpScreen() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("gpucheckpoint inspect: keys"))
	b.WriteString("\n\n")
	for _, kb := range DefaultKeyBindings() {
		fmt.Fprintf(&b, "  %-10s %s\n", kb.Keys, kb.Description)
	}
	b.WriteString(hintStyle.Render("Back: Esc"))
	b.WriteString("\n")
	return b.String()
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ",")
}
