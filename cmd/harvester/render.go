package main

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hazyhaar/harvester/harvest"
	"github.com/hazyhaar/harvester/harvest/manifest"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderSummary(s *manifest.Summary) string {
	var sections []string

	if s.RunID != "" {
		run := []string{
			titleStyle.Render("Run " + s.RunID),
			mutedStyle.Render(fmt.Sprintf("%s, %s", s.StartedAt.Local().Format(time.DateTime),
				s.FinishedAt.Sub(s.StartedAt).Round(time.Second))),
			row("targets", s.Targets),
			row("skipped", s.Skipped),
			row("processed", s.Processed),
			okStyle.Render(fmt.Sprintf("%-12s %d", "found", s.Found)),
			row("not found", s.NotFound),
		}
		if s.Malformed > 0 {
			run = append(run, row("malformed", s.Malformed))
		}
		if s.Failed > 0 {
			run = append(run, errStyle.Render(fmt.Sprintf("%-12s %d", "failed", s.Failed)))
		}
		for _, k := range sortedKeys(s.SoftFailures) {
			run = append(run, mutedStyle.Render(fmt.Sprintf("  %-22s %d", k, s.SoftFailures[k])))
		}
		sections = append(sections, panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, run...)))
	}

	total := []string{
		titleStyle.Render("Harvest state"),
		row("results", s.TotalResults),
		okStyle.Render(fmt.Sprintf("%-12s %d", "with stream", s.TotalFound)),
	}
	for _, k := range sortedKeys(s.ByKind) {
		total = append(total, row("  "+string(k), s.ByKind[k]))
	}
	if s.PendingRetry > 0 {
		total = append(total, errStyle.Render(fmt.Sprintf("%-12s %d", "to retry", s.PendingRetry)))
	}
	sections = append(sections, panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, total...)))

	return lipgloss.JoinHorizontal(lipgloss.Top, sections...)
}

func renderHistory(runs []harvest.RunRecord, attempts []harvest.AttemptRecord) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Runs") + "\n")
	if len(runs) == 0 {
		b.WriteString(mutedStyle.Render("no runs journaled") + "\n")
	}
	for _, r := range runs {
		state := mutedStyle.Render("unfinished")
		if !r.FinishedAt.IsZero() {
			state = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(&b, "%s  %s  pending %d  %s %d  not found %d  %s  %s\n",
			r.StartedAt.Local().Format(time.DateTime), r.ID, r.Pending,
			okStyle.Render("found"), r.Found, r.NotFound, failedCell(r.Failed), state)
	}

	if attempts == nil {
		return strings.TrimRight(b.String(), "\n")
	}
	b.WriteString("\n" + titleStyle.Render("Attempts") + "\n")
	if len(attempts) == 0 {
		b.WriteString(mutedStyle.Render("no attempts on this page") + "\n")
	}
	for _, a := range attempts {
		detail := a.Manifest
		status := a.Status
		switch a.Status {
		case "found":
			status = okStyle.Render(a.Status)
		case "failed":
			status = errStyle.Render(a.Status)
			detail = a.Error
		}
		fmt.Fprintf(&b, "%s  %-9s %-5s %s", a.CreatedAt.Local().Format(time.DateTime), status, a.Kind, detail)
		if len(a.SoftFailures) > 0 {
			b.WriteString(mutedStyle.Render("  [" + strings.Join(a.SoftFailures, ", ") + "]"))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func failedCell(n int) string {
	s := fmt.Sprintf("failed %d", n)
	if n > 0 {
		return errStyle.Render(s)
	}
	return s
}

func row(label string, n int) string {
	return fmt.Sprintf("%-12s %d", label, n)
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
