// Copyright 2025 The raceaudit Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/raceaudit/raceaudit/internal/analysis/access"
)

const toolVersion = "0.1.0"

// JSONDocument is the machine-readable envelope around findings.
type JSONDocument struct {
	Tool            string         `json:"tool"`
	Version         string         `json:"version"`
	FilesScanned    int            `json:"filesScanned"`
	FilesSkipped    int            `json:"filesSkipped"`
	DroppedSubjects int            `json:"droppedSubjects"`
	BySeverity      map[string]int `json:"bySeverity"`
	Findings        []Finding      `json:"findings"`
}

// NewJSONDocument wraps findings in the report envelope with severity
// counts filled in.
func NewJSONDocument(findings []Finding, scanned, skipped, dropped int) JSONDocument {
	return JSONDocument{
		Tool:            "raceaudit",
		Version:         toolVersion,
		FilesScanned:    scanned,
		FilesSkipped:    skipped,
		DroppedSubjects: dropped,
		BySeverity:      severityCounts(findings),
		Findings:        findings,
	}
}

// WriteJSON emits the findings as indented JSON. Output is deterministic
// for a fixed input: findings are pre-sorted and map keys are serialized
// in sorted order by encoding/json.
func WriteJSON(w io.Writer, doc JSONDocument) error {
	if doc.BySeverity == nil {
		doc.BySeverity = severityCounts(doc.Findings)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func severityCounts(findings []Finding) map[string]int {
	counts := make(map[string]int)
	for _, f := range findings {
		counts[f.Severity.String()]++
	}
	return counts
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)

	severityStyles = map[access.Severity]lipgloss.Style{
		access.Critical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		access.High:     lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		access.Medium:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		access.Low:      lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
	}
)

// WriteText renders findings for humans.
func WriteText(w io.Writer, doc JSONDocument) error {
	if len(doc.Findings) == 0 {
		_, err := fmt.Fprintln(w, "no unprotected shared state found")
		return err
	}

	if _, err := fmt.Fprintf(w, "%s\n\n",
		headerStyle.Render(fmt.Sprintf("%d potential race(s) in %d file(s)",
			len(doc.Findings), doc.FilesScanned))); err != nil {
		return err
	}

	for _, f := range doc.Findings {
		sev := severityStyles[f.Severity].Render(f.Severity.String())
		if _, err := fmt.Fprintf(w, "[%s] %s\n", sev, f.StateName); err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s\n", f.Description)
		for _, idiom := range f.RecognizedIdioms {
			fmt.Fprintf(w, "  idiom: %s\n", idiom)
		}
		fmt.Fprintf(w, "  suggestion: %s\n", f.Suggestion)
		for _, hint := range f.FalsePositiveHints {
			fmt.Fprintf(w, "  %s\n", dimStyle.Render("may be noise: "+hint))
		}
		shown := f.AccessLocations
		const maxLocations = 8
		truncated := 0
		if len(shown) > maxLocations {
			truncated = len(shown) - maxLocations
			shown = shown[:maxLocations]
		}
		for _, loc := range shown {
			fmt.Fprintf(w, "    %s:%d  %s\n", loc.File, loc.Line, loc.Kind)
		}
		if truncated > 0 {
			fmt.Fprintf(w, "    %s\n", dimStyle.Render(fmt.Sprintf("... %d more", truncated)))
		}
		fmt.Fprintln(w)
	}

	if doc.FilesSkipped > 0 || doc.DroppedSubjects > 0 {
		fmt.Fprintf(w, "%s\n", dimStyle.Render(fmt.Sprintf(
			"skipped %d unparseable file(s), dropped %d unresolvable subject(s)",
			doc.FilesSkipped, doc.DroppedSubjects)))
	}
	return nil
}
