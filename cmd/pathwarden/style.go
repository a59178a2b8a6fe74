package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/pathwarden/internal/doctor"
)

var (
	styleOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	styleError = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleDim   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleTitle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// renderDoctor is the styled counterpart of doctor.FormatHuman.
func renderDoctor(r *doctor.Result) string {
	var b strings.Builder

	b.WriteString(styleTitle.Render("pathwarden doctor"))
	b.WriteString("\n")
	switch {
	case r.Valid && len(r.Warnings) == 0:
		fmt.Fprintf(&b, "%s %s is healthy\n", styleOK.Render("OK"), r.Root)
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "%s %s is healthy with %d warning(s)\n", styleOK.Render("OK"), r.Root, len(r.Warnings))
	default:
		fmt.Fprintf(&b, "%s %s has %d error(s), %d warning(s)\n",
			styleError.Render("FAIL"), r.Root, len(r.Errors), len(r.Warnings))
	}

	rows := make([]string, 0, len(r.Errors)+len(r.Warnings))
	for _, i := range r.Errors {
		rows = append(rows, issueRow(styleError.Render("ERROR"), i))
	}
	for _, i := range r.Warnings {
		rows = append(rows, issueRow(styleWarn.Render("WARN "), i))
	}
	b.WriteString(lipgloss.NewStyle().PaddingLeft(2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))
	b.WriteString("\n")
	return b.String()
}

func issueRow(label string, i doctor.Issue) string {
	category := styleDim.Render("[" + i.Category + "]")
	if i.Path != "" {
		return fmt.Sprintf("%s %s %s: %s", label, category, i.Path, i.Message)
	}
	return fmt.Sprintf("%s %s %s", label, category, i.Message)
}
