package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	barStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("63"))
)

// Field is one labelled line of a summary.
type Field struct {
	Label string
	Value string
	// Level colours the value: "ok", "warn" or "error". Empty means plain.
	Level string
}

// Summary renders a titled block of aligned label/value lines.
func Summary(title string, fields ...Field) string {
	width := 0
	for _, f := range fields {
		width = max(width, lipgloss.Width(f.Label))
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	for _, f := range fields {
		label := f.Label + strings.Repeat(" ", width-lipgloss.Width(f.Label))
		b.WriteString(labelStyle.Render(label))
		b.WriteString("  ")
		b.WriteString(styleFor(f.Level).Render(f.Value))
		b.WriteString("\n")
	}
	return b.String()
}

// Error renders err for the terminal.
func Error(err error) string {
	return errStyle.Render("error: ") + err.Error()
}

func styleFor(level string) lipgloss.Style {
	switch level {
	case "ok":
		return okStyle
	case "warn":
		return warnStyle
	case "error":
		return errStyle
	default:
		return lipgloss.NewStyle()
	}
}
