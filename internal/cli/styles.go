package cli

import (
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/aezell/perfrev/internal/model"
)

// Color palette.
var (
	colorRed    = lipgloss.Color("#ff5555")
	colorGreen  = lipgloss.Color("#50fa7b")
	colorYellow = lipgloss.Color("#f1fa8c")
	colorBlue   = lipgloss.Color("#8be9fd")
	colorPurple = lipgloss.Color("#bd93f9")
	colorDim    = lipgloss.Color("#6272a4")
	colorOrange = lipgloss.Color("#ffb86c")
)

// styles renders activity lines for one output stream.
type styles struct {
	step     lipgloss.Style
	tool     lipgloss.Style
	ok       lipgloss.Style
	failed   lipgloss.Style
	dim      lipgloss.Style
	warn     lipgloss.Style
	blocking lipgloss.Style
	suggest  lipgloss.Style
	nit      lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		step:     r.NewStyle().Foreground(colorPurple).Bold(true),
		tool:     r.NewStyle().Foreground(colorBlue).Bold(true),
		ok:       r.NewStyle().Foreground(colorGreen),
		failed:   r.NewStyle().Foreground(colorRed).Bold(true),
		dim:      r.NewStyle().Foreground(colorDim),
		warn:     r.NewStyle().Foreground(colorOrange),
		blocking: r.NewStyle().Foreground(colorRed).Bold(true),
		suggest:  r.NewStyle().Foreground(colorYellow),
		nit:      r.NewStyle().Foreground(colorDim),
	}
}

func (s styles) severity(sev model.Severity) lipgloss.Style {
	switch sev {
	case model.SeverityBlocking:
		return s.blocking
	case model.SeveritySuggestion:
		return s.suggest
	default:
		return s.nit
	}
}
