package main

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

var (
	colorOK     = lipgloss.Color("#2CD7C7")
	colorFail   = lipgloss.Color("#E74C3C")
	colorBorder = lipgloss.Color("#16858E")
)

// output renders styled text for one writer. Styles only emit escape codes
// when the writer is a terminal.
type output struct {
	terminal bool
	ok       lipgloss.Style
	fail     lipgloss.Style
	header   lipgloss.Style
	cell     lipgloss.Style
	border   lipgloss.Style
}

func newOutput(w io.Writer) *output {
	r := lipgloss.NewRenderer(w)
	return &output{
		terminal: isTerminal(w),
		ok:       r.NewStyle().Foreground(colorOK),
		fail:     r.NewStyle().Foreground(colorFail),
		header:   r.NewStyle().Bold(true).Padding(0, 1),
		cell:     r.NewStyle().Padding(0, 1),
		border:   r.NewStyle().Foreground(colorBorder),
	}
}

// verdict picks yes or no and colours it on terminals.
func (o *output) verdict(ok bool, yes, no string) string {
	word, style := no, o.fail
	if ok {
		word, style = yes, o.ok
	}
	if !o.terminal {
		return word
	}
	return style.Render(word)
}

func (o *output) table(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(o.border).
		BorderColumn(false).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return o.header
			}
			return o.cell
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

func (a *app) verdict(ok bool, yes, no string) string {
	return a.out.verdict(ok, yes, no)
}

// printTable writes rows under headers as a bordered table.
func (a *app) printTable(headers []string, rows [][]string) {
	a.printf("%s\n", a.out.table(headers, rows))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
