package cmd

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// table renders left-aligned columns. The last column is truncated to the
// terminal width.
type table struct {
	header []string
	rows   [][]string
	styles []func(string) lipgloss.Style // per column, may be nil
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) render(w io.Writer, width int) {
	widths := make([]int, len(t.header))
	for i, h := range t.header {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if cw := runewidth.StringWidth(cell); cw > widths[i] {
				widths[i] = cw
			}
		}
	}

	last := len(widths) - 1
	used := 0
	for i := 0; i < last; i++ {
		used += widths[i] + 2
	}
	if avail := width - used; avail >= 10 && widths[last] > avail {
		widths[last] = avail
	}

	line := func(cells []string, header bool) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			cell = runewidth.Truncate(cell, widths[i], "…")
			if i < last {
				cell = runewidth.FillRight(cell, widths[i])
			}
			switch {
			case header:
				cell = styleBold.Render(cell)
			case i < len(t.styles) && t.styles[i] != nil:
				cell = t.styles[i](strings.TrimSpace(cell)).Render(cell)
			}
			parts[i] = cell
		}
		return strings.Join(parts, "  ")
	}

	_, _ = io.WriteString(w, line(t.header, true)+"\n")
	for _, row := range t.rows {
		_, _ = io.WriteString(w, line(row, false)+"\n")
	}
}
