package commands

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/openfroyo/nixser/pkg/stores"
)

// styles renders status words for one writer. Colours are dropped when the
// writer is not a terminal.
type styles struct {
	ok     lipgloss.Style
	warn   lipgloss.Style
	fail   lipgloss.Style
	muted  lipgloss.Style
	header lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		ok:     r.NewStyle().Foreground(lipgloss.Color("#90EE90")).Bold(true),
		warn:   r.NewStyle().Foreground(lipgloss.Color("#FFD866")).Bold(true),
		fail:   r.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
		muted:  r.NewStyle().Foreground(lipgloss.Color("#666666")),
		header: r.NewStyle().Bold(true).Padding(0, 1),
	}
}

// newTable returns a borderless table with a bold header row.
func (s styles) newTable(headers ...string) *table.Table {
	cell := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderColumn(false).
		BorderHeader(false).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return s.header
			}
			return cell
		})
}

func (s styles) status(status stores.RenderStatus) string {
	switch status {
	case stores.RenderStatusSucceeded:
		return s.ok.Render(string(status))
	case stores.RenderStatusDenied:
		return s.warn.Render(string(status))
	default:
		return s.fail.Render(string(status))
	}
}
