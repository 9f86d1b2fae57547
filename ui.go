package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/RWKV-APP/app-website/releasenotes"
	"github.com/RWKV-APP/app-website/site"
)

var (
	colorCyan   = lipgloss.Color("36")
	colorGreen  = lipgloss.Color("35")
	colorYellow = lipgloss.Color("220")
	colorRed    = lipgloss.Color("167")
	colorDim    = lipgloss.Color("240")

	styleTitle  = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleHeader = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	styleCell   = lipgloss.NewStyle().Padding(0, 1)
	styleDim    = lipgloss.NewStyle().Foreground(colorDim)
)

func outcomeStyle(o site.Outcome) lipgloss.Style {
	switch o {
	case site.Found:
		return styleCell.Foreground(colorGreen)
	case site.Failed:
		return styleCell.Foreground(colorRed)
	case site.Skipped:
		return styleCell.Foreground(colorYellow)
	default:
		return styleCell.Foreground(colorDim)
	}
}

func renderReport(r site.Report) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styleDim).
		Headers("TYPE", "OUTCOME", "FOUND", "NEW", "UPDATED", "TIME", "SOURCE", "REASON")

	outcomes := make([]site.Outcome, len(r.Types))
	for i, tr := range r.Types {
		outcomes[i] = tr.Outcome
		t.Row(
			string(tr.Type),
			string(tr.Outcome),
			strconv.Itoa(tr.Found),
			strconv.Itoa(tr.Inserted),
			strconv.Itoa(tr.Updated),
			tr.Duration.Round(time.Millisecond).String(),
			truncate(tr.Source, 48),
			truncate(tr.Reason, 60),
		)
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return styleHeader
		}
		if col == 1 && row >= 0 && row < len(outcomes) {
			return outcomeStyle(outcomes[row])
		}
		return styleCell
	})

	title := styleTitle.Render("Refresh " + r.ID)
	took := styleDim.Render(r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String())
	return title + " " + took + "\n" + t.Render()
}

func renderLatest(types []site.Type, latest map[site.Type]*site.Record) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styleDim).
		Headers("TYPE", "VERSION", "BUILD", "UPDATED", "URL")

	for _, typ := range types {
		rec := latest[typ]
		if rec == nil {
			t.Row(string(typ), "-", "-", "-", "-")
			continue
		}
		build := "-"
		if rec.Build != nil {
			build = strconv.Itoa(*rec.Build)
		}
		t.Row(string(typ), rec.Version, build, rec.UpdatedAt.Local().Format(time.DateTime), rec.URL)
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return styleHeader
		}
		return styleCell
	})
	return t.Render()
}

func renderNote(n *releasenotes.Note) string {
	header := fmt.Sprintf("Build %d", n.Build)
	if n.Version != nil {
		header += " · " + *n.Version
	}
	return styleTitle.Render(header) + "\n\n" + n.Content
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n-1]) + "…"
}
