// Package render prints cycle reports as console tables.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/Alias1177/VolumeSpike/internal/engine"
	"github.com/Alias1177/VolumeSpike/models"
)

var (
	subtle  = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	special = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	alarm   = lipgloss.AdaptiveColor{Light: "#E4572E", Dark: "#FF7A59"}

	titleStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)

	headerCell = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell       = lipgloss.NewStyle().Padding(0, 1)
	spikeCell  = cell.Foreground(alarm)

	warnStyle   = lipgloss.NewStyle().Foreground(alarm)
	bannerStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1)
	infoStyle   = lipgloss.NewStyle().Foreground(special)
)

var columns = []string{"Time", "Bucket", "Open", "High", "Low", "Close", "Volume", "Spike Δ", "Strength", "Sentiment"}

// Report renders every instrument table followed by the banner and warnings
func Report(r *models.Report) string {
	var b strings.Builder

	for _, ir := range r.Instruments {
		b.WriteString(Instrument(ir))
		b.WriteString("\n")
	}

	b.WriteString(Banner(r))
	b.WriteString("\n")

	for _, w := range r.Warnings {
		b.WriteString(warnStyle.Render("⚠ " + w))
		b.WriteString("\n")
	}
	return b.String()
}

// Instrument renders the rows of one instrument
func Instrument(ir models.InstrumentReport) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s — Last %d × 15-min candles", ir.Name, len(ir.Rows))))
	b.WriteString("\n")

	rows := ir.Rows
	t := table.New().
		Headers(columns...).
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(subtle)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCell
			}
			if row >= 0 && row < len(rows) && rows[row].IsSpike {
				return spikeCell
			}
			return cell
		})

	for _, row := range rows {
		t.Row(Cells(row)...)
	}
	b.WriteString(t.Render())
	b.WriteString("\n")

	for _, w := range ir.Warnings {
		b.WriteString(warnStyle.Render("⚠ " + w))
		b.WriteString("\n")
	}
	return b.String()
}

// Cells formats a row in column order
func Cells(row models.Row) []string {
	delta := ""
	if row.IsSpike {
		delta = fmt.Sprintf("🔺%d", row.SpikeDelta)
	}
	return []string{
		row.LocalTime,
		row.Bucket,
		row.Open,
		row.High,
		row.Low,
		row.Close,
		fmt.Sprintf("%d", row.Volume),
		delta,
		row.StrengthBars,
		row.SentimentMarker,
	}
}

// Banner is the consolidated alert text or the no-spike notice
func Banner(r *models.Report) string {
	if !r.HasSpikes() {
		return infoStyle.Render(engine.NoSpikesText)
	}
	return bannerStyle.Render(r.Message)
}
