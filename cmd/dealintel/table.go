package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/MikeSquared-Agency/dealintel/internal/report"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Header = text.FormatDefault

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

const notAvailable = "n/a"

func orNotAvailable(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}

// renderReport is the human-readable summary of a report.
func renderReport(rep *report.InsightReport) string {
	var sb strings.Builder

	score := notAvailable
	if rep.DealScore != nil {
		score = strconv.Itoa(*rep.DealScore)
	}
	summary := [][]string{
		{"Deal score", score},
		{"Risk", orNotAvailable(string(rep.RiskLevel))},
		{"Intent", orNotAvailable(strings.ReplaceAll(string(rep.IntentClassification), "_", " "))},
		{"Rep talk", fmt.Sprintf("%.1f%%", rep.TalkRatio.RepPercentage)},
		{"Prospect talk", fmt.Sprintf("%.1f%%", rep.TalkRatio.ProspectPercentage)},
		{"Confidence", fmt.Sprintf("%.2f", rep.ConfidenceScore)},
	}
	if len(rep.DegradedAnalyzers) > 0 {
		names := make([]string, len(rep.DegradedAnalyzers))
		for i, k := range rep.DegradedAnalyzers {
			names[i] = string(k)
		}
		summary = append(summary, []string{"Degraded", strings.Join(names, ", ")})
	}
	sb.WriteString(renderTable([]string{"Metric", "Value"}, summary, []columnAlignment{alignLeft, alignRight}))
	sb.WriteString("\n")

	if len(rep.DetectedObjections) > 0 {
		rows := make([][]string, 0, len(rep.DetectedObjections))
		for _, o := range rep.DetectedObjections {
			rows = append(rows, []string{string(o.Category), strconv.FormatBool(o.Resolved), o.Text})
		}
		sb.WriteString("\n")
		sb.WriteString(renderTable([]string{"Objection", "Resolved", "Quote"}, rows, nil))
		sb.WriteString("\n")
	}

	if len(rep.NextBestActions) > 0 {
		rows := make([][]string, 0, len(rep.NextBestActions))
		for _, a := range rep.NextBestActions {
			rows = append(rows, []string{string(a.Priority), a.Action, a.DueDate})
		}
		sb.WriteString("\n")
		sb.WriteString(renderTable([]string{"Priority", "Next action", "Due"}, rows, nil))
		sb.WriteString("\n")
	}
	return sb.String()
}
