package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/dealintel/internal/processor"
	"github.com/MikeSquared-Agency/dealintel/internal/store"
)

// newTeamReportCommand prints aggregate activity for a set of reps.
func newTeamReportCommand(ctx *commandContext) *cobra.Command {
	var reps []string
	var days int
	var format string
	cmd := &cobra.Command{
		Use:   "team-report",
		Short: "Summarize recent call activity for one or more reps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch format {
			case "auto", "json", "table":
			default:
				return fmt.Errorf("unknown --format %q", format)
			}
			db, err := openStore(cmd.Context(), ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			proc := processor.New(processor.Deps{Repo: db, Logger: ctx.logger}, processor.Options{})
			sum, err := proc.Summary(cmd.Context(), reps, days)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "table" || (format == "auto" && isTerminal(out)) {
				_, err := fmt.Fprint(out, renderSummary(sum))
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		},
	}
	cmd.Flags().StringSliceVar(&reps, "rep", nil, "Rep ids to include (repeat or comma separate)")
	cmd.Flags().IntVar(&days, "days", processor.DefaultSummaryDays, "Days of activity to cover")
	cmd.Flags().StringVar(&format, "format", "auto", "Output format: auto, json or table (auto uses table on a terminal)")
	_ = cmd.MarkFlagRequired("rep")
	return cmd
}

func renderSummary(sum *store.Summary) string {
	var sb strings.Builder

	avg := notAvailable
	if sum.AvgDealScore != nil {
		avg = strconv.FormatFloat(*sum.AvgDealScore, 'f', 1, 64)
	}
	metrics := [][]string{
		{"Reps", strings.Join(sum.RepIDs, ", ")},
		{"Since", sum.Since.Format("2006-01-02")},
		{"Calls submitted", strconv.Itoa(sum.Submitted)},
		{"Calls analyzed", strconv.Itoa(sum.Analyzed)},
		{"Calls failed", strconv.Itoa(sum.Failed)},
		{"Avg deal score", avg},
		{"High score calls", strconv.Itoa(sum.HighScoreCalls)},
		{"At risk calls", strconv.Itoa(sum.AtRiskCalls)},
		{"Objections", strconv.Itoa(sum.TotalObjections)},
	}
	sb.WriteString(renderTable([]string{"Metric", "Value"}, metrics, []columnAlignment{alignLeft, alignRight}))
	sb.WriteString("\n")

	if len(sum.TopObjections) > 0 {
		rows := make([][]string, 0, len(sum.TopObjections))
		for _, c := range sum.TopObjections {
			rows = append(rows, []string{c.Category, strconv.Itoa(c.Count)})
		}
		sb.WriteString("\n")
		sb.WriteString(renderTable([]string{"Top objection", "Calls"}, rows, []columnAlignment{alignLeft, alignRight}))
		sb.WriteString("\n")
	}

	if len(sum.CoachingOpportunities) > 0 {
		sb.WriteString("\nCoaching opportunities:\n")
		for _, c := range sum.CoachingOpportunities {
			sb.WriteString("  - " + c + "\n")
		}
	}
	return sb.String()
}
