package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/dealintel/internal/apperr"
	"github.com/MikeSquared-Agency/dealintel/internal/cache"
	"github.com/MikeSquared-Agency/dealintel/internal/processor"
	"github.com/MikeSquared-Agency/dealintel/internal/store"
	"github.com/MikeSquared-Agency/dealintel/internal/transcript"
	"github.com/MikeSquared-Agency/dealintel/internal/usage"
)

// newAnalyzeCommand runs one transcript through the full pipeline in
// process, without Postgres, Redis or NATS.
func newAnalyzeCommand(ctx *commandContext) *cobra.Command {
	var analyzers []string
	var company, format string
	cmd := &cobra.Command{
		Use:   "analyze FILE",
		Short: "Analyze a transcript file locally and print the report (use - for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "auto", "json", "table":
			default:
				return fmt.Errorf("unknown --format %q", format)
			}
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			repo := store.NewMemory()
			proc := processor.New(processor.Deps{
				Repo:       repo,
				Cache:      cache.NewMemory(),
				Locker:     cache.NewLocalLocker(),
				Limiter:    usage.NewLimiter(repo, usage.Quotas{usage.TierBusiness: 1}, false, ctx.logger),
				Analyzers:  buildAnalyzers(ctx.cfg, ctx.profile, ctx.logger),
				Normalizer: transcript.NewNormalizer(ctx.cfg.MaxTranscriptLength),
				Logger:     ctx.logger,
			}, processorOptions(ctx.cfg, ctx.profile))

			runCtx := cmd.Context()
			sub, err := proc.Submit(runCtx, processor.SubmitInput{
				RepID:      "local",
				Tier:       string(usage.TierBusiness),
				Transcript: raw,
				Metadata:   store.Metadata{ProspectCompany: company},
				Analyzers:  analyzers,
			})
			if err != nil {
				return err
			}
			if err := proc.Execute(runCtx, sub.RequestID); err != nil {
				return err
			}
			st, err := proc.Poll(runCtx, sub.RequestID)
			if err != nil {
				return err
			}
			if st.State != store.StateCompleted {
				return apperr.New(apperr.Kind(st.ErrorKind), "analysis %s: %s", st.State, st.ErrorMessage)
			}

			out := cmd.OutOrStdout()
			if format == "table" || (format == "auto" && isTerminal(out)) {
				_, err := fmt.Fprint(out, renderReport(st.Report))
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(st.Report)
		},
	}
	cmd.Flags().StringSliceVar(&analyzers, "analyzers", nil, "Analyzers to run (objections,intent,deal_score,entities); default all")
	cmd.Flags().StringVar(&company, "company", "", "Prospect company recorded with the request")
	cmd.Flags().StringVar(&format, "format", "auto", "Output format: auto, json or table (auto uses table on a terminal)")
	return cmd
}

func readInput(stdin io.Reader, path string) (string, error) {
	if strings.TrimSpace(path) == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return string(b), nil
}
