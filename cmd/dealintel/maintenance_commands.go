package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/dealintel/internal/hermes"
	"github.com/MikeSquared-Agency/dealintel/internal/processor"
	"github.com/MikeSquared-Agency/dealintel/internal/store"
)

func openStore(ctx context.Context, cc *commandContext) (*store.Store, error) {
	if cc.cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	return store.New(ctx, cc.cfg.DatabaseURL)
}

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openStore(cmd.Context(), ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			ctx.logger.Info("schema applied")
			return nil
		},
	}
}

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete finished requests and their reports past the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan == 0 {
				olderThan = time.Duration(ctx.cfg.RetentionDays) * 24 * time.Hour
			}
			db, err := openStore(cmd.Context(), ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			proc := processor.New(processor.Deps{Repo: db, Logger: ctx.logger}, processor.Options{})
			n, err := proc.Purge(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d requests\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Retention window (default RETENTION_DAYS)")
	return cmd
}

// newEventsCommand tails terminal analysis events as JSON lines.
func newEventsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Print analysis completed/failed events as they are published",
		RunE: func(cmd *cobra.Command, _ []string) error {
			hc, err := hermes.NewClient(cmd.Context(), ctx.cfg.NatsURL, ctx.cfg.NatsToken, ctx.logger)
			if err != nil {
				return err
			}
			defer hc.Close()

			out := cmd.OutOrStdout()
			if err := hc.Subscribe(hermes.SubjectAnalysisAll, func(_ string, data []byte) {
				fmt.Fprintln(out, string(data))
			}); err != nil {
				return err
			}
			<-cmd.Context().Done()
			fmt.Fprintln(os.Stderr, "stopped")
			return nil
		},
	}
}
