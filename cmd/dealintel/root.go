package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/dealintel/internal/config"
)

// commandContext carries the resolved configuration into subcommands.
type commandContext struct {
	cfg     config.Config
	profile config.Profile
	logger  *slog.Logger
}

func newRootCommand() *cobra.Command {
	var profileFlag string
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "dealintel",
		Short:         "Sales call analysis service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			ctx.cfg = config.Load()
			if profileFlag != "" {
				ctx.cfg.ScoringProfile = profileFlag
			}
			ctx.logger = setupLogging(ctx.cfg.LogLevel)

			profile, err := config.LoadProfile(ctx.cfg.ScoringProfile)
			if err != nil {
				return err
			}
			ctx.profile = profile
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "Scoring profile TOML file (overrides SCORING_PROFILE)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newWorkerCommand(ctx))
	rootCmd.AddCommand(newAnalyzeCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newPurgeCommand(ctx))
	rootCmd.AddCommand(newTeamReportCommand(ctx))
	rootCmd.AddCommand(newEventsCommand(ctx))

	return rootCmd
}
