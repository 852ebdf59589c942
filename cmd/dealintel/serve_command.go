package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/dealintel/internal/api"
	"github.com/MikeSquared-Agency/dealintel/internal/apperr"
	"github.com/MikeSquared-Agency/dealintel/internal/hermes"
	"github.com/MikeSquared-Agency/dealintel/internal/processor"
	"github.com/MikeSquared-Agency/dealintel/internal/slack"
)

const shutdownGrace = 15 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	var withWorker, migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the submission API (optionally with an in-process worker)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runCtx := cmd.Context()
			inf, err := openInfra(runCtx, ctx.cfg, ctx.logger)
			if err != nil {
				return err
			}
			defer inf.close()

			if migrate {
				if err := inf.db.Migrate(runCtx); err != nil {
					return err
				}
			}

			proc, err := newProcessor(ctx.cfg, ctx.profile, inf, ctx.logger)
			if err != nil {
				return err
			}

			srv := api.NewServer(ctx.cfg.Port, proc, ctx.logger, inf.checks())
			hub := api.NewEventHub(ctx.logger)
			// Every replica relays every event; clients may be attached to any of them.
			if err := inf.hermes.Subscribe(hermes.SubjectAnalysisAll, hub.HandleEvent); err != nil {
				return err
			}
			srv.MountEvents(hub)

			g, gctx := errgroup.WithContext(runCtx)
			g.Go(srv.Start)
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if withWorker {
				startWorker(gctx, g, ctx, inf, proc)
			}

			ctx.logger.Info("dealintel ready", "port", ctx.cfg.Port, "worker", withWorker)
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "Also consume analysis tasks in this process")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply the database schema before starting")
	return cmd
}

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume analysis tasks and run the stale-request reaper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			runCtx := cmd.Context()
			inf, err := openInfra(runCtx, ctx.cfg, ctx.logger)
			if err != nil {
				return err
			}
			defer inf.close()

			proc, err := newProcessor(ctx.cfg, ctx.profile, inf, ctx.logger)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(runCtx)
			startWorker(gctx, g, ctx, inf, proc)
			ctx.logger.Info("worker ready", "worker_id", proc.WorkerID(), "concurrency", ctx.cfg.WorkerConcurrency)
			return g.Wait()
		},
	}
}

// startWorker adds the task consumer and the reaper to g.
func startWorker(gctx context.Context, g *errgroup.Group, ctx *commandContext, inf *infra, proc *processor.Processor) {
	// Tasks outlive a full processing budget before JetStream redelivers them.
	ackWait := ctx.cfg.LeaseTTL + 30*time.Second
	g.Go(func() error {
		return inf.queue.Consume(gctx, "dealintel-workers", ctx.cfg.WorkerConcurrency, ackWait, apperr.Retryable, proc.HandleTask)
	})
	g.Go(func() error {
		proc.RunReaper(gctx, ctx.cfg.ReaperInterval)
		return nil
	})

	if ctx.cfg.SlackBotToken != "" && ctx.cfg.SlackChannel != "" {
		poster := slack.NewPoster(ctx.cfg.SlackBotToken, ctx.cfg.SlackChannel, ctx.logger)
		if err := inf.hermes.QueueSubscribe(hermes.SubjectAnalysisCompleted, "dealintel-alerts", poster.HandleEvent); err != nil {
			ctx.logger.Error("deal alerts disabled", "error", err)
		}
	}
}
