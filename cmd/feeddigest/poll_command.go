package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notifyhub/feeddigest/internal/config"
	"github.com/notifyhub/feeddigest/internal/feed"
	"github.com/notifyhub/feeddigest/internal/retry"
	"github.com/notifyhub/feeddigest/internal/worker"
)

func newPollCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run a single discovery pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			s, err := openStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			poller := worker.NewPoller(s.repo, s.queue, newFetcher(cfg), pollerOptions(cfg), worker.PollHooks{}, logger)
			stats, err := poller.PollOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sources=%d failed=%d enqueued=%d duration=%s\n",
				stats.Sources, stats.Failed, stats.Enqueued, stats.Duration)
			return nil
		},
	}
}

func newFetcher(cfg *config.Config) feed.Fetcher {
	return feed.NewHTTPFetcher(cfg.FeedBaseURL, cfg.FetchTimeout)
}

func pollerOptions(cfg *config.Config) worker.PollerOptions {
	return worker.PollerOptions{
		Interval:             cfg.PollInterval,
		Lookback:             cfg.Lookback,
		Fetch:                retry.Policy{Retries: cfg.FetchRetries, Delay: cfg.FetchRetryDelay},
		DevMode:              cfg.DevMode,
		DevMaxItemsPerSource: cfg.DevMaxItemsPerSource,
	}
}
