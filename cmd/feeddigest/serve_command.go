package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notifyhub/feeddigest/internal/api"
	"github.com/notifyhub/feeddigest/internal/config"
	"github.com/notifyhub/feeddigest/internal/db"
	"github.com/notifyhub/feeddigest/internal/metrics"
	"github.com/notifyhub/feeddigest/internal/pipeline"
	"github.com/notifyhub/feeddigest/internal/provider"
	"github.com/notifyhub/feeddigest/internal/ratelimiter"
	"github.com/notifyhub/feeddigest/internal/retry"
	"github.com/notifyhub/feeddigest/internal/service"
	"github.com/notifyhub/feeddigest/internal/worker"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the poller and the dispatcher",
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
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Two dispatchers popping the same queues would deliver items twice.
	if err := os.MkdirAll(filepath.Dir(cfg.LockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(cfg.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", cfg.LockPath, err)
	}
	if !locked {
		return fmt.Errorf("another feeddigest instance holds %s", cfg.LockPath)
	}
	defer lock.Unlock() //nolint:errcheck

	// ---- database ----
	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	s, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	runner := newPipeline(cfg, logger)
	notifier := provider.NewTelegramNotifier(cfg.TelegramBaseURL, cfg.TelegramToken, cfg.NotifyTimeout)
	limiter := ratelimiter.New(cfg.NotifyRate, cfg.NotifyRatePerRecipient)
	svc := service.NewRegistrationService(s.repo, s.queue, logger)

	// ---- worker loops ----
	// Context for both loops; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()

	onEnqueued, onSourceFailed, onPass := m.PollHooks()
	poller := worker.NewPoller(s.repo, s.queue, newFetcher(cfg), pollerOptions(cfg), worker.PollHooks{
		OnEnqueued:     onEnqueued,
		OnSourceFailed: onSourceFailed,
		OnPass:         onPass,
	}, logger.Named("poller"))

	onItem, onWatermark, onDepths := m.DispatchHooks()
	dispatcher := worker.NewDispatcher(s.repo, s.queue, runner, notifier, limiter, worker.DispatcherOptions{
		IdleShort: cfg.IdleShort,
		IdleLong:  cfg.IdleLong,
		Notify:    retry.Policy{Retries: cfg.NotifyRetries, Delay: cfg.NotifyRetryDelay},
	}, worker.DispatchHooks{
		OnItem:      onItem,
		OnWatermark: onWatermark,
		OnDepths:    onDepths,
	}, logger.Named("dispatcher"))

	group := worker.NewGroup(poller, dispatcher)
	group.Start(workerCtx)

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(svc, s.checks, reg, logger.Named("http")),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ---- graceful shutdown ----
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			runErr = err
		}
	}

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop both loops; no new pops or fetches start.
	cancelWorkers()

	// 3. Wait for the in-flight item to finish.
	group.Wait()

	logger.Info("server stopped cleanly")
	return runErr
}

// newPipeline wires the content steps: yt-dlp subtitles with an optional
// transcription fallback, the LLM editor and summarizer, and telegra.ph.
func newPipeline(cfg *config.Config, logger *zap.Logger) *pipeline.Runner {
	var opts []pipeline.YtDlpOption
	if cfg.TranscribeURL != "" {
		opts = append(opts, pipeline.WithTranscriber(
			pipeline.NewWhisperTranscriber(cfg.TranscribeURL, cfg.LLMAPIKey, cfg.TranscribeModel, cfg.LLMTimeout),
		))
	}
	retriever := pipeline.NewYtDlpRetriever(cfg.YtDlpPath, cfg.SubtitleLangs, cfg.WorkDir, logger.Named("ytdlp"), opts...)
	llm := pipeline.NewLLMClient(pipeline.LLMConfig{
		APIKey:  cfg.LLMAPIKey,
		BaseURL: cfg.LLMBaseURL,
		Model:   cfg.LLMModel,
		Timeout: cfg.LLMTimeout,
	})
	publisher := pipeline.NewTelegraphPublisher(cfg.TelegraphBaseURL, cfg.TelegraphToken, cfg.NotifyTimeout)

	return pipeline.NewRunner(retriever, llm, llm, publisher,
		retry.Policy{Retries: cfg.PipelineRetries, Delay: cfg.PipelineRetryDelay},
		logger.Named("pipeline"))
}
