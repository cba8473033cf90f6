package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"soragen/internal/history"
	"soragen/internal/retry"
	"soragen/internal/runner"
	"soragen/internal/storage"
	"soragen/internal/video"
	"soragen/internal/webhook"
)

type retryFlags struct {
	maxAttempts  int
	pollInterval time.Duration
	pollTimeout  time.Duration
	downloadDir  string
	skipDownload bool
	useWebhook   bool
}

func bindRetryFlags(cmd *cobra.Command, flags *retryFlags) {
	cmd.Flags().IntVar(&flags.maxAttempts, "max-attempts", 0, "attempt budget before giving up (default from MAX_ATTEMPTS, 20)")
	cmd.Flags().DurationVar(&flags.pollInterval, "poll-interval", 0, "wait between status checks (default from POLL_INTERVAL_SECONDS, 15s)")
	cmd.Flags().DurationVar(&flags.pollTimeout, "poll-timeout", 0, "per-job giveup threshold (default from POLL_TIMEOUT_MINUTES, 30m)")
	cmd.Flags().StringVar(&flags.downloadDir, "download-dir", "", "directory for downloaded videos (default from DOWNLOAD_DIR)")
	cmd.Flags().BoolVar(&flags.skipDownload, "skip-download", false, "report the video URL without downloading it")
	cmd.Flags().BoolVar(&flags.useWebhook, "webhook", false, "receive completion callbacks instead of polling only (needs WEBHOOK_ADDR and WEBHOOK_BASE_URL)")
}

func (f retryFlags) apply(cmd *cobra.Command, a *app) {
	if cmd.Flags().Changed("max-attempts") {
		a.cfg.MaxAttempts = f.maxAttempts
	}
	if cmd.Flags().Changed("poll-interval") {
		a.cfg.PollInterval = f.pollInterval
	}
	if cmd.Flags().Changed("poll-timeout") {
		a.cfg.PollTimeout = f.pollTimeout
	}
	if cmd.Flags().Changed("download-dir") {
		a.cfg.DownloadDir = f.downloadDir
	}
}

func newGenerateCmd() *cobra.Command {
	var (
		flags       retryFlags
		prompt      string
		imageURL    string
		aspectRatio string
		duration    int
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one video, retrying until it passes moderation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp()
			if err != nil {
				return err
			}
			flags.apply(cmd, a)
			if cmd.Flags().Changed("aspect-ratio") {
				a.cfg.AspectRatio = aspectRatio
			}
			if cmd.Flags().Changed("duration") {
				a.cfg.Duration = duration
			}

			env, err := setupEnv(a, flags.useWebhook)
			if err != nil {
				return err
			}
			defer env.close(a)

			preflight(ctx, a)

			driver, err := env.newDriver(a)
			if err != nil {
				return err
			}

			taskID := uuid.NewString()
			req := video.Request{
				Prompt:      prompt,
				ImageURL:    imageURL,
				AspectRatio: a.cfg.AspectRatio,
				Duration:    a.cfg.Duration,
				WebhookURL:  env.webhookURL,
			}
			if env.store != nil {
				if err := env.store.StartRun(ctx, taskID, req); err != nil {
					a.logger.Warn().Err(err).Msg("failed to record run start")
				}
			}

			out, runErr := driver.Run(ctx, taskID, req)

			downloadPath := ""
			if runErr == nil && out.Outcome == video.OutcomeSucceeded && !flags.skipDownload {
				downloadPath, err = env.download(ctx, a, taskID, out.VideoURL)
				if err != nil {
					printWarning("【!】video generated but download failed: %v\n", err)
				}
			}
			if env.store != nil {
				if err := env.store.FinishRun(ctx, taskID, out, downloadPath); err != nil {
					a.logger.Warn().Err(err).Msg("failed to record run finish")
				}
			}
			return reportOutcome(out, runErr, downloadPath)
		},
	}
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "prompt text (required)")
	cmd.Flags().StringVarP(&imageURL, "image-url", "i", "", "already-hosted image URL used as conditioning input")
	cmd.Flags().StringVar(&aspectRatio, "aspect-ratio", "", `video aspect ratio, "16:9" or "9:16"`)
	cmd.Flags().IntVar(&duration, "duration", 0, "video duration in seconds, 10 or 15")
	bindRetryFlags(cmd, &flags)
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func newBatchCmd() *cobra.Command {
	var (
		flags    retryFlags
		taskFile string
		workers  int
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run every task in a YAML file with a bounded worker count",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp()
			if err != nil {
				return err
			}
			flags.apply(cmd, a)
			if cmd.Flags().Changed("workers") {
				a.cfg.BatchWorkers = workers
			}

			specs, err := runner.LoadTaskFile(taskFile)
			if err != nil {
				return err
			}

			env, err := setupEnv(a, flags.useWebhook)
			if err != nil {
				return err
			}
			defer env.close(a)

			preflight(ctx, a)

			driver, err := env.newDriver(a)
			if err != nil {
				return err
			}

			var download runner.Downloader
			if !flags.skipDownload {
				download = func(ctx context.Context, taskID, videoURL string) (string, error) {
					return env.download(ctx, a, taskID, videoURL)
				}
			}
			var store runner.RunStore
			if env.store != nil {
				store = env.store
			}

			r := runner.New(runner.Options{
				Driver:             driver,
				Logger:             &a.logger,
				Workers:            a.cfg.BatchWorkers,
				DefaultAspectRatio: a.cfg.AspectRatio,
				DefaultDuration:    a.cfg.Duration,
				WebhookURL:         env.webhookURL,
				Store:              store,
				Download:           download,
			})
			reports := r.Run(ctx, specs)

			failed := 0
			for _, rep := range reports {
				if rep.Err == nil && rep.Outcome.Outcome == video.OutcomeSucceeded {
					printSuccess("【✓】%s: %s", rep.Name, rep.Outcome.VideoURL)
					if rep.DownloadPath != "" {
						fmt.Printf(" -> %s", rep.DownloadPath)
					}
					fmt.Println()
					continue
				}
				failed++
				reason := rep.Outcome.Reason
				if reason == "" && rep.Err != nil {
					reason = rep.Err.Error()
				}
				printError("【✗】%s: %s after %d attempt(s)\n", rep.Name, reason, rep.Outcome.Attempts)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d tasks did not produce a video", failed, len(reports))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&taskFile, "file", "f", "tasks.yaml", "YAML task file")
	cmd.Flags().IntVar(&workers, "workers", 0, "maximum tasks in flight at once (default from BATCH_WORKERS, 5)")
	bindRetryFlags(cmd, &flags)
	return cmd
}

// runEnv holds the per-run collaborators shared by generate and batch.
type runEnv struct {
	store      *history.Store
	files      *storage.FileStore
	webhookSrv *webhook.Server
	webhookURL string
}

func setupEnv(a *app, useWebhook bool) (*runEnv, error) {
	env := &runEnv{}

	store, err := history.Open(a.cfg.HistoryDBPath)
	if err != nil {
		a.logger.Warn().Err(err).Str("path", a.cfg.HistoryDBPath).Msg("history disabled")
	} else {
		env.store = store
	}

	files, err := storage.NewFileStore(a.cfg.DownloadDir)
	if err != nil {
		env.close(a)
		return nil, err
	}
	env.files = files

	if useWebhook {
		if a.cfg.WebhookAddr == "" || a.cfg.WebhookBaseURL == "" {
			env.close(a)
			return nil, errors.New("webhook mode requires WEBHOOK_ADDR and WEBHOOK_BASE_URL")
		}
		srv := webhook.NewServer(a.cfg.WebhookAddr, a.logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error().Err(err).Msg("webhook server stopped")
			}
		}()
		env.webhookSrv = srv
		env.webhookURL = webhook.CallbackURL(a.cfg.WebhookBaseURL)
		a.logger.Info().Str("callback_url", env.webhookURL).Msg("webhook callbacks enabled")
	}
	return env, nil
}

func (e *runEnv) newDriver(a *app) (*retry.Driver, error) {
	opts := retry.Options{
		Generator: video.NewSora(a.client),
		Config: retry.Config{
			MaxAttempts:   a.cfg.MaxAttempts,
			PollInterval:  a.cfg.PollInterval,
			PollTimeout:   a.cfg.PollTimeout,
			RetryBaseWait: a.cfg.RetryBaseWait,
			RetryMaxWait:  a.cfg.RetryMaxWait,
		},
		Logger: &a.logger,
	}
	if e.webhookSrv != nil {
		opts.Notifier = e.webhookSrv
	}
	if e.store != nil {
		opts.Recorder = e.store
	}
	return retry.NewDriver(opts)
}

func (e *runEnv) download(ctx context.Context, a *app, taskID, videoURL string) (string, error) {
	body, _, err := a.client.DownloadVideo(ctx, videoURL)
	if err != nil {
		return "", err
	}
	defer body.Close()
	path, size, err := e.files.WriteStream(ctx, storage.VideoFilename(taskID), body)
	if err != nil {
		return "", err
	}
	a.logger.Info().Str("path", path).Int64("bytes", size).Msg("video downloaded")
	return path, nil
}

func (e *runEnv) close(a *app) {
	if e.webhookSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.webhookSrv.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("webhook shutdown failed")
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("history close failed")
		}
	}
}

// preflight warns about conditions that doom every attempt before quota is
// spent on them. Failures here never block the run.
func preflight(ctx context.Context, a *app) {
	credits, err := a.client.Credits(ctx)
	switch {
	case err != nil:
		a.logger.Warn().Err(err).Msg("could not check credit balance")
	case credits <= 0:
		printWarning("【!】credit balance is %d; generations will likely be refused\n", credits)
	default:
		a.logger.Info().Int("credits", credits).Msg("credit balance")
	}

	up, err := a.client.ModelStatus(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("could not check model status")
	} else if !up {
		printWarning("【!】model %s is reported unavailable; attempts may fail\n", a.client.Model())
	}
}

func reportOutcome(out retry.FinalOutcome, runErr error, downloadPath string) error {
	switch {
	case runErr == nil && out.Outcome == video.OutcomeSucceeded:
		printSuccess("【✓】video passed moderation after %d attempt(s)\n", out.Attempts)
		fmt.Println(out.VideoURL)
		if downloadPath != "" {
			printSuccess("【✓】saved to %s\n", downloadPath)
		}
		return nil
	case errors.Is(runErr, retry.ErrBudgetExhausted):
		if out.Outcome == video.OutcomeRejectedByModeration {
			return fmt.Errorf("all %d attempts were rejected by moderation (%s); this input looks fundamentally unacceptable, change the image or prompt instead of retrying", out.Attempts, out.Reason)
		}
		return fmt.Errorf("all %d attempts failed (last: %s); change the image or prompt, or try again later", out.Attempts, out.Reason)
	default:
		return runErr
	}
}
