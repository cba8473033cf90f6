// Package runner fans a batch of tasks out over a bounded worker count.
// Each task keeps its own strictly sequential submit/poll/retry loop; the
// fan-out is across distinct tasks only, and the shared client rate limiter
// keeps aggregate request spacing within the provider's limits.
package runner

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"soragen/internal/infra"
	"soragen/internal/retry"
	"soragen/internal/video"
)

// RunStore records run lifecycles; the history store implements it.
type RunStore interface {
	StartRun(ctx context.Context, id string, req video.Request) error
	FinishRun(ctx context.Context, id string, out retry.FinalOutcome, downloadPath string) error
}

// Downloader fetches a succeeded video and returns the local path.
type Downloader func(ctx context.Context, taskID, videoURL string) (string, error)

// Report is the per-task verdict of a batch run.
type Report struct {
	TaskID       string
	Name         string
	Outcome      retry.FinalOutcome
	DownloadPath string
	Err          error
}

// Options configures a Runner.
type Options struct {
	Driver  *retry.Driver
	Logger  *infra.Logger
	Workers int
	// Defaults applied to specs that leave aspect ratio or duration unset.
	DefaultAspectRatio string
	DefaultDuration    int
	// WebhookURL, when set, is attached to every request.
	WebhookURL string
	Store      RunStore   // optional
	Download   Downloader // optional
}

// Runner executes batches of generation tasks.
type Runner struct {
	opts   Options
	logger infra.Logger
}

func New(opts Options) *Runner {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Runner{opts: opts, logger: logger}
}

// Run executes all specs and returns one report per spec, in spec order. A
// task that exhausts its budget does not abort its siblings; only context
// cancellation stops the batch early.
func (r *Runner) Run(ctx context.Context, specs []TaskSpec) []Report {
	reports := make([]Report, len(specs))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for i, spec := range specs {
		g.Go(func() error {
			rep := r.runOne(ctx, spec)
			mu.Lock()
			reports[i] = rep
			mu.Unlock()
			return ctx.Err()
		})
	}
	// The only group error is context cancellation; partial reports are
	// still worth returning.
	_ = g.Wait()
	return reports
}

func (r *Runner) runOne(ctx context.Context, spec TaskSpec) Report {
	taskID := uuid.NewString()
	rep := Report{TaskID: taskID, Name: spec.Name}

	req := video.Request{
		Prompt:      spec.Prompt,
		ImageURL:    spec.ImageURL,
		AspectRatio: spec.AspectRatio,
		Duration:    spec.Duration,
		WebhookURL:  r.opts.WebhookURL,
	}
	if req.AspectRatio == "" {
		req.AspectRatio = r.opts.DefaultAspectRatio
	}
	if req.Duration <= 0 {
		req.Duration = r.opts.DefaultDuration
	}

	if r.opts.Store != nil {
		if err := r.opts.Store.StartRun(ctx, taskID, req); err != nil {
			r.logger.Warn().Err(err).Str("task", spec.Name).Msg("runner: failed to record run start")
		}
	}

	r.logger.Info().Str("task", spec.Name).Str("task_id", taskID).Msg("runner: task started")
	out, err := r.opts.Driver.Run(ctx, taskID, req)
	rep.Outcome = out
	rep.Err = err

	if err == nil && out.Outcome == video.OutcomeSucceeded && r.opts.Download != nil {
		path, derr := r.opts.Download(ctx, taskID, out.VideoURL)
		if derr != nil {
			r.logger.Error().Err(derr).Str("task", spec.Name).Msg("runner: download failed")
			rep.Err = derr
		} else {
			rep.DownloadPath = path
		}
	}

	if r.opts.Store != nil {
		if serr := r.opts.Store.FinishRun(ctx, taskID, out, rep.DownloadPath); serr != nil {
			r.logger.Warn().Err(serr).Str("task", spec.Name).Msg("runner: failed to record run finish")
		}
	}
	return rep
}
