// Package retry drives one video generation task to a terminal verdict:
// submit, poll until terminal, classify, and resubmit the identical request
// while the attempt budget allows. Moderation rejection is probabilistic per
// attempt for a borderline input; repetition amortizes that probability, and
// the hard cap keeps a fundamentally unacceptable input from burning quota.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"soragen/internal/infra"
	"soragen/internal/video"
)

// ErrBudgetExhausted reports that every allowed attempt ended in rejection or
// failure. Callers should change the image or prompt instead of retrying.
var ErrBudgetExhausted = errors.New("retry: attempt budget exhausted")

// Config tunes the retry loop.
type Config struct {
	// MaxAttempts caps submit/poll cycles for one task. Default 20.
	MaxAttempts int
	// PollInterval is the wait between status checks. Default 15s, a floor
	// the provider asks clients to respect.
	PollInterval time.Duration
	// PollTimeout is the per-job giveup threshold; a job still pending at
	// this point counts as a failed attempt. Default 30m.
	PollTimeout time.Duration
	// RetryBaseWait seeds the capped exponential backoff between attempts.
	RetryBaseWait time.Duration
	RetryMaxWait  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 20
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 30 * time.Minute
	}
	if c.RetryBaseWait <= 0 {
		c.RetryBaseWait = 2 * time.Second
	}
	if c.RetryMaxWait <= 0 {
		c.RetryMaxWait = 60 * time.Second
	}
	return c
}

// Notifier delivers provider push callbacks for a job so the driver can
// resolve an attempt without waiting for the next poll tick.
type Notifier interface {
	// Subscribe registers interest in a job and returns the delivery channel
	// plus a cancel func that must be called once the job is settled.
	Subscribe(jobID string) (<-chan video.Result, func())
}

// Attempt is the record of one submit/poll cycle.
type Attempt struct {
	Number     int
	JobID      string
	Outcome    video.Outcome
	VideoURL   string
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Recorder persists attempt records. Recording failures are logged, never
// fatal to the run.
type Recorder interface {
	RecordAttempt(ctx context.Context, taskID string, att Attempt) error
}

// FinalOutcome is the verdict for a whole run.
type FinalOutcome struct {
	Outcome  video.Outcome
	VideoURL string
	Reason   string
	Attempts int
}

// Options configures a Driver.
type Options struct {
	Generator video.Generator
	Config    Config
	Logger    *infra.Logger
	Notifier  Notifier
	Recorder  Recorder
}

// Driver owns the retry loop. One job is in flight at a time for a given
// run; concurrency across distinct tasks is the caller's business.
type Driver struct {
	gen      video.Generator
	cfg      Config
	logger   infra.Logger
	notifier Notifier
	recorder Recorder
}

func NewDriver(opts Options) (*Driver, error) {
	if opts.Generator == nil {
		return nil, errors.New("retry: generator is required")
	}
	logger := zerolog.New(io.Discard)
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Driver{
		gen:      opts.Generator,
		cfg:      opts.Config.withDefaults(),
		logger:   logger,
		notifier: opts.Notifier,
		recorder: opts.Recorder,
	}, nil
}

// Run performs submit → poll-until-terminal → classify cycles until the task
// succeeds or the attempt budget is spent. The request never changes across
// attempts. On exhaustion the last terminal result is returned together with
// ErrBudgetExhausted.
func (d *Driver) Run(ctx context.Context, taskID string, req video.Request) (FinalOutcome, error) {
	var last video.Result
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		res, err := d.runAttempt(ctx, taskID, attempt, req)
		if err != nil {
			if ctx.Err() != nil {
				return FinalOutcome{Outcome: video.OutcomeFailed, Reason: ctx.Err().Error(), Attempts: attempt}, ctx.Err()
			}
			// Transport and decode errors consume the attempt like any
			// other failure.
			res = video.Result{Outcome: video.OutcomeFailed, Reason: err.Error()}
		}
		last = res

		if res.Outcome == video.OutcomeSucceeded {
			d.logger.Info().
				Str("task_id", taskID).
				Int("attempt", attempt).
				Str("video_url", res.VideoURL).
				Msg("retry: task succeeded")
			return FinalOutcome{Outcome: video.OutcomeSucceeded, VideoURL: res.VideoURL, Attempts: attempt}, nil
		}

		d.logger.Warn().
			Str("task_id", taskID).
			Int("attempt", attempt).
			Int("max_attempts", d.cfg.MaxAttempts).
			Str("outcome", string(res.Outcome)).
			Str("reason", res.Reason).
			Msg("retry: attempt did not pass")

		if attempt < d.cfg.MaxAttempts {
			if err := d.waitBeforeRetry(ctx, attempt); err != nil {
				return FinalOutcome{Outcome: video.OutcomeFailed, Reason: err.Error(), Attempts: attempt}, err
			}
		}
	}
	return FinalOutcome{
		Outcome:  last.Outcome,
		Reason:   last.Reason,
		Attempts: d.cfg.MaxAttempts,
	}, ErrBudgetExhausted
}

func (d *Driver) runAttempt(ctx context.Context, taskID string, number int, req video.Request) (video.Result, error) {
	started := time.Now()
	jobID, err := d.gen.Submit(ctx, req)
	if err != nil {
		d.record(ctx, taskID, Attempt{
			Number:     number,
			Outcome:    video.OutcomeFailed,
			Reason:     err.Error(),
			StartedAt:  started,
			FinishedAt: time.Now(),
		})
		return video.Result{}, fmt.Errorf("submit: %w", err)
	}

	res, err := d.awaitTerminal(ctx, jobID)
	att := Attempt{
		Number:     number,
		JobID:      jobID,
		Outcome:    res.Outcome,
		VideoURL:   res.VideoURL,
		Reason:     res.Reason,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if err != nil {
		att.Outcome = video.OutcomeFailed
		att.Reason = err.Error()
	}
	d.record(ctx, taskID, att)
	return res, err
}

// awaitTerminal polls the job on a fixed interval until it reaches a
// terminal state or PollTimeout elapses. A stuck job is reported as a failed
// result, not an error, so it consumes exactly one attempt. Poll transport
// errors are tolerated and the next tick tries again; only context
// cancellation aborts.
func (d *Driver) awaitTerminal(ctx context.Context, jobID string) (video.Result, error) {
	var callbacks <-chan video.Result
	if d.notifier != nil {
		ch, cancel := d.notifier.Subscribe(jobID)
		defer cancel()
		callbacks = ch
	}

	deadline := time.NewTimer(d.cfg.PollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return video.Result{}, ctx.Err()
		case <-deadline.C:
			return video.Result{
				Outcome: video.OutcomeFailed,
				Reason:  fmt.Sprintf("timeout: no terminal status within %s", d.cfg.PollTimeout),
			}, nil
		case res := <-callbacks:
			if res.Outcome.Terminal() {
				d.logger.Debug().Str("job_id", jobID).Str("outcome", string(res.Outcome)).Msg("retry: job settled via webhook")
				return res, nil
			}
		case <-ticker.C:
			res, err := d.gen.Poll(ctx, jobID)
			if err != nil {
				if ctx.Err() != nil {
					return video.Result{}, ctx.Err()
				}
				d.logger.Warn().Err(err).Str("job_id", jobID).Msg("retry: poll failed, will try again")
				continue
			}
			if res.Outcome.Terminal() {
				return res, nil
			}
			d.logger.Debug().
				Str("job_id", jobID).
				Int("progress", res.Progress).
				Msg("retry: job still pending")
		}
	}
}

func (d *Driver) waitBeforeRetry(ctx context.Context, attempt int) error {
	wait := d.cfg.RetryBaseWait << (attempt - 1)
	if wait > d.cfg.RetryMaxWait || wait <= 0 {
		wait = d.cfg.RetryMaxWait
	}
	d.logger.Info().Dur("wait", wait).Int("next_attempt", attempt+1).Msg("retry: backing off before resubmit")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func (d *Driver) record(ctx context.Context, taskID string, att Attempt) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.RecordAttempt(ctx, taskID, att); err != nil {
		d.logger.Warn().Err(err).Str("task_id", taskID).Msg("retry: failed to record attempt")
	}
}
