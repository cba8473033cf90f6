package video

import "context"

// Outcome enumerates the classified states of a generation job.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeRejectedByModeration is a terminal failure caused by the
	// provider's content-moderation gate. It is the one failure worth
	// resubmitting: the gate is probabilistic for borderline inputs.
	OutcomeRejectedByModeration Outcome = "rejected_by_moderation"
	OutcomeFailed               Outcome = "failed"
)

// Terminal reports whether the outcome requires no further polling.
func (o Outcome) Terminal() bool {
	return o != OutcomePending
}

// Request describes one video generation task. It is immutable per attempt
// and identical across all retries of the same task.
type Request struct {
	Prompt      string
	ImageURL    string
	AspectRatio string
	Duration    int
	// WebhookURL, when set, is handed to the provider so it can push the
	// terminal result instead of waiting for a poll to observe it.
	WebhookURL string
}

// Result is the classified state of a job as seen by one poll (or one
// webhook callback).
type Result struct {
	Outcome  Outcome
	VideoURL string
	Reason   string
	Progress int
}

// Generator is the contract implemented by video providers.
type Generator interface {
	// Submit sends one generation job and returns a provider job ID.
	Submit(ctx context.Context, req Request) (string, error)

	// Poll checks the status of a job and returns the classified result.
	Poll(ctx context.Context, jobID string) (Result, error)
}
