package video

import (
	"context"
	"strings"

	"soragen/internal/providers/grsai"
)

// Moderation rejections arrive as a failed status whose failure_reason (or
// error text) names the moderation gate. The markers cover the reason codes
// and the Chinese phrasing the provider has been observed to use.
var moderationMarkers = []string{
	"moderation",
	"content policy",
	"policy_violation",
	"过审",
	"审核",
	"违规",
}

// Sora adapts the Grsai client to the Generator contract.
type Sora struct {
	client *grsai.Client
}

func NewSora(client *grsai.Client) *Sora {
	return &Sora{client: client}
}

func (s *Sora) Submit(ctx context.Context, req Request) (string, error) {
	return s.client.SubmitVideo(ctx, grsai.VideoRequest{
		Prompt:      req.Prompt,
		ImageURL:    req.ImageURL,
		AspectRatio: req.AspectRatio,
		Duration:    req.Duration,
		WebhookURL:  req.WebhookURL,
	})
}

func (s *Sora) Poll(ctx context.Context, jobID string) (Result, error) {
	res, err := s.client.TaskResult(ctx, jobID)
	if err != nil {
		return Result{}, err
	}
	return Classify(*res), nil
}

// Classify maps a provider task state onto the outcome variants.
func Classify(res grsai.TaskResult) Result {
	switch res.Status {
	case grsai.TaskStatusSucceeded:
		if res.VideoURL == "" {
			return Result{Outcome: OutcomeFailed, Reason: "succeeded without video url"}
		}
		return Result{Outcome: OutcomeSucceeded, VideoURL: res.VideoURL, Progress: 100}
	case grsai.TaskStatusFailed:
		reason := failureReason(res)
		if isModerationReason(reason) {
			return Result{Outcome: OutcomeRejectedByModeration, Reason: reason}
		}
		return Result{Outcome: OutcomeFailed, Reason: reason}
	default:
		return Result{Outcome: OutcomePending, Progress: res.Progress}
	}
}

func failureReason(res grsai.TaskResult) string {
	parts := make([]string, 0, 2)
	if r := strings.TrimSpace(res.FailureReason); r != "" {
		parts = append(parts, r)
	}
	if m := strings.TrimSpace(res.ErrorMessage); m != "" {
		parts = append(parts, m)
	}
	if len(parts) == 0 {
		return "generation failed"
	}
	return strings.Join(parts, ": ")
}

func isModerationReason(reason string) bool {
	lowered := strings.ToLower(reason)
	for _, marker := range moderationMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

var _ Generator = (*Sora)(nil)
