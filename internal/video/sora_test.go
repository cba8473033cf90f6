package video

import (
	"testing"

	"soragen/internal/providers/grsai"
)

func TestClassifySucceeded(t *testing.T) {
	res := Classify(grsai.TaskResult{
		Status:   grsai.TaskStatusSucceeded,
		VideoURL: "https://cdn.example.com/out.mp4",
	})
	if res.Outcome != OutcomeSucceeded {
		t.Fatalf("outcome = %q, want succeeded", res.Outcome)
	}
	if res.VideoURL != "https://cdn.example.com/out.mp4" {
		t.Fatalf("video url = %q", res.VideoURL)
	}
	if !res.Outcome.Terminal() {
		t.Fatalf("succeeded should be terminal")
	}
}

func TestClassifySucceededWithoutURLIsFailure(t *testing.T) {
	res := Classify(grsai.TaskResult{Status: grsai.TaskStatusSucceeded})
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %q, want failed", res.Outcome)
	}
}

func TestClassifyModerationRejection(t *testing.T) {
	cases := []grsai.TaskResult{
		{Status: grsai.TaskStatusFailed, FailureReason: "input_moderation"},
		{Status: grsai.TaskStatusFailed, FailureReason: "output_moderation", ErrorMessage: "video blocked"},
		{Status: grsai.TaskStatusFailed, ErrorMessage: "内容未过审，请修改提示词"},
		{Status: grsai.TaskStatusFailed, FailureReason: "Content Policy Violation"},
	}
	for _, tc := range cases {
		res := Classify(tc)
		if res.Outcome != OutcomeRejectedByModeration {
			t.Fatalf("outcome for %+v = %q, want rejected_by_moderation", tc, res.Outcome)
		}
		if res.Reason == "" {
			t.Fatalf("reason should be populated for %+v", tc)
		}
	}
}

func TestClassifyGenericFailure(t *testing.T) {
	res := Classify(grsai.TaskResult{
		Status:        grsai.TaskStatusFailed,
		FailureReason: "internal_error",
		ErrorMessage:  "upstream worker crashed",
	})
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %q, want failed", res.Outcome)
	}
	if res.Reason != "internal_error: upstream worker crashed" {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestClassifyFailureWithoutDetail(t *testing.T) {
	res := Classify(grsai.TaskResult{Status: grsai.TaskStatusFailed})
	if res.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %q, want failed", res.Outcome)
	}
	if res.Reason != "generation failed" {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestClassifyRunningIsPending(t *testing.T) {
	res := Classify(grsai.TaskResult{Status: grsai.TaskStatusRunning, Progress: 55})
	if res.Outcome != OutcomePending {
		t.Fatalf("outcome = %q, want pending", res.Outcome)
	}
	if res.Outcome.Terminal() {
		t.Fatalf("pending should not be terminal")
	}
	if res.Progress != 55 {
		t.Fatalf("progress = %d, want 55", res.Progress)
	}
}
