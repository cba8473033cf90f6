package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"soragen/internal/retry"
	"soragen/internal/video"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	req := video.Request{
		Prompt:      "a cat surfing",
		ImageURL:    "https://img.example.com/cat.png",
		AspectRatio: "16:9",
		Duration:    15,
	}
	if err := store.StartRun(ctx, "run-1", req); err != nil {
		t.Fatalf("start run: %v", err)
	}

	now := time.Now()
	attempts := []retry.Attempt{
		{Number: 1, JobID: "job-1", Outcome: video.OutcomeRejectedByModeration, Reason: "input_moderation", StartedAt: now, FinishedAt: now},
		{Number: 2, JobID: "job-2", Outcome: video.OutcomeSucceeded, VideoURL: "https://cdn.example.com/x.mp4", StartedAt: now, FinishedAt: now},
	}
	for _, att := range attempts {
		if err := store.RecordAttempt(ctx, "run-1", att); err != nil {
			t.Fatalf("record attempt %d: %v", att.Number, err)
		}
	}

	out := retry.FinalOutcome{
		Outcome:  video.OutcomeSucceeded,
		VideoURL: "https://cdn.example.com/x.mp4",
		Attempts: 2,
	}
	if err := store.FinishRun(ctx, "run-1", out, "/tmp/x.mp4"); err != nil {
		t.Fatalf("finish run: %v", err)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	run := runs[0]
	if run.ID != "run-1" || run.Prompt != "a cat surfing" {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.Outcome != string(video.OutcomeSucceeded) {
		t.Fatalf("outcome = %q, want succeeded", run.Outcome)
	}
	if run.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", run.Attempts)
	}
	if run.DownloadPath != "/tmp/x.mp4" {
		t.Fatalf("download path = %q", run.DownloadPath)
	}
	if run.FinishedAt == nil {
		t.Fatalf("finished_at should be set")
	}

	count, err := store.AttemptCount(ctx, "run-1")
	if err != nil {
		t.Fatalf("attempt count: %v", err)
	}
	if count != 2 {
		t.Fatalf("attempt count = %d, want 2", count)
	}
}

func TestListRunsOrderAndLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"run-a", "run-b", "run-c"} {
		if err := store.StartRun(ctx, id, video.Request{Prompt: "p " + id}); err != nil {
			t.Fatalf("start run %s: %v", id, err)
		}
		// Keep created_at strictly increasing.
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Fatalf("unexpected order: %s, %s", runs[0].ID, runs[1].ID)
	}
}

func TestUnfinishedRunHasNoVerdict(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.StartRun(ctx, "run-1", video.Request{Prompt: "p"}); err != nil {
		t.Fatalf("start run: %v", err)
	}
	runs, err := store.ListRuns(ctx, 1)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if runs[0].Outcome != "" {
		t.Fatalf("outcome = %q, want empty for unfinished run", runs[0].Outcome)
	}
	if runs[0].FinishedAt != nil {
		t.Fatalf("finished_at should be nil for unfinished run")
	}
}
