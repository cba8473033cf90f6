package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soragen/internal/retry"
	"soragen/internal/video"
)

// promptedGenerator succeeds unless the prompt asks for rejection. It also
// tracks how many tasks are in flight at once.
type promptedGenerator struct {
	mu       sync.Mutex
	prompts  map[string]string // jobID -> prompt
	inFlight atomic.Int32
	peak     atomic.Int32
	seq      atomic.Int32
}

func (g *promptedGenerator) Submit(ctx context.Context, req video.Request) (string, error) {
	cur := g.inFlight.Add(1)
	for {
		peak := g.peak.Load()
		if cur <= peak || g.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	jobID := fmt.Sprintf("job-%d", g.seq.Add(1))
	g.mu.Lock()
	if g.prompts == nil {
		g.prompts = map[string]string{}
	}
	g.prompts[jobID] = req.Prompt
	g.mu.Unlock()
	return jobID, nil
}

func (g *promptedGenerator) Poll(ctx context.Context, jobID string) (video.Result, error) {
	// Simulate a little generation latency so concurrency overlaps.
	time.Sleep(5 * time.Millisecond)
	defer g.inFlight.Add(-1)
	g.mu.Lock()
	prompt := g.prompts[jobID]
	g.mu.Unlock()
	if strings.Contains(prompt, "reject") {
		return video.Result{Outcome: video.OutcomeRejectedByModeration, Reason: "input_moderation"}, nil
	}
	return video.Result{Outcome: video.OutcomeSucceeded, VideoURL: "https://cdn.example.com/" + jobID + ".mp4"}, nil
}

type fakeStore struct {
	mu       sync.Mutex
	started  []string
	finished map[string]retry.FinalOutcome
}

func (s *fakeStore) StartRun(ctx context.Context, id string, req video.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, id)
	return nil
}

func (s *fakeStore) FinishRun(ctx context.Context, id string, out retry.FinalOutcome, downloadPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished == nil {
		s.finished = map[string]retry.FinalOutcome{}
	}
	s.finished[id] = out
	return nil
}

func newTestDriver(t *testing.T, gen video.Generator, maxAttempts int) *retry.Driver {
	t.Helper()
	d, err := retry.NewDriver(retry.Options{
		Generator: gen,
		Config: retry.Config{
			MaxAttempts:   maxAttempts,
			PollInterval:  time.Millisecond,
			PollTimeout:   time.Second,
			RetryBaseWait: time.Millisecond,
			RetryMaxWait:  2 * time.Millisecond,
		},
	})
	require.NoError(t, err)
	return d
}

func TestRunReportsPerSpecInOrder(t *testing.T) {
	gen := &promptedGenerator{}
	store := &fakeStore{}
	r := New(Options{
		Driver:             newTestDriver(t, gen, 2),
		Workers:            2,
		DefaultAspectRatio: "16:9",
		DefaultDuration:    15,
		Store:              store,
		Download: func(ctx context.Context, taskID, videoURL string) (string, error) {
			return "/download/" + taskID + ".mp4", nil
		},
	})

	specs := []TaskSpec{
		{Name: "first", Prompt: "a calm lake"},
		{Name: "second", Prompt: "please reject this"},
		{Name: "third", Prompt: "a foggy forest"},
	}
	reports := r.Run(context.Background(), specs)
	require.Len(t, reports, 3)

	assert.Equal(t, "first", reports[0].Name)
	assert.Equal(t, video.OutcomeSucceeded, reports[0].Outcome.Outcome)
	assert.NoError(t, reports[0].Err)
	assert.Equal(t, "/download/"+reports[0].TaskID+".mp4", reports[0].DownloadPath)

	assert.Equal(t, "second", reports[1].Name)
	assert.ErrorIs(t, reports[1].Err, retry.ErrBudgetExhausted)
	assert.Equal(t, video.OutcomeRejectedByModeration, reports[1].Outcome.Outcome)
	assert.Equal(t, 2, reports[1].Outcome.Attempts)
	assert.Empty(t, reports[1].DownloadPath)

	assert.Equal(t, "third", reports[2].Name)
	assert.Equal(t, video.OutcomeSucceeded, reports[2].Outcome.Outcome)

	assert.Len(t, store.started, 3)
	assert.Len(t, store.finished, 3)
}

func TestRunBoundsWorkerConcurrency(t *testing.T) {
	gen := &promptedGenerator{}
	r := New(Options{
		Driver:  newTestDriver(t, gen, 1),
		Workers: 2,
	})

	specs := make([]TaskSpec, 6)
	for i := range specs {
		specs[i] = TaskSpec{Name: fmt.Sprintf("t%d", i), Prompt: "scenery"}
	}
	reports := r.Run(context.Background(), specs)
	require.Len(t, reports, 6)
	for _, rep := range reports {
		assert.Equal(t, video.OutcomeSucceeded, rep.Outcome.Outcome)
	}
	assert.LessOrEqual(t, gen.peak.Load(), int32(2), "at most two tasks in flight")
}

func TestLoadTaskFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	content := `tasks:
  - name: surfing-cat
    prompt: a cat surfing at sunset
    image_url: https://img.example.com/cat.png
    aspect_ratio: "9:16"
    duration: 10
  - prompt: a foggy forest
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	specs, err := LoadTaskFile(path)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, "surfing-cat", specs[0].Name)
	assert.Equal(t, "https://img.example.com/cat.png", specs[0].ImageURL)
	assert.Equal(t, "9:16", specs[0].AspectRatio)
	assert.Equal(t, 10, specs[0].Duration)
	assert.Equal(t, "task-2", specs[1].Name, "unnamed tasks get positional names")
}

func TestLoadTaskFileRejectsEmptyPrompt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tasks:\n  - prompt: \"  \"\n"), 0o644))

	_, err := LoadTaskFile(path)
	assert.Error(t, err)
}

func TestLoadTaskFileRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tasks: []\n"), 0o644))

	_, err := LoadTaskFile(path)
	assert.Error(t, err)
}
