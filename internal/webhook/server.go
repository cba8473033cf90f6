// Package webhook receives Grsai completion callbacks. When the submit call
// carries a callback URL the provider pushes the terminal job state here,
// sparing the poll loop from waiting out its next tick. Polling stays on as
// the fallback for callbacks that never arrive.
package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"soragen/internal/infra"
	"soragen/internal/providers/grsai"
	"soragen/internal/retry"
	"soragen/internal/video"
)

// CallbackPath is the route the provider posts terminal job states to.
const CallbackPath = "/callbacks/sora"

// CallbackURL joins a public base URL with the callback route.
func CallbackURL(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + CallbackPath
}

// Server listens for provider callbacks and hands each terminal result to
// the attempt subscribed to that job.
type Server struct {
	logger     infra.Logger
	httpServer *http.Server

	mu   sync.Mutex
	subs map[string]chan video.Result
}

// NewServer creates a configured callback server bound to addr.
func NewServer(addr string, logger infra.Logger) *Server {
	s := &Server{
		logger: logger,
		subs:   map[string]chan video.Result{},
	}

	r := chi.NewRouter()
	r.Post(CallbackPath, s.handleCallback)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start runs the HTTP server in the current goroutine.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Subscribe registers interest in a job. The returned cancel must be called
// once the job is settled.
func (s *Server) Subscribe(jobID string) (<-chan video.Result, func()) {
	ch := make(chan video.Result, 1)
	s.mu.Lock()
	s.subs[jobID] = ch
	s.mu.Unlock()
	cancel := func() {
		s.mu.Lock()
		delete(s.subs, jobID)
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var data grsai.ResultData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		s.logger.Warn().Err(err).Msg("webhook: undecodable callback")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if data.ID == "" {
		http.Error(w, "missing job id", http.StatusBadRequest)
		return
	}

	res := video.Classify(data.Normalize())
	if !res.Outcome.Terminal() {
		// Progress pushes are acknowledged but nobody waits on them.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	s.mu.Lock()
	ch, ok := s.subs[data.ID]
	s.mu.Unlock()
	if !ok {
		s.logger.Debug().Str("job_id", data.ID).Msg("webhook: callback for unknown job")
		w.WriteHeader(http.StatusOK)
		return
	}

	select {
	case ch <- res:
		s.logger.Debug().
			Str("job_id", data.ID).
			Str("outcome", string(res.Outcome)).
			Msg("webhook: delivered callback")
	default:
		// Subscriber already has an undelivered result; drop the duplicate.
	}
	w.WriteHeader(http.StatusOK)
}

var _ retry.Notifier = (*Server)(nil)
