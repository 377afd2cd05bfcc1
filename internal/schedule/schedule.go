// Package schedule provides an optional cron-driven trigger for
// session-kernel submissions, layered on top of the Session Coordinator's
// submission channel rather than replacing it — the scheduler only ever
// calls Coordinator.Submit, the same entry point a UI or CLI adapter uses.
//
// The job list and Start/Stop lifecycle with logger injection follow the
// same shape as other scheduler packages in this codebase, but this one is
// built on github.com/robfig/cron/v3's expression parser rather than a
// hand-rolled fixed-interval ticker, since its only job shape is "run a
// cron expression" against a single compaction submission.
package schedule

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/nexus/internal/session"
)

// Submitter is the minimal Coordinator contract the scheduler needs.
type Submitter interface {
	Submit(sub session.Submission)
}

// Scheduler runs cron-expressed triggers against a Coordinator.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used for job failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds a Scheduler. Call AddCompaction/AddJob to register triggers,
// then Start.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:   cron.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddCompaction registers a recurring Compact submission on the given cron
// expression (e.g. "@every 30m", "0 */2 * * *"). This is the natural extra
// trigger source alongside an explicit user-issued Compact.
func (s *Scheduler) AddCompaction(expr string, coord Submitter) error {
	_, err := s.cron.AddFunc(expr, func() {
		coord.Submit(session.Compact{})
	})
	return err
}

// AddJob registers an arbitrary submission on a cron expression, for
// callers that want a different trigger (e.g. a periodic Review).
func (s *Scheduler) AddJob(expr string, fn func()) error {
	_, err := s.cron.AddFunc(expr, fn)
	return err
}

// Start begins running registered jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for any running job to finish.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }
