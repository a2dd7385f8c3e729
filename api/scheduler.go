/*
scheduler.go - Background jobs

PURPOSE:
  Runs the recurring work of the attendance engine inside the server
  process: the nightly consolidation, CrossChex token refresh, CrossChex
  pull sync and retention cleanup.

DESIGN:
  - One goroutine per enabled job, each stopped through a shared channel
  - Consolidation fires once a day at ConsolidationTime (server local time)
    and consolidates that day
  - The other jobs run on a ticker; a zero interval disables the job
  - Every run goes through Handler.RunJob so it is recorded in job_runs
  - A sync or token refresh while the integration is disabled or has no
    credentials is logged as skipped, not as a failure

CONFIGURATION:
  - ConsolidationTime:    CONSOLIDATION_TIME (default 23:45)
  - TokenRefreshInterval: TOKEN_REFRESH_INTERVAL (default 1h)
  - SyncInterval:         SYNC_INTERVAL (default 0, disabled)
  - CleanupInterval:      CLEANUP_INTERVAL (default 120h)
  - Enabled:              SCHEDULER_ENABLED (default true)

USAGE:
  scheduler := NewScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers_attendance.go: RunJob and the job names
  - attendance/consolidate.go: Consolidator
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hamptons/attendance-engine/attendance"
	"github.com/hamptons/attendance-engine/crosschex"
)

// Scheduler runs the recurring jobs against a Handler.
type Scheduler struct {
	Handler *Handler

	ConsolidationTime    attendance.Clock
	TokenRefreshInterval time.Duration
	SyncInterval         time.Duration
	CleanupInterval      time.Duration
	Enabled              bool

	Logger *slog.Logger
	Now    func() time.Time

	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewScheduler creates a scheduler with the default intervals.
func NewScheduler(h *Handler) *Scheduler {
	return &Scheduler{
		Handler:              h,
		ConsolidationTime:    attendance.MustClock("23:45"),
		TokenRefreshInterval: time.Hour,
		CleanupInterval:      120 * time.Hour,
		Enabled:              true,
		Logger:               h.Logger.With("component", "scheduler"),
	}
}

// Start launches the job loops. It is a no-op when disabled or already
// started.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger().Info("scheduler disabled, not starting")
		return
	}
	if s.started {
		return
	}
	s.started = true
	s.stop = make(chan struct{})

	s.wg.Add(1)
	go s.runDaily(JobConsolidation, s.stop)

	for job, every := range map[string]time.Duration{
		JobTokenRefresh: s.TokenRefreshInterval,
		JobSync:         s.SyncInterval,
		JobCleanup:      s.CleanupInterval,
	} {
		if every <= 0 {
			s.logger().Info("job disabled", "job", job)
			continue
		}
		s.wg.Add(1)
		go s.runEvery(job, every, s.stop)
	}

	s.logger().Info("scheduler started",
		"consolidation_time", s.ConsolidationTime.String(),
		"token_refresh", s.TokenRefreshInterval,
		"sync", s.SyncInterval,
		"cleanup", s.CleanupInterval)
}

// Stop ends every loop and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	close(s.stop)
	s.wg.Wait()
	s.started = false
	s.logger().Info("scheduler stopped")
}

func (s *Scheduler) runDaily(job string, stop <-chan struct{}) {
	defer s.wg.Done()

	for {
		now := s.now()
		timer := time.NewTimer(nextDaily(now, s.ConsolidationTime).Sub(now))
		select {
		case <-timer.C:
			s.run(job)
		case <-stop:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) runEvery(job string, every time.Duration, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.run(job)
		case <-stop:
			return
		}
	}
}

func (s *Scheduler) run(job string) {
	if err := s.RunNow(context.Background(), job); err != nil {
		s.logger().Error("scheduled job failed", "job", job, "err", err)
	}
}

// RunNow runs one job immediately and records it.
func (s *Scheduler) RunNow(ctx context.Context, job string) error {
	h := s.Handler
	var fn func(context.Context) (any, error)

	switch job {
	case JobConsolidation:
		date := attendance.DateOf(s.now())
		fn = func(ctx context.Context) (any, error) {
			return h.Consolidator.ConsolidateDate(ctx, date)
		}
	case JobTokenRefresh:
		fn = func(ctx context.Context) (any, error) {
			refreshed, err := h.CrossChex.RefreshToken(ctx, false)
			if skippable(err) {
				return map[string]string{"skipped": err.Error()}, nil
			}
			return map[string]bool{"refreshed": refreshed}, err
		}
	case JobSync:
		fn = func(ctx context.Context) (any, error) {
			res, err := h.CrossChex.Sync(ctx)
			if skippable(err) {
				return map[string]string{"skipped": err.Error()}, nil
			}
			return res, err
		}
	case JobCleanup:
		fn = func(ctx context.Context) (any, error) {
			return h.Store.Cleanup(ctx, s.now(), h.LogRetentionDays)
		}
	default:
		return fmt.Errorf("unknown job %q", job)
	}

	_, err := h.RunJob(ctx, job, fn)
	return err
}

// skippable reports integration states that are configuration, not failure.
func skippable(err error) bool {
	return errors.Is(err, crosschex.ErrSyncDisabled) || errors.Is(err, crosschex.ErrMissingCredentials)
}

// nextDaily returns the next instant after now at clock, in now's location.
func nextDaily(now time.Time, clock attendance.Clock) time.Time {
	y, m, d := now.Date()
	next := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).Add(time.Duration(clock))
	if !next.After(now) {
		next = time.Date(y, m, d+1, 0, 0, 0, 0, now.Location()).Add(time.Duration(clock))
	}
	return next
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
