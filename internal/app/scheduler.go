package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"logalert/internal/logging"

	"github.com/go-co-op/gocron/v2"
)

// CheckFunc runs one scheduled check for one condition id.
type CheckFunc func(ctx context.Context, conditionID string)

// Scheduler owns one gocron job per condition.
// Jobs run in singleton reschedule mode so a slow check never overlaps itself.
// New condition ids start immediately; jobs recreated for an interval change
// resume one new interval after their last run.
type Scheduler struct {
	mu        sync.Mutex
	scheduler gocron.Scheduler
	jobs      map[string]gocron.Job
	interval  time.Duration
	run       CheckFunc
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *slog.Logger

	runMu   sync.Mutex
	lastRun map[string]time.Time
}

// NewScheduler creates stopped scheduler.
// Params: check interval, per-condition check callback, and logger.
// Returns: scheduler or gocron setup error.
func NewScheduler(interval time.Duration, run CheckFunc, logger *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("check interval must be positive, got %s", interval)
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create check scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		jobs:      make(map[string]gocron.Job),
		lastRun:   make(map[string]time.Time),
		interval:  interval,
		run:       run,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logging.Default(logger).With("component", "scheduler"),
	}, nil
}

// Sync makes scheduled jobs match condition ids.
// Params: active ids and check interval; interval change recreates every job.
// Returns: first job create error.
func (s *Scheduler) Sync(ids []string, interval time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resume := make(map[string]time.Time)
	if interval > 0 && interval != s.interval {
		for id := range s.jobs {
			if last, ok := s.lastRunAt(id); ok {
				resume[id] = last.Add(interval)
			}
			s.removeLocked(id)
		}
		s.interval = interval
	}

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	for id := range s.jobs {
		if _, ok := wanted[id]; !ok {
			s.removeLocked(id)
			s.forgetRun(id)
		}
	}
	for _, id := range ids {
		if _, exists := s.jobs[id]; exists {
			continue
		}
		if err := s.addLocked(id, resume[id]); err != nil {
			return err
		}
	}
	return nil
}

// addLocked schedules one job. A zero startAt, or one less than a second
// away, starts it immediately.
func (s *Scheduler) addLocked(id string, startAt time.Time) error {
	start := gocron.WithStartImmediately()
	if startAt.After(time.Now().Add(time.Second)) {
		start = gocron.WithStartDateTime(startAt)
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func(conditionID string) {
			s.markRun(conditionID)
			s.run(s.ctx, conditionID)
		}, id),
		gocron.WithName("check:"+id),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(start),
	)
	if err != nil {
		return fmt.Errorf("create check job %s: %w", id, err)
	}
	s.jobs[id] = job
	s.logger.Debug("check job added", "condition_id", id, "interval", s.interval.String(), "start_at", startAt)
	return nil
}

func (s *Scheduler) removeLocked(id string) {
	job, ok := s.jobs[id]
	if !ok {
		return
	}
	if err := s.scheduler.RemoveJob(job.ID()); err != nil {
		s.logger.Warn("failed to remove check job", "condition_id", id, "error", err.Error())
	}
	delete(s.jobs, id)
	s.logger.Debug("check job removed", "condition_id", id)
}

func (s *Scheduler) markRun(id string) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	s.lastRun[id] = time.Now()
}

func (s *Scheduler) lastRunAt(id string) (time.Time, bool) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	last, ok := s.lastRun[id]
	return last, ok
}

func (s *Scheduler) forgetRun(id string) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	delete(s.lastRun, id)
}

// NextRun returns when the job of one condition runs next.
func (s *Scheduler) NextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	next, err := job.NextRun()
	if err != nil || next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

// Jobs returns scheduled condition ids sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Start begins executing registered jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("scheduler started", "jobs", len(s.Jobs()), "interval", s.interval.String())
}

// Stop cancels running checks and waits for them to finish.
func (s *Scheduler) Stop() error {
	s.cancel()
	return s.scheduler.Shutdown()
}
