package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// JobCategory classifies jobs for semaphore-based concurrency limits.
type JobCategory string

const (
	// CategoryGuild jobs call the platform API and share its rate limits.
	CategoryGuild   JobCategory = "guild"
	CategoryDefault JobCategory = "default"
)

// Job run statuses recorded per tick.
const (
	StatusOK                 = "ok"
	StatusError              = "error"
	StatusSkippedConcurrency = "skipped_concurrency"
)

// Job defines a schedulable unit of work.
type Job struct {
	Name     string      // Unique job identifier.
	Cron     *CronExpr   // Parsed cron expression.
	Category JobCategory // For semaphore selection.
	Run      func(ctx context.Context) error
}

// Config holds scheduler settings.
type Config struct {
	TickInterval   time.Duration
	MaxConcGuild   int
	MaxConcDefault int
	LockPath       string
}

// RunRecorder persists the last status of each job.
type RunRecorder interface {
	UpsertScheduledJob(name, status string, tick time.Time) error
}

// Scheduler manages job registration, tick dispatch, and concurrency control.
type Scheduler struct {
	cfg        Config
	recorder   RunRecorder
	jobs       map[string]*Job
	mu         sync.RWMutex
	semaphores map[JobCategory]*Semaphore
	lock       *FileLock
	running    sync.WaitGroup
}

// New creates a Scheduler. recorder may be nil.
func New(cfg Config, recorder RunRecorder) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 60 * time.Second
	}
	if cfg.MaxConcGuild <= 0 {
		cfg.MaxConcGuild = 1
	}
	if cfg.MaxConcDefault <= 0 {
		cfg.MaxConcDefault = 2
	}

	return &Scheduler{
		cfg:      cfg,
		recorder: recorder,
		jobs:     make(map[string]*Job),
		semaphores: map[JobCategory]*Semaphore{
			CategoryGuild:   NewSemaphore(cfg.MaxConcGuild),
			CategoryDefault: NewSemaphore(cfg.MaxConcDefault),
		},
		lock: NewFileLock(cfg.LockPath),
	}
}

// Register adds a job to the scheduler.
func (s *Scheduler) Register(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = job
	slog.Info("Scheduler job registered", "name", job.Name, "cron", job.Cron, "category", job.Category)
}

// Unregister removes a job by name.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, name)
}

// Jobs returns the registered jobs sorted by name.
func (s *Scheduler) Jobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Run starts the scheduler tick loop. Blocks until ctx is cancelled, then
// waits for running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("Scheduler started", "tick", s.cfg.TickInterval, "jobs", len(s.Jobs()))
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	defer s.running.Wait()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return ctx.Err()
		case t := <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

// tick is called every TickInterval. With a lock path configured it only
// dispatches while holding the file lock, so two processes sharing a data
// directory never run the same job twice.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if s.cfg.LockPath != "" {
		acquired, err := s.lock.TryLock()
		if err != nil {
			slog.Warn("Scheduler lock error", "error", err)
			return
		}
		if !acquired {
			slog.Debug("Scheduler tick skipped: lock held by another process")
			return
		}
		defer s.lock.Unlock()
	}

	for _, job := range s.Jobs() {
		if !job.Cron.Matches(now) {
			continue
		}
		s.dispatch(ctx, job, now)
	}
}

// dispatch runs a job on its own goroutine if a semaphore slot is available.
func (s *Scheduler) dispatch(ctx context.Context, job *Job, now time.Time) {
	sem := s.semaphores[job.Category]
	if sem == nil {
		sem = s.semaphores[CategoryDefault]
	}

	if !sem.TryAcquire() {
		slog.Warn("Scheduler job skipped: concurrency limit", "job", job.Name, "category", job.Category)
		s.logJobRun(job.Name, StatusSkippedConcurrency, now)
		return
	}

	slog.Info("Scheduler dispatching job", "job", job.Name)

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer sem.Release()

		status := StatusOK
		if err := runJob(ctx, job); err != nil {
			status = StatusError
			slog.Warn("Scheduler job failed", "job", job.Name, "error", err)
		}
		s.logJobRun(job.Name, status, now)
	}()
}

func runJob(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return job.Run(ctx)
}

// logJobRun persists the run status to the scheduled_jobs table (best-effort).
func (s *Scheduler) logJobRun(name, status string, tick time.Time) {
	if s.recorder == nil {
		return
	}
	_ = s.recorder.UpsertScheduledJob(name, status, tick)
}
