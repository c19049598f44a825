package scheduler

import (
	"context"
	"sync"
	"time"

	"flint/internal/config"
	"flint/internal/logger"
)

// Scheduler submits a batch of jobs to the worker pool on a fixed interval.
type Scheduler struct {
	pool         *WorkerPool
	interval     time.Duration
	runOnStartup bool
	jobProvider  func(context.Context) ([]Job, error)

	trigger chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Config holds the scheduler settings.
type Config struct {
	Interval     time.Duration
	Workers      int
	QueueSize    int
	JobDelay     time.Duration
	JobTimeout   time.Duration
	RunOnStartup bool
	JobProvider  func(context.Context) ([]Job, error)
}

// ConfigFrom maps the sync settings onto a scheduler Config.
func ConfigFrom(c config.SyncConfig, jobs func(context.Context) ([]Job, error)) Config {
	return Config{
		Interval:     c.Interval,
		Workers:      c.Workers,
		QueueSize:    c.QueueSize,
		JobDelay:     c.JobDelay,
		JobTimeout:   c.JobTimeout,
		RunOnStartup: c.RunOnStartup,
		JobProvider:  jobs,
	}
}

// New creates a Scheduler. It does nothing until Start.
func New(cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		pool:         NewWorkerPool(cfg.Workers, cfg.JobDelay, cfg.JobTimeout, cfg.QueueSize),
		interval:     cfg.Interval,
		runOnStartup: cfg.RunOnStartup,
		jobProvider:  cfg.JobProvider,
		trigger:      make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start launches the worker pool and the scheduling loop.
func (s *Scheduler) Start() {
	s.pool.Start()

	if s.runOnStartup {
		s.TriggerNow()
	}

	s.wg.Add(1)
	go s.loop()

	logger.Get().Infow("sync scheduler started", "interval", s.interval, "run_on_startup", s.runOnStartup)
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runJobs("interval")
		case <-s.trigger:
			s.runJobs("trigger")
		}
	}
}

// TriggerNow requests a sweep outside the interval. Requests made while
// one is already pending collapse into it.
func (s *Scheduler) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) runJobs(reason string) {
	if s.jobProvider == nil {
		logger.Get().Warnw("sync scheduler has no job provider")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()

	jobs, err := s.jobProvider(ctx)
	if err != nil {
		logger.Get().Errorw("failed to list sync jobs", "reason", reason, "error", err)
		return
	}
	if len(jobs) == 0 {
		logger.Get().Debugw("no users to sync", "reason", reason)
		return
	}
	logger.Get().Infow("sync sweep started", "reason", reason, "jobs", len(jobs))
	s.pool.SubmitBatch(jobs)
}

// Shutdown stops scheduling, then waits up to timeout for queued jobs.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	s.cancel()
	s.wg.Wait()
	s.pool.ShutdownWithTimeout(timeout)
	logger.Get().Infow("sync scheduler stopped")
}
