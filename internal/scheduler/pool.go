package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"flint/internal/logger"
)

var (
	jobTracer          = otel.Tracer("flint/scheduler")
	jobMeter           = otel.Meter("flint/scheduler")
	jobDuration, _     = jobMeter.Float64Histogram("flint.sync.job.duration", metric.WithDescription("Sync job duration in seconds"), metric.WithUnit("s"))
	jobTotal, _        = jobMeter.Int64Counter("flint.sync.job.total", metric.WithDescription("Sync jobs executed by status"))
	jobQueueDropped, _ = jobMeter.Int64Counter("flint.sync.job.queue_dropped", metric.WithDescription("Sync jobs dropped because the queue was full"))
)

var errPoolClosed = errors.New("worker pool is shut down")

// WorkerPool runs jobs on a fixed number of goroutines.
type WorkerPool struct {
	workerCount int
	jobDelay    time.Duration
	jobTimeout  time.Duration
	jobs        chan Job
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool creates a pool. jobDelay paces each worker between jobs;
// jobTimeout bounds a single job.
func NewWorkerPool(workerCount int, jobDelay, jobTimeout time.Duration, queueSize int) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if jobTimeout <= 0 {
		jobTimeout = 2 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		workerCount: workerCount,
		jobDelay:    jobDelay,
		jobTimeout:  jobTimeout,
		jobs:        make(chan Job, queueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the workers.
func (wp *WorkerPool) Start() {
	logger.Get().Infow("starting worker pool", "workers", wp.workerCount, "job_delay", wp.jobDelay)
	for i := 1; i <= wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	for {
		select {
		case <-wp.ctx.Done():
			return
		case job, ok := <-wp.jobs:
			if !ok {
				return
			}
			wp.processJob(id, job)

			if wp.jobDelay > 0 {
				select {
				case <-time.After(wp.jobDelay):
				case <-wp.ctx.Done():
					return
				}
			}
		}
	}
}

func (wp *WorkerPool) processJob(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(wp.ctx, wp.jobTimeout)
	defer cancel()

	ctx, span := jobTracer.Start(ctx, "sync.job",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("job.description", job.Description()),
			attribute.String("job.user_id", job.UserID()),
		),
	)
	defer span.End()

	start := time.Now()
	err := job.Execute(ctx)
	jobDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
		logger.Get().Warnw("sync job failed",
			"worker_id", workerID,
			"job", job.Description(),
			"user_id", job.UserID(),
			"error", err,
		)
		return
	}
	jobTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "success")))
	logger.Get().Debugw("sync job completed", "worker_id", workerID, "job", job.Description(), "user_id", job.UserID())
}

// Submit queues a job without blocking. A full queue drops the job.
func (wp *WorkerPool) Submit(job Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.closed {
		return errPoolClosed
	}
	select {
	case wp.jobs <- job:
		return nil
	default:
		jobQueueDropped.Add(context.Background(), 1)
		return fmt.Errorf("job queue full, dropping %s for user %s", job.Description(), job.UserID())
	}
}

// SubmitBatch queues jobs and returns how many were accepted.
func (wp *WorkerPool) SubmitBatch(jobs []Job) int {
	submitted := 0
	for _, job := range jobs {
		if err := wp.Submit(job); err != nil {
			logger.Get().Warnw("failed to submit sync job", "user_id", job.UserID(), "error", err)
			continue
		}
		submitted++
	}
	logger.Get().Infow("submitted sync jobs", "submitted", submitted, "total", len(jobs))
	return submitted
}

// ShutdownWithTimeout stops accepting jobs and waits for the workers to
// drain the queue. After timeout the running jobs are cancelled.
func (wp *WorkerPool) ShutdownWithTimeout(timeout time.Duration) {
	wp.mu.Lock()
	if !wp.closed {
		wp.closed = true
		close(wp.jobs)
	}
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Get().Infow("worker pool drained")
	case <-time.After(timeout):
		logger.Get().Warnw("worker pool shutdown timed out, cancelling jobs", "timeout", timeout)
		wp.cancel()
		<-done
	}
	wp.cancel()
}
