package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/abhishekgusain07/clip-farm/internal/observability"
	"github.com/abhishekgusain07/clip-farm/internal/platform/logger"
)

var (
	ErrQueueFull = errors.New("job queue full")
	ErrStopped   = errors.New("worker pool stopped")
)

// Job is one unit of background work. Run receives the pool context, which
// is cancelled at shutdown; jobs still queued at that point run with the
// cancelled context so they can record their abandonment.
type Job struct {
	ID   string
	Type string
	Run  func(ctx context.Context) error
}

type Config struct {
	Concurrency int
	QueueSize   int
}

type Pool struct {
	log     *logger.Logger
	metrics *observability.Metrics
	cfg     Config

	queue chan Job
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

func NewPool(baseLog *logger.Logger, metrics *observability.Metrics, cfg Config) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	return &Pool{
		log:     baseLog.With("component", "ClipWorkerPool"),
		metrics: metrics,
		cfg:     cfg,
		queue:   make(chan Job, cfg.QueueSize),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.log.Info("Starting clip worker pool", "concurrency", p.cfg.Concurrency, "queue_size", p.cfg.QueueSize)
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.runLoop(ctx, i+1)
	}
}

// Submit enqueues job without blocking.
func (p *Pool) Submit(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %s: nil Run", job.ID)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- job:
		p.metrics.SetQueueDepth(len(p.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for the workers to drain it or for ctx.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.log.Info("Clip worker pool stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Depth is the number of queued jobs.
func (p *Pool) Depth() int {
	return len(p.queue)
}

func (p *Pool) runLoop(ctx context.Context, workerID int) {
	defer p.wg.Done()
	for job := range p.queue {
		p.metrics.SetQueueDepth(len(p.queue))
		p.run(ctx, workerID, job)
	}
	p.log.Debug("Worker loop stopped", "worker_id", workerID)
}

func (p *Pool) run(ctx context.Context, workerID int, job Job) {
	p.metrics.WorkerBusyInc()
	defer p.metrics.WorkerBusyDec()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Job panic",
				"worker_id", workerID,
				"job_id", job.ID,
				"job_type", job.Type,
				"panic", r,
			)
		}
	}()

	if err := job.Run(ctx); err != nil {
		p.log.Warn("Job failed",
			"worker_id", workerID,
			"job_id", job.ID,
			"job_type", job.Type,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return
	}
	p.log.Debug("Job finished",
		"worker_id", workerID,
		"job_id", job.ID,
		"job_type", job.Type,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
