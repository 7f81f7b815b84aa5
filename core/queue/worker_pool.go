package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"videoflix/logger"
)

// Handler executes one job.
type Handler func(ctx context.Context, job Job) error

const (
	defaultWorkers    = 2
	defaultJobTimeout = 2 * time.Hour
)

// WorkerPool consumes a Queue with a fixed number of workers. Jobs whose key
// is already running are dropped.
type WorkerPool struct {
	queue      Queue
	handler    Handler
	workers    int
	jobTimeout time.Duration

	// stopCtx ends dequeuing; jobCtx is only cancelled when a shutdown
	// deadline forces running jobs to abort.
	stopCtx    context.Context
	stop       context.CancelFunc
	jobCtx     context.Context
	cancelJobs context.CancelFunc

	wg sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool
}

// NewWorkerPool creates a WorkerPool.
func NewWorkerPool(q Queue, handler Handler, workers int, jobTimeout time.Duration) *WorkerPool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	stopCtx, stop := context.WithCancel(context.Background())
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	return &WorkerPool{
		queue:      q,
		handler:    handler,
		workers:    workers,
		jobTimeout: jobTimeout,
		stopCtx:    stopCtx,
		stop:       stop,
		jobCtx:     jobCtx,
		cancelJobs: cancelJobs,
		inFlight:   make(map[string]struct{}),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Info("Worker pool started", logger.Int("workers", p.workers))
}

// Shutdown stops taking jobs and waits for running ones. If ctx ends first
// the running jobs are cancelled and ctx.Err() is returned.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.stop()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancelJobs()
		return nil
	case <-ctx.Done():
		p.cancelJobs()
		<-done
		return ctx.Err()
	}
}

func (p *WorkerPool) worker(n int) {
	defer p.wg.Done()
	for {
		job, err := p.queue.Dequeue(p.stopCtx)
		if err != nil {
			if p.stopCtx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return
			}
			logger.Error("Dequeue failed", logger.Int("worker", n), logger.ErrorField(err))
			select {
			case <-p.stopCtx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		key := job.Key()
		if !p.beginWork(key) {
			logger.Info("Job already running, dropping duplicate", logger.String("job", key))
			continue
		}
		p.run(n, job)
		p.finishWork(key)
	}
}

func (p *WorkerPool) run(n int, job Job) {
	ctx, cancel := context.WithTimeout(p.jobCtx, p.jobTimeout)
	defer cancel()

	start := time.Now()
	logger.Info("Job started",
		logger.Int("worker", n),
		logger.String("kind", string(job.Kind)),
		logger.VideoID(job.VideoID))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked",
				logger.String("job", job.Key()),
				logger.Any("panic", r))
		}
	}()

	if err := p.handler(ctx, job); err != nil {
		logger.Error("Job failed",
			logger.String("kind", string(job.Kind)),
			logger.VideoID(job.VideoID),
			logger.Duration("elapsed", time.Since(start)),
			logger.ErrorField(err))
		return
	}
	logger.Info("Job finished",
		logger.String("kind", string(job.Kind)),
		logger.VideoID(job.VideoID),
		logger.Duration("elapsed", time.Since(start)))
}

func (p *WorkerPool) beginWork(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.inFlight[key]; exists {
		return false
	}
	p.inFlight[key] = struct{}{}
	return true
}

func (p *WorkerPool) finishWork(key string) {
	p.mu.Lock()
	delete(p.inFlight, key)
	p.mu.Unlock()
}
