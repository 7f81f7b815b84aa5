package cmd

import (
	"context"
	"fmt"
	"sync"

	"videoflix/cache"
	"videoflix/config"
	"videoflix/core/encoder"
	"videoflix/core/hls"
	"videoflix/core/library"
	"videoflix/core/pipeline"
	"videoflix/core/queue"
	"videoflix/db"
	"videoflix/logger"
	"videoflix/repository"
	"videoflix/storage"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// app holds everything a command needs, wired from the configuration.
type app struct {
	cfg    *config.Config
	gdb    *gorm.DB
	rdb    *redis.Client
	mirror *storage.Mirror

	videos repository.VideoRepository
	users  repository.UserRepository
	orch   *pipeline.Orchestrator
	jobs   queue.Queue
	lib    *library.Library
	pool   *queue.WorkerPool

	// set for in-process queues: counts jobs that were enqueued but have
	// not finished yet
	pending *sync.WaitGroup
}

// newApp loads the configuration and connects the database, Redis and
// MinIO when they are enabled.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.InitLogger(cfg.Log); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.gdb, err = db.Open(cfg)
	if err != nil {
		return nil, err
	}
	a.videos = repository.NewGormVideoRepository(a.gdb)
	a.users = repository.NewGormUserRepository(a.gdb)

	var locker pipeline.Locker
	if cfg.RedisEnabled {
		a.rdb, err = db.ConnectRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		logger.Info("Redis connected",
			logger.String("addr", a.rdb.Options().Addr),
			logger.Int("db", cfg.RedisDB))
		// the lease must outlive the longest job it guards
		locker = pipeline.NewRedisLocker(a.rdb, cfg.JobTimeout+cfg.EncodeTimeout)
		a.jobs = queue.NewRedisQueue(a.rdb, queue.DefaultRedisKey)
		a.videos = cache.NewVideoRepository(a.videos, a.rdb, 0)
	} else {
		locker = pipeline.NewKeyedMutex()
		a.pending = &sync.WaitGroup{}
		a.jobs = &trackedQueue{Queue: queue.NewMemoryQueue(cfg.QueueSize), pending: a.pending}
	}

	invoker := encoder.NewInvoker(cfg.FFmpegPath, cfg.EncodeTimeout, nil)
	builder := hls.NewBuilder(invoker, cfg.Transcode())
	a.orch = pipeline.NewOrchestrator(cfg.MediaRoot, cfg.Renditions, builder, a.videos, locker)
	if err := a.orch.CleanStaging(); err != nil {
		logger.Warn("Failed to clean staging directory", logger.ErrorField(err))
	}

	a.lib = library.New(cfg.MediaRoot, a.videos, a.jobs, a.orch)

	if cfg.MinioEnabled {
		a.mirror, err = storage.NewMirror(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.orch.SetPublisher(a.mirror)
		a.lib.SetMirror(a.mirror)
		logger.Info("MinIO mirror enabled",
			logger.String("endpoint", cfg.MinioEndpoint),
			logger.String("bucket", a.mirror.Bucket()))
	}

	a.pool = queue.NewWorkerPool(a.jobs, a.handleJob, cfg.WorkerCount, cfg.JobTimeout)
	ok = true
	return a, nil
}

func (a *app) handleJob(ctx context.Context, job queue.Job) error {
	if a.pending != nil {
		defer a.pending.Done()
	}
	return a.lib.HandleJob(ctx, job)
}

// waitPending blocks until every job enqueued on the in-process queue ran.
func (a *app) waitPending(ctx context.Context) error {
	if a.pending == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		a.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases connections. Safe on a partially built app.
func (a *app) Close() {
	if a.jobs != nil {
		a.jobs.Close()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			logger.Warn("Failed to close Redis", logger.ErrorField(err))
		}
	}
	if err := db.Close(a.gdb); err != nil {
		logger.Warn("Failed to close database", logger.ErrorField(err))
	}
	logger.Sync()
}

// trackedQueue counts jobs from Enqueue until the handler finishes them.
type trackedQueue struct {
	queue.Queue
	pending *sync.WaitGroup
}

func (q *trackedQueue) Enqueue(ctx context.Context, job queue.Job) error {
	q.pending.Add(1)
	if err := q.Queue.Enqueue(ctx, job); err != nil {
		q.pending.Done()
		return err
	}
	return nil
}
