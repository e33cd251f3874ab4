// Package worker drains the send_email outbox: it claims jobs from postgres, delivers
// them through a notifications.Sender and reschedules failures with backoff.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/gearsauth/internal/domain/job"
	"github.com/geocoder89/gearsauth/internal/notifications"
	"github.com/geocoder89/gearsauth/internal/observability"
	"golang.org/x/sync/errgroup"
)

type JobsRepository interface {
	ClaimNext(ctx context.Context, workerID string) (job.Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error
	RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error)
}

type Config struct {
	PollInterval  time.Duration
	WorkerID      string
	Concurrency   int
	ShutdownGrace time.Duration
	// LockTTL is how long a processing job may stay locked before it is requeued.
	LockTTL     time.Duration
	SendTimeout time.Duration
}

type Worker struct {
	cfg     Config
	repo    JobsRepository
	sender  notifications.Sender
	log     *slog.Logger
	prom    *observability.Prom
	metrics *observability.JobMetrics

	readyMu sync.RWMutex
	ready   bool
}

// New builds a worker. prom may be nil.
func New(cfg Config, repo JobsRepository, sender notifications.Sender, log *slog.Logger, prom *observability.Prom) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	return &Worker{
		cfg:     cfg,
		repo:    repo,
		sender:  sender,
		log:     log.With("worker_id", cfg.WorkerID),
		prom:    prom,
		metrics: observability.NewJobMetrics(),
	}
}

func (w *Worker) Metrics() *observability.JobMetrics {
	return w.metrics
}

func (w *Worker) setReady(v bool) {
	w.readyMu.Lock()
	w.ready = v
	w.readyMu.Unlock()
}

func (w *Worker) IsReady() bool {
	w.readyMu.RLock()
	defer w.readyMu.RUnlock()
	return w.ready
}

// Run blocks until ctx is cancelled. In-flight jobs get ShutdownGrace to finish.
func (w *Worker) Run(ctx context.Context) error {
	w.setReady(true)
	defer w.setReady(false)

	w.log.InfoContext(ctx, "worker started", "concurrency", w.cfg.Concurrency)

	// jobs keep running after ctx ends until the grace period is over
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	go func() {
		<-ctx.Done()
		w.setReady(false)
		select {
		case <-time.After(w.cfg.ShutdownGrace):
			cancelJobs()
		case <-jobCtx.Done():
		}
	}()

	g := new(errgroup.Group)

	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			w.loop(ctx, jobCtx)
			return nil
		})
	}

	g.Go(func() error {
		w.reapLoop(ctx)
		return nil
	})

	err := g.Wait()
	w.log.Info("worker stopped")
	return err
}

func (w *Worker) loop(ctx, jobCtx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// drain while there is work, then wait for the next tick
		for ctx.Err() == nil {
			processed, err := w.ProcessOne(jobCtx)
			if err != nil {
				w.log.ErrorContext(ctx, "process job failed", "err", err)
				break
			}
			if !processed {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.LockTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.repo.RequeueStaleProcessing(ctx, w.cfg.LockTTL)
			if err != nil {
				w.log.ErrorContext(ctx, "requeue stale jobs failed", "err", err)
				continue
			}
			if n > 0 {
				w.metrics.AddRequeued(n)
				w.log.WarnContext(ctx, "requeued stale jobs", "count", n)
			}
		}
	}
}
