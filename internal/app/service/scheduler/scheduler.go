package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/fatflowers/tunnelbot/internal/app/service/jobs"
	"github.com/fatflowers/tunnelbot/internal/app/service/outbox"
	"github.com/fatflowers/tunnelbot/internal/models"
	"github.com/fatflowers/tunnelbot/pkg/clock"
	"github.com/fatflowers/tunnelbot/pkg/joberr"
	"github.com/fatflowers/tunnelbot/pkg/logctx"
	"github.com/fatflowers/tunnelbot/pkg/metrics"
)

// Scheduler polls the outbox and runs due jobs one at a time.
type Scheduler struct {
	cfg      Config
	store    *outbox.Store
	registry *jobs.Registry
	metrics  *metrics.JobMetrics
	clock    clock.Clock
	log      *zap.SugaredLogger
}

func New(cfg Config, store *outbox.Store, registry *jobs.Registry, m *metrics.JobMetrics, clk clock.Clock, log *zap.SugaredLogger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg:      cfg,
		store:    store,
		registry: registry,
		metrics:  m,
		clock:    clk,
		log:      log.With("worker_id", cfg.WorkerID),
	}
}

// RunForever runs cycles until ctx is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	s.log.Infow("scheduler_started", "poll_interval", s.cfg.PollInterval, "batch_size", s.cfg.BatchSize, "job_types", s.registry.Types())
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warnw("scheduler_cycle_failed", "err", err)
		}
		select {
		case <-ctx.Done():
			s.log.Infow("scheduler_stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce reclaims expired leases, then processes one batch of due jobs.
// It returns the number of jobs this worker leased.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	reclaimed, err := s.store.ReleaseExpiredLeases(ctx)
	if err != nil {
		return 0, err
	}
	s.metrics.Reclaimed(reclaimed)

	due, err := s.store.ClaimDue(ctx, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range due {
		if ctx.Err() != nil {
			break
		}
		ok, err := s.process(ctx, &due[i])
		if err != nil {
			s.log.Errorw("job_bookkeeping_failed", "job_id", due[i].ID, "err", err)
			continue
		}
		if ok {
			processed++
		}
	}
	s.metrics.Claimed(processed)
	return processed, nil
}

// process leases and runs a single job. It returns false when another
// worker leased the job first.
func (s *Scheduler) process(ctx context.Context, job *models.Job) (bool, error) {
	ok, err := s.store.MarkRunning(ctx, job, s.cfg.WorkerID, s.cfg.LeaseTTL)
	if err != nil || !ok {
		return false, err
	}

	// a leased job runs to completion and records its outcome even when shutdown starts
	ctx = context.WithoutCancel(ctx)
	jobType := string(job.JobType)
	ctx, log := logctx.WithFields(ctx, s.log, "job_id", job.ID, "job_type", jobType, "attempt", job.Attempts+1)

	handler, found := s.registry.Lookup(job.JobType)
	if !found {
		log.Errorw("job_unknown_type")
		s.metrics.ObserveJob(jobType, metrics.JobResultUnknownType, 0)
		return true, s.store.MarkFailed(ctx, job, outbox.ErrMsgUnknownJobType)
	}

	start := s.clock.Now()
	runErr := s.invoke(ctx, handler, job)
	elapsed := s.clock.Now().Sub(start)

	var result string
	switch {
	case runErr == nil:
		err = s.store.MarkDone(ctx, job)
		result = metrics.JobResultDone
		log.Infow("job_done", "elapsed_ms", elapsed.Milliseconds())
	case joberr.IsPermanent(runErr):
		err = s.store.MarkFailed(ctx, job, runErr.Error())
		result = metrics.JobResultFailed
		log.Errorw("job_failed_permanent", "err", runErr)
	case job.Exhausted():
		err = s.store.MarkFailed(ctx, job, runErr.Error())
		result = metrics.JobResultFailed
		log.Errorw("job_failed_exhausted", "err", runErr, "max_attempts", job.MaxAttempts)
	default:
		delay := RetryDelay(job.Attempts, s.cfg.BaseBackoff, s.cfg.MaxBackoff)
		err = s.store.Reschedule(ctx, job, delay, runErr.Error())
		result = metrics.JobResultRetry
		log.Warnw("job_rescheduled", "err", runErr, "delay", delay)
	}
	if errors.Is(err, outbox.ErrLeaseLost) {
		result = metrics.JobResultLeaseLost
		log.Warnw("job_lease_lost")
		err = nil
	}
	s.metrics.ObserveJob(jobType, result, elapsed)
	return true, err
}

// invoke runs the handler under the job timeout and turns panics into errors.
func (s *Scheduler) invoke(ctx context.Context, h jobs.Handler, job *models.Job) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			logctx.FromCtx(ctx, s.log).Errorw("job_panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, job)
}
