package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/gearsauth/internal/domain/job"
	"github.com/geocoder89/gearsauth/internal/jobs"
	"github.com/geocoder89/gearsauth/internal/notifications"
	"github.com/geocoder89/gearsauth/internal/reqctx"
)

// ProcessOne claims and runs at most one job. It reports whether a job was claimed.
// Job failures are recorded on the job, not returned.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)

	j, err := w.repo.ClaimNext(claimCtx, w.cfg.WorkerID)
	cancel()

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return false, nil
		}

		return false, err
	}

	w.metrics.IncClaimed()
	if w.prom != nil {
		w.prom.JobsInFlight.Inc()
		defer w.prom.JobsInFlight.Dec()
	}

	start := time.Now()
	err = w.execute(ctx, j)
	elapsed := time.Since(start)
	w.metrics.ObserveDuration(elapsed)

	if err != nil {
		w.handleFailure(ctx, j, err, elapsed)
		return true, nil
	}

	err = w.repo.MarkDone(ctx, j.ID)

	if err != nil {
		_ = w.repo.MarkFailed(ctx, j.ID, "mark_done_failed: "+err.Error())
		return true, err
	}

	w.metrics.IncDone()
	w.observe(j, "done", elapsed)
	return true, nil
}

// permanentError marks failures that retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func (w *Worker) execute(ctx context.Context, j job.Job) error {
	t := jobs.JobType(j.Type)

	decoded, err := jobs.DecodePayload(t, j.Payload)
	if err != nil {
		return permanentError{err}
	}
	if err := jobs.ValidatePayload(t, decoded); err != nil {
		return permanentError{err}
	}

	switch p := decoded.(type) {
	case jobs.SendEmailPayload:
		sendCtx, cancel := context.WithTimeout(reqctx.WithRequestID(ctx, p.RequestID), w.cfg.SendTimeout)
		defer cancel()

		return w.sender.Send(sendCtx, notifications.Message{To: p.To, Subject: p.Subject, Body: p.Body})
	default:
		return permanentError{fmt.Errorf("%w: %s", jobs.ErrInvalidJobType, j.Type)}
	}
}

func (w *Worker) handleFailure(ctx context.Context, j job.Job, cause error, elapsed time.Duration) {
	var perm permanentError

	if errors.As(cause, &perm) || j.Exhausted() {
		if err := w.repo.MarkFailed(ctx, j.ID, cause.Error()); err != nil {
			w.log.ErrorContext(ctx, "mark job failed", "job_id", j.ID, "err", err)
		}
		w.metrics.IncFailed()
		w.metrics.IncDeadLettered()
		w.observe(j, "failed", elapsed)
		w.log.ErrorContext(ctx, "job failed permanently",
			"job_id", j.ID,
			"job_type", j.Type,
			"attempts", j.Attempts+1,
			"err", cause,
		)
		return
	}

	runAt := time.Now().UTC().Add(ExponentialBackoff(j.Attempts))

	if err := w.repo.Reschedule(ctx, j.ID, runAt, cause.Error()); err != nil {
		w.log.ErrorContext(ctx, "reschedule job", "job_id", j.ID, "err", err)
	}
	w.metrics.IncRetried()
	w.observe(j, "retry", elapsed)
	w.log.WarnContext(ctx, "job will be retried",
		"job_id", j.ID,
		"job_type", j.Type,
		"attempts", j.Attempts+1,
		"run_at", runAt,
		"err", cause,
	)
}

func (w *Worker) observe(j job.Job, result string, elapsed time.Duration) {
	if w.prom == nil {
		return
	}
	w.prom.JobResults.WithLabelValues(j.Type, result).Inc()
	w.prom.JobDuration.WithLabelValues(j.Type, result).Observe(elapsed.Seconds())
}
