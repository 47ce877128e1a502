package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
	"github.com/cuongbtq/weather-pipeline/internal/metrics"
)

// processTrigger runs the job a trigger names. A trigger skipped because the
// job is already running counts as handled.
func (w *Worker) processTrigger(ctx context.Context, job *triggerJob, logger *slog.Logger) error {
	logger.Info("Processing trigger",
		slog.Int("days", job.trigger.Days),
		slog.String("requested_by", job.trigger.RequestedBy),
	)

	var (
		run *domain.JobRun
		err error
	)
	switch job.trigger.Job {
	case domain.TriggerBackfill:
		run, err = w.runner.RunBackfill(ctx, job.trigger.Days)
	default:
		run, err = w.runner.RunPoll(ctx)
	}

	if errors.Is(err, domain.ErrJobAlreadyRunning) {
		metrics.IncTrigger("skipped")
		logger.Info("Job already running, trigger skipped",
			slog.String("job_name", job.trigger.JobName()),
		)
		return nil
	}

	if err != nil {
		metrics.IncTrigger("failed")
		attrs := []any{slog.Any("error", err)}
		if run != nil {
			attrs = append(attrs, slog.String("run_id", run.ID))
		}
		logger.Error("Triggered job failed", attrs...)
		return retryableIfStore(err)
	}

	metrics.IncTrigger("ran")
	logger.Info("Triggered job completed",
		slog.String("run_id", run.ID),
		slog.String("status", run.Status),
	)
	return nil
}
