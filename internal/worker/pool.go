package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
)

// spawnWorkerPool spawns the trigger goroutines
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop runs triggers until the worker stops
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case job := <-w.jobsChan:
			logger := w.logger.With(
				slog.String("worker_name", workerName),
				slog.String("trigger_id", job.trigger.TriggerID),
				slog.String("job", job.trigger.Job),
			)

			err := w.processTrigger(ctx, job, logger)
			if err == nil {
				if ackErr := job.delivery.Ack(false); ackErr != nil {
					logger.Error("Failed to ACK trigger", slog.Any("error", ackErr))
				}
				continue
			}

			requeue := shouldRequeue(err, job.delivery.Redelivered)
			if nackErr := job.delivery.Nack(false, requeue); nackErr != nil {
				logger.Error("Failed to NACK trigger", slog.Any("error", nackErr))
			} else {
				logger.Info("Trigger NACKed", slog.Bool("requeue", requeue))
			}
		}
	}
}

// shouldRequeue gives a trigger one more delivery when its run was cut short by
// shutdown or failed on the store. Anything else is final.
func shouldRequeue(err error, redelivered bool) bool {
	if redelivered {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var retryable *RetryableError
	return errors.As(err, &retryable)
}

// RetryableError marks a trigger failure worth one more delivery
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func retryableIfStore(err error) error {
	if domain.IsStoreError(err) {
		return &RetryableError{Err: err}
	}
	return err
}
