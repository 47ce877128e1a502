// Package worker consumes operator job triggers from RabbitMQ and runs them
// on a small pool of goroutines.
package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// JobRunner executes the jobs a trigger asks for
type JobRunner interface {
	RunPoll(ctx context.Context) (*domain.JobRun, error)
	RunBackfill(ctx context.Context, days int) (*domain.JobRun, error)
}

// DeliverySource is the subset of the RabbitMQ client the worker consumes from
type DeliverySource interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker configuration
type Config struct {
	Logger          *slog.Logger
	Source          DeliverySource
	Runner          JobRunner
	WorkerID        string
	QueueName       string
	Concurrency     int
	PrefetchCount   int
	MaxBackfillDays int
}

// Worker pulls trigger messages and runs the matching job
type Worker struct {
	logger          *slog.Logger
	source          DeliverySource
	runner          JobRunner
	workerID        string
	queueName       string
	concurrency     int
	prefetchCount   int
	maxBackfillDays int

	jobsChan chan *triggerJob
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	return &Worker{
		logger:          cfg.Logger,
		source:          cfg.Source,
		runner:          cfg.Runner,
		workerID:        cfg.WorkerID,
		queueName:       cfg.QueueName,
		concurrency:     concurrency,
		prefetchCount:   prefetch,
		maxBackfillDays: cfg.MaxBackfillDays,
		jobsChan:        make(chan *triggerJob),
		stopChan:        make(chan struct{}),
	}
}

// Start subscribes to the trigger queue and blocks until ctx is canceled or
// the delivery channel closes.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop signals the pool and waits for triggers in progress to finish
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
