package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
	"github.com/cuongbtq/weather-pipeline/internal/metrics"
	amqp "github.com/rabbitmq/amqp091-go"
)

// triggerJob is a decoded trigger waiting for a pool goroutine
type triggerJob struct {
	trigger  domain.Trigger
	delivery amqp.Delivery
}

// setupConsumer applies QoS and returns the delivery channel
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	if err := w.source.Qos(w.prefetchCount); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	w.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.source.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
		slog.String("queue", w.queueName),
	)

	return deliveries, nil
}

// startMessageDispatcher decodes deliveries and hands valid triggers to the pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) {
	w.logger.Info("Message dispatcher started",
		slog.String("worker_id", w.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return

		case <-w.stopChan:
			w.logger.Info("Message dispatcher stopped - worker stopping")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			trigger, err := w.decode(delivery.Body)
			if err != nil {
				w.logger.Error("Rejected trigger message",
					slog.String("message_id", delivery.MessageId),
					slog.Any("error", err),
					slog.String("body", string(delivery.Body)),
				)
				metrics.IncTrigger("rejected")
				// malformed messages go to the dead-letter path, never back on the queue
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					w.logger.Error("Failed to NACK invalid trigger",
						slog.Any("error", nackErr),
					)
				}
				continue
			}

			job := &triggerJob{trigger: trigger, delivery: delivery}

			select {
			case w.jobsChan <- job:
				w.logger.Debug("Trigger dispatched to worker pool",
					slog.String("trigger_id", trigger.TriggerID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching trigger")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK trigger on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return
			case <-w.stopChan:
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					w.logger.Error("Failed to NACK trigger on shutdown",
						slog.Any("error", nackErr),
					)
				}
				return
			}
		}
	}
}

func (w *Worker) decode(body []byte) (domain.Trigger, error) {
	var trigger domain.Trigger
	if err := json.Unmarshal(body, &trigger); err != nil {
		return domain.Trigger{}, fmt.Errorf("%w: %v", domain.ErrInvalidTrigger, err)
	}
	if err := trigger.Validate(w.maxBackfillDays); err != nil {
		return domain.Trigger{}, err
	}
	return trigger, nil
}
