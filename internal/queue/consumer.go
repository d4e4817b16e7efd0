/**
 * Queue Consumer for the OCR Worker
 *
 * Consumes OCR tasks with Asynq. Every task writes its result envelope
 * through the task ResultWriter; deterministic failures skip retries.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/pipeline"
)

// Consumer handles task consumption from the Redis-backed asynq queue
type Consumer struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	handler *Handler
	config  *ConsumerConfig
	logger  *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Extractor         pipeline.Extractor
	ProcessingTimeout time.Duration
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Extractor == nil {
		return nil, fmt.Errorf("Extractor is required")
	}

	// Parse Redis connection options
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("QueueConsumer")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			RetryDelayFunc: retryDelay,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error",
					"type", task.Type(),
					"error_code", errors.CodeOf(err),
					"error", err)
			}),
		},
	)

	consumer := &Consumer{
		server:  server,
		mux:     asynq.NewServeMux(),
		handler: NewHandler(cfg.Extractor, cfg.ProcessingTimeout),
		config:  cfg,
		logger:  logger,
	}
	consumer.registerHandlers()

	return consumer, nil
}

func (c *Consumer) registerHandlers() {
	for _, taskType := range []string{TypeExtract, TypeExtractEnhanced, TypeSupporterCode} {
		c.mux.HandleFunc(taskType, c.handleTask)
	}
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting queue consumer",
		"concurrency", c.config.Concurrency,
		"queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	c.logger.Info("Queue consumer stopped")
	return nil
}

// handleTask decodes one OCR task, runs it and records the envelope.
func (c *Consumer) handleTask(ctx context.Context, task *asynq.Task) error {
	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		if id, ok := asynq.GetTaskID(ctx); ok {
			payload.JobID = id
		}
	}

	env, err := c.handler.Handle(ctx, task.Type(), payload)
	if writeErr := writeResult(task, env); writeErr != nil {
		c.logger.Warn("Failed to write task result", "job_id", env.JobID, "error", writeErr)
	}

	if err != nil {
		if !errors.IsRetryable(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

func writeResult(task *asynq.Task, env *Envelope) error {
	rw := task.ResultWriter()
	if rw == nil {
		return nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = rw.Write(data)
	return err
}

// retryDelay backs off 5s, 10s, 20s... capped at one minute.
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	if n > 4 {
		return 60 * time.Second
	}
	delay := time.Duration(5*(1<<uint(n))) * time.Second
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
		"mode":        "asynq",
	}
}
