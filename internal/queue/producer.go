package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Producer enqueues OCR tasks and reads back their result envelopes
type Producer struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
	retention time.Duration
	maxRetry  int
}

// ProducerConfig holds producer configuration
type ProducerConfig struct {
	RedisURL  string
	QueueName string
	ResultTTL time.Duration
	MaxRetry  int
}

// NewProducer creates a new task producer
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = 3
	}

	return &Producer{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		queue:     cfg.QueueName,
		retention: cfg.ResultTTL,
		maxRetry:  cfg.MaxRetry,
	}, nil
}

// NewTask builds an OCR task, assigning a job ID when the payload has none.
func NewTask(taskType string, payload JobPayload) (*asynq.Task, JobPayload, error) {
	switch taskType {
	case TypeExtract, TypeExtractEnhanced, TypeSupporterCode:
	default:
		return nil, payload, fmt.Errorf("unknown task type %q", taskType)
	}
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, payload, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	return asynq.NewTask(taskType, data), payload, nil
}

// Enqueue submits one task; the job ID doubles as the asynq task ID.
func (p *Producer) Enqueue(ctx context.Context, taskType string, payload JobPayload) (*asynq.TaskInfo, error) {
	task, payload, err := NewTask(taskType, payload)
	if err != nil {
		return nil, err
	}

	opts := []asynq.Option{
		asynq.Queue(p.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(p.maxRetry),
	}
	if p.retention > 0 {
		opts = append(opts, asynq.Retention(p.retention))
	}
	return p.client.EnqueueContext(ctx, task, opts...)
}

func (p *Producer) EnqueueExtract(ctx context.Context, payload JobPayload) (*asynq.TaskInfo, error) {
	return p.Enqueue(ctx, TypeExtract, payload)
}

func (p *Producer) EnqueueExtractEnhanced(ctx context.Context, payload JobPayload) (*asynq.TaskInfo, error) {
	return p.Enqueue(ctx, TypeExtractEnhanced, payload)
}

func (p *Producer) EnqueueSupporterCode(ctx context.Context, payload JobPayload) (*asynq.TaskInfo, error) {
	return p.Enqueue(ctx, TypeSupporterCode, payload)
}

// WaitResult polls until the task has written a result envelope, or ctx ends.
func (p *Producer) WaitResult(ctx context.Context, taskID string, interval time.Duration) (*Envelope, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		info, err := p.inspector.GetTaskInfo(p.queue, taskID)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect task %s: %w", taskID, err)
		}
		if len(info.Result) > 0 {
			var env Envelope
			if err := json.Unmarshal(info.Result, &env); err != nil {
				return nil, fmt.Errorf("failed to decode task result: %w", err)
			}
			return &env, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close releases the Redis connections
func (p *Producer) Close() error {
	if err := p.inspector.Close(); err != nil {
		return err
	}
	return p.client.Close()
}
