/**
 * Direct Redis Queue Consumer for the OCR Worker
 *
 * Compatible with producers that push job IDs onto a Redis LIST and keep
 * job bodies in the <queue>:data hash. Results and errors are written to
 * <queue>:results / <queue>:errors and announced on <queue>:events.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/pipeline"
)

var errNoJobs = stderrors.New("no jobs available")

// RedisJobData represents a job from the Redis queue
type RedisJobData struct {
	ID         string     `json:"id"`
	Type       string     `json:"type"`
	Payload    JobPayload `json:"payload"`
	CreatedAt  time.Time  `json:"createdAt"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"maxRetries"`
}

// RedisConsumer handles job consumption from a Redis LIST
type RedisConsumer struct {
	client  *redis.Client
	handler *Handler
	config  *RedisConsumerConfig
	logger  *logging.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// RedisConsumerConfig holds consumer configuration
type RedisConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Extractor         pipeline.Extractor
	ProcessingTimeout time.Duration
	ResultTTL         time.Duration
}

// NewRedisConsumer creates a new Redis-based queue consumer
func NewRedisConsumer(cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisConsumer(client, cfg)
}

func newRedisConsumer(client *redis.Client, cfg *RedisConsumerConfig) (*RedisConsumer, error) {
	if cfg.QueueName == "" {
		cfg.QueueName = "ocr:jobs"
	}

	if cfg.Extractor == nil {
		return nil, fmt.Errorf("Extractor is required")
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	consumerCtx, cancel := context.WithCancel(context.Background())

	return &RedisConsumer{
		client:  client,
		handler: NewHandler(cfg.Extractor, cfg.ProcessingTimeout),
		config:  cfg,
		logger:  logging.NewLogger("RedisConsumer").With("queue", cfg.QueueName),
		ctx:     consumerCtx,
		cancel:  cancel,
	}, nil
}

// Start begins processing jobs from the queue
func (c *RedisConsumer) Start() error {
	c.logger.Info("Starting Redis queue consumer", "concurrency", c.config.Concurrency)

	for i := 0; i < c.config.Concurrency; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}

	return nil
}

// Stop gracefully stops the consumer
func (c *RedisConsumer) Stop() error {
	c.logger.Info("Stopping queue consumer")
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

func (c *RedisConsumer) worker(id int) {
	defer c.wg.Done()
	log := c.logger.With("worker", id)
	log.Debug("Worker started")

	for {
		select {
		case <-c.ctx.Done():
			log.Debug("Worker stopping")
			return
		default:
		}

		if err := c.processNextJob(); err != nil {
			if stderrors.Is(err, errNoJobs) || c.ctx.Err() != nil {
				continue
			}
			log.Error("Worker error", "error", err)
			// back off before polling again
			select {
			case <-c.ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

func (c *RedisConsumer) key(suffix string) string {
	return fmt.Sprintf("%s:%s", c.config.QueueName, suffix)
}

// processNextJob fetches and processes the next job from the queue
func (c *RedisConsumer) processNextJob() error {
	result, err := c.client.BRPop(c.ctx, 5*time.Second, c.config.QueueName).Result()
	if err != nil {
		if err == redis.Nil {
			return errNoJobs
		}
		return fmt.Errorf("failed to fetch job: %w", err)
	}

	if len(result) < 2 {
		return fmt.Errorf("invalid job result")
	}
	jobID := result[1]

	jobData, err := c.client.HGet(c.ctx, c.key("data"), jobID).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data for %s: %w", jobID, err)
	}

	var job RedisJobData
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		c.fail(jobID, map[string]interface{}{"message": fmt.Sprintf("malformed job: %v", err)})
		return fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	if job.Payload.JobID == "" {
		job.Payload.JobID = job.ID
	}

	c.markProcessing(job.ID)

	env, err := c.handler.Handle(c.ctx, job.Type, job.Payload)
	if err != nil {
		job.Attempts++
		if errors.IsRetryable(err) && job.Attempts < job.MaxRetries {
			c.requeue(&job)
			return nil
		}
		c.fail(job.ID, env)
		return nil
	}

	c.complete(job.ID, env)
	return nil
}

func (c *RedisConsumer) requeue(job *RedisJobData) {
	updatedData, err := json.Marshal(job)
	if err != nil {
		c.logger.Error("Failed to encode job for retry", "job_id", job.ID, "error", err)
		return
	}
	pipe := c.client.TxPipeline()
	pipe.HSet(c.ctx, c.key("data"), job.ID, updatedData)
	pipe.SRem(c.ctx, c.key("processing"), job.ID)
	pipe.LPush(c.ctx, c.config.QueueName, job.ID)
	if _, err := pipe.Exec(c.ctx); err != nil {
		c.logger.Error("Failed to re-queue job", "job_id", job.ID, "error", err)
		return
	}
	c.logger.Info("Job re-queued for retry",
		"job_id", job.ID,
		"attempt", job.Attempts,
		"max_retries", job.MaxRetries)
}

func (c *RedisConsumer) markProcessing(jobID string) {
	c.client.SAdd(c.ctx, c.key("processing"), jobID)
	c.publish(jobID, "processing")
}

func (c *RedisConsumer) complete(jobID string, env interface{}) {
	c.store(jobID, "results", "completed", env)
}

func (c *RedisConsumer) fail(jobID string, env interface{}) {
	c.store(jobID, "errors", "failed", env)
}

// store moves jobID to the terminal set and writes its envelope.
func (c *RedisConsumer) store(jobID, hash, status string, env interface{}) {
	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Error("Failed to encode job result", "job_id", jobID, "error", err)
		return
	}

	pipe := c.client.TxPipeline()
	pipe.SRem(c.ctx, c.key("processing"), jobID)
	pipe.SAdd(c.ctx, c.key(status), jobID)
	pipe.HSet(c.ctx, c.key(hash), jobID, data)
	if c.config.ResultTTL > 0 {
		pipe.Expire(c.ctx, c.key(hash), c.config.ResultTTL)
	}
	if _, err := pipe.Exec(c.ctx); err != nil {
		c.logger.Error("Failed to store job result", "job_id", jobID, "status", status, "error", err)
	}
	c.publish(jobID, status)
}

// publish announces a status change for subscribers
func (c *RedisConsumer) publish(jobID, status string) {
	event := map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", status),
		"jobId":     jobID,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	eventData, _ := json.Marshal(event)
	if err := c.client.Publish(c.ctx, c.key("events"), eventData).Err(); err != nil {
		c.logger.Warn("Failed to publish job event", "job_id", jobID, "error", err)
	}
}

// GetStats returns queue statistics
func (c *RedisConsumer) GetStats(ctx context.Context) (map[string]int64, error) {
	pipe := c.client.Pipeline()
	waiting := pipe.LLen(ctx, c.config.QueueName)
	processing := pipe.SCard(ctx, c.key("processing"))
	completed := pipe.SCard(ctx, c.key("completed"))
	failed := pipe.SCard(ctx, c.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"waiting":    waiting.Val(),
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}
