package recognizer

import (
	"context"
	"math/rand"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/media"
)

// RetryState describes one scheduled retry
type RetryState struct {
	Attempt int // zero-based attempt that just failed
	Code    errors.ErrorCode
	Delay   time.Duration
}

// Client wraps an Annotator with classification and exponential backoff
type Client struct {
	annotator Annotator
	logger    *logging.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	jitter    func() time.Duration
	onRetry   func(RetryState)
}

// Option configures a Client
type Option func(*Client)

// WithSleep replaces the backoff sleep. The function must return ctx.Err()
// when the context ends first.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithJitter replaces the random component added to each backoff.
func WithJitter(jitter func() time.Duration) Option {
	return func(c *Client) { c.jitter = jitter }
}

// WithRetryHook is called before every backoff sleep.
func WithRetryHook(hook func(RetryState)) Option {
	return func(c *Client) { c.onRetry = hook }
}

// NewClient creates a retrying recognizer around annotator
func NewClient(annotator Annotator, opts ...Option) *Client {
	c := &Client{
		annotator: annotator,
		logger:    logging.NewLogger("Recognizer").With("backend", annotator.Name()),
		sleep:     sleepContext,
		jitter:    randomJitter,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Recognize sends img to the backend, retrying transient failures up to
// maxRetries total attempts. Attempt k waits 2^k seconds plus jitter before
// attempt k+1.
func (c *Client) Recognize(ctx context.Context, img media.Image, maxRetries int) (*Result, error) {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewProcessingTimeoutError("recognition", err)
		}

		c.logger.Debug("Sending recognition request",
			"attempt", attempt+1,
			"max_attempts", maxRetries,
			"image_size", img.Size())

		resp, err := c.annotator.Annotate(ctx, img)
		if err == nil {
			if resp.ErrorMessage != "" {
				c.logger.Error("Recognition service reported an error", "message", resp.ErrorMessage)
				return nil, classifyInBand(resp.ErrorMessage)
			}
			c.logger.Debug("Recognition completed",
				"attempt", attempt+1,
				"annotations", len(resp.Annotations))
			return &Result{Annotations: resp.Annotations, Confidence: resp.Confidence}, nil
		}

		// a cancelled caller surfaces as a transport error; don't retry it
		if ctx.Err() != nil {
			return nil, errors.NewProcessingTimeoutError("recognition", err)
		}

		classified, retryable := classify(err)
		if !retryable {
			c.logger.Error("Recognition failed permanently",
				"attempt", attempt+1,
				"error_code", classified.Code,
				"error", err)
			return nil, classified
		}
		lastErr = classified

		if attempt == maxRetries-1 {
			break
		}

		delay := backoff(attempt) + c.jitter()
		c.logger.Warn("Recognition attempt failed, backing off",
			"attempt", attempt+1,
			"error_code", classified.Code,
			"delay", delay.String())
		if c.onRetry != nil {
			c.onRetry(RetryState{Attempt: attempt, Code: classified.Code, Delay: delay})
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, errors.NewProcessingTimeoutError("retry backoff", err)
		}
	}

	c.logger.Error("Recognition retries exhausted", "attempts", maxRetries, "error", lastErr)
	return nil, errors.NewRetriesExhaustedError(maxRetries, lastErr)
}

// Ready always reports true; a Client only exists once its backend does.
func (c *Client) Ready() bool { return true }

func (c *Client) Backend() string { return c.annotator.Name() }

func (c *Client) Close() error { return c.annotator.Close() }

func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

func randomJitter() time.Duration {
	return time.Duration(rand.Float64() * float64(time.Second))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
