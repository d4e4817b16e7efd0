/**
 * OCR Worker - Main Entry Point
 *
 * Go worker for image-to-text extraction.
 *
 * Architecture:
 * - Asynq consumer (or plain Redis LIST consumer) for the job queue
 * - Pipeline: fetch -> preprocess -> recognize -> normalize
 * - Cloud Vision recognition with Tesseract as an offline alternative
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/ocr-worker/internal/bootstrap"
	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/pipeline"
	"github.com/adverant/nexus/ocr-worker/internal/queue"
)

// runningConsumer is the part of both consumers main needs at shutdown
type runningConsumer struct {
	stop  func(ctx context.Context) error
	stats func(ctx context.Context) (interface{}, error)
}

func main() {
	logger := logging.NewLogger("Worker")

	// Load environment variables
	if err := godotenv.Load(".env"); err != nil {
		logger.Warn(".env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := logging.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		logger.Error("Invalid logging configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("OCR Worker starting",
		"backend", cfg.OCRBackend,
		"queue_mode", cfg.QueueMode,
		"queue", cfg.QueueName,
		"workers", cfg.WorkerConcurrency)

	ctx := context.Background()
	rec := bootstrap.NewRecognizer(ctx, cfg)
	defer rec.Close()

	pipe := bootstrap.NewPipeline(cfg, rec)
	status := pipe.Status()
	if !status.Ready {
		logger.Warn("OCR unavailable; jobs will be answered with an unavailable status")
	}

	consumer, err := startConsumer(ctx, cfg, pipe)
	if err != nil {
		logger.Error("Failed to start queue consumer", "error", err)
		os.Exit(1)
	}

	logger.Info("===========================================")
	logger.Info("OCR Worker is READY",
		"ocr_ready", status.Ready,
		"backend", status.Backend,
		"queue", cfg.QueueName,
		"workers", cfg.WorkerConcurrency)
	logger.Info("===========================================")

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown", "signal", sig.String())

	if stats, err := consumer.stats(ctx); err == nil {
		logger.Info("Queue statistics", "stats", stats)
	}
	if err := consumer.stop(ctx); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	}

	logger.Info("Shutdown complete")
}

func startConsumer(ctx context.Context, cfg *config.Config, pipe pipeline.Extractor) (*runningConsumer, error) {
	if cfg.QueueMode == config.QueueModeList {
		consumer, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.WorkerConcurrency,
			Extractor:         pipe,
			ProcessingTimeout: cfg.ProcessingTimeout,
			ResultTTL:         cfg.ResultTTL,
		})
		if err != nil {
			return nil, err
		}
		if err := consumer.Start(); err != nil {
			return nil, err
		}
		return &runningConsumer{
			stop: func(context.Context) error { return consumer.Stop() },
			stats: func(ctx context.Context) (interface{}, error) {
				return consumer.GetStats(ctx)
			},
		}, nil
	}

	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Extractor:         pipe,
		ProcessingTimeout: cfg.ProcessingTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx); err != nil {
		return nil, err
	}
	return &runningConsumer{
		stop: consumer.Stop,
		stats: func(context.Context) (interface{}, error) {
			return consumer.GetStatistics(), nil
		},
	}, nil
}
