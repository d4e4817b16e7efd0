/**
 * ocrctl - one-shot OCR from the command line
 *
 * Runs a single extraction locally, or enqueues it for the worker, and
 * prints the JSON result envelope on stdout. Logs go to stderr.
 */

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/adverant/nexus/ocr-worker/internal/bootstrap"
	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/queue"
)

type options struct {
	url        string
	path       string
	mode       string
	code       string
	phrases    []string
	status     bool
	enqueue    bool
	wait       time.Duration
	configFile string
}

func parseFlags(args []string) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("ocrctl", flag.ContinueOnError)
	fs.StringVarP(&opts.url, "url", "u", "", "image URL to download")
	fs.StringVarP(&opts.path, "path", "p", "", "local image file")
	fs.StringVarP(&opts.mode, "mode", "m", "extract", "extract, enhanced or supporter")
	fs.StringVar(&opts.code, "code", "", "supporter code (supporter mode)")
	fs.StringSliceVar(&opts.phrases, "phrase", nil, "supporter phrase template containing {code}; repeatable")
	fs.BoolVar(&opts.status, "status", false, "print recognizer readiness and exit")
	fs.BoolVar(&opts.enqueue, "enqueue", false, "enqueue the job for the worker instead of running it here")
	fs.DurationVar(&opts.wait, "wait", 0, "with --enqueue, wait this long for the worker's result")
	fs.StringVarP(&opts.configFile, "config", "c", "", "config file (defaults to ./config.yaml when present)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if _, err := taskTypeForMode(opts.mode); err != nil {
		return nil, err
	}
	if !opts.status && (opts.url == "") == (opts.path == "") {
		return nil, fmt.Errorf("exactly one of --url or --path is required")
	}
	return opts, nil
}

func taskTypeForMode(mode string) (string, error) {
	switch mode {
	case "extract":
		return queue.TypeExtract, nil
	case "enhanced":
		return queue.TypeExtractEnhanced, nil
	case "supporter":
		return queue.TypeSupporterCode, nil
	}
	return "", fmt.Errorf("unknown mode %q (want extract, enhanced or supporter)", mode)
}

func (o *options) payload() queue.JobPayload {
	return queue.JobPayload{
		ImageURL:  o.url,
		ImagePath: o.path,
		Code:      o.code,
		Phrases:   o.phrases,
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	logging.SetOutput(os.Stderr)
	logger := logging.NewLogger("ocrctl")

	opts, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	_ = godotenv.Load(".env")
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return 1
	}
	if err := logging.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		logger.Error("Invalid logging configuration", "error", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if opts.enqueue {
		return enqueue(ctx, cfg, opts, stdout, logger)
	}

	rec := bootstrap.NewRecognizer(ctx, cfg)
	defer rec.Close()
	pipe := bootstrap.NewPipeline(cfg, rec)

	if opts.status {
		return printJSON(stdout, pipe.Status())
	}

	taskType, _ := taskTypeForMode(opts.mode)
	env, err := queue.NewHandler(pipe, cfg.ProcessingTimeout).Handle(ctx, taskType, opts.payload())
	if code := printJSON(stdout, env); code != 0 {
		return code
	}
	if err != nil {
		return 1
	}
	return 0
}

func enqueue(ctx context.Context, cfg *config.Config, opts *options, stdout io.Writer, logger *logging.Logger) int {
	producer, err := queue.NewProducer(queue.ProducerConfig{
		RedisURL:  cfg.RedisURL,
		QueueName: cfg.QueueName,
		ResultTTL: cfg.ResultTTL,
	})
	if err != nil {
		logger.Error("Failed to create producer", "error", err)
		return 1
	}
	defer producer.Close()

	taskType, _ := taskTypeForMode(opts.mode)
	info, err := producer.Enqueue(ctx, taskType, opts.payload())
	if err != nil {
		logger.Error("Failed to enqueue job", "error", err)
		return 1
	}
	logger.Info("Job enqueued", "job_id", info.ID, "queue", info.Queue, "type", info.Type)

	if opts.wait <= 0 {
		return printJSON(stdout, map[string]string{"jobId": info.ID, "queue": info.Queue, "type": info.Type})
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.wait)
	defer cancel()
	env, err := producer.WaitResult(waitCtx, info.ID, 0)
	if err != nil {
		logger.Error("No result received", "job_id", info.ID, "error", err)
		return 1
	}
	if code := printJSON(stdout, env); code != 0 {
		return code
	}
	if env.Status != queue.StatusCompleted {
		return 1
	}
	return 0
}

func printJSON(w io.Writer, v interface{}) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
