/**
 * OCR Pipeline for the worker
 *
 * Composes fetch -> (optional) preprocess -> recognize -> normalize.
 * This is the only entry point the queue consumers and the CLI use.
 */

package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/fetcher"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/media"
	"github.com/adverant/nexus/ocr-worker/internal/normalizer"
	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
	"github.com/adverant/nexus/ocr-worker/internal/recognizer"
)

// ImageFetcher loads raw image bytes from a source
type ImageFetcher interface {
	Fetch(ctx context.Context, src fetcher.Source) (media.Image, error)
}

// Extractor defines the operations exposed to command layers
type Extractor interface {
	ExtractText(ctx context.Context, src fetcher.Source) (*normalizer.StructuredResult, error)
	ExtractTextEnhanced(ctx context.Context, src fetcher.Source) (*normalizer.StructuredResult, error)
	FindSupporterCode(ctx context.Context, src fetcher.Source, code string, phrases []string) (*SupporterMatch, error)
	Status() Status
}

// Config holds pipeline configuration
type Config struct {
	Fetcher               ImageFetcher
	Recognizer            recognizer.Recognizer
	MaxRetries            int
	PreprocessConcurrency int64
	Supporter             SupporterConfig
}

// Status reports whether recognition is available
type Status struct {
	Ready   bool   `json:"ready"`
	Backend string `json:"backend"`
}

// Pipeline runs extraction requests. Safe for concurrent use.
type Pipeline struct {
	fetcher    ImageFetcher
	recognizer recognizer.Recognizer
	maxRetries int
	supporter  SupporterConfig
	enhance    func(media.Image) (media.Image, error)
	sem        *semaphore.Weighted
	logger     *logging.Logger
}

// New creates a pipeline
func New(cfg Config) *Pipeline {
	if cfg.Fetcher == nil {
		cfg.Fetcher = fetcher.New(fetcher.Config{})
	}
	if cfg.Recognizer == nil {
		cfg.Recognizer = recognizer.NewDisabled("no recognizer configured")
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = recognizer.DefaultMaxRetries
	}
	if cfg.PreprocessConcurrency < 1 {
		cfg.PreprocessConcurrency = 2
	}

	return &Pipeline{
		fetcher:    cfg.Fetcher,
		recognizer: cfg.Recognizer,
		maxRetries: cfg.MaxRetries,
		supporter:  cfg.Supporter.withDefaults(),
		enhance:    preprocess.Enhance,
		sem:        semaphore.NewWeighted(cfg.PreprocessConcurrency),
		logger:     logging.NewLogger("Pipeline"),
	}
}

// ExtractText recognizes the image as-is
func (p *Pipeline) ExtractText(ctx context.Context, src fetcher.Source) (*normalizer.StructuredResult, error) {
	return p.run(ctx, src, false)
}

// ExtractTextEnhanced preprocesses the image before recognition
func (p *Pipeline) ExtractTextEnhanced(ctx context.Context, src fetcher.Source) (*normalizer.StructuredResult, error) {
	return p.run(ctx, src, true)
}

func (p *Pipeline) Status() Status {
	return Status{Ready: p.recognizer.Ready(), Backend: p.recognizer.Backend()}
}

func (p *Pipeline) run(ctx context.Context, src fetcher.Source, enhanced bool) (*normalizer.StructuredResult, error) {
	startTime := time.Now()
	log := p.logger.With("source", src.String(), "enhanced", enhanced)

	// Fail before downloading anything when recognition cannot run
	if !p.recognizer.Ready() {
		log.Warn("Recognition unavailable, rejecting request")
		return nil, errors.NewClientNotInitializedError()
	}

	img, err := p.fetcher.Fetch(ctx, src)
	if err != nil {
		log.Error("Image fetch failed", "error_code", errors.CodeOf(err), "error", err)
		return nil, err
	}
	log.Debug("Image loaded", "bytes", img.Size(), "content_type", img.ContentType)

	if enhanced {
		img, err = p.preprocess(ctx, img)
		if err != nil {
			log.Error("Preprocessing failed", "error_code", errors.CodeOf(err), "error", err)
			return nil, err
		}
		log.Debug("Image preprocessed", "bytes", img.Size())
	}

	raw, err := p.recognizer.Recognize(ctx, img, p.maxRetries)
	if err != nil {
		return nil, err
	}

	result := normalizer.Normalize(raw)
	log.Info("Text extracted",
		"chars", result.CharCount,
		"words", result.WordCount,
		"elements", result.ElementCount,
		"duration_ms", time.Since(startTime).Milliseconds())
	return result, nil
}

// preprocess runs the CPU-bound enhancement off the caller's goroutine,
// bounded by the shared semaphore.
func (p *Pipeline) preprocess(ctx context.Context, img media.Image) (media.Image, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return media.Image{}, errors.NewProcessingTimeoutError("preprocess wait", err)
	}

	type outcome struct {
		img media.Image
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer p.sem.Release(1)
		out, err := p.enhance(img)
		done <- outcome{img: out, err: err}
	}()

	select {
	case o := <-done:
		return o.img, o.err
	case <-ctx.Done():
		return media.Image{}, errors.NewProcessingTimeoutError("preprocess", ctx.Err())
	}
}
