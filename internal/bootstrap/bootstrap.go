// Package bootstrap builds the recognizer and pipeline from configuration.
// Shared by the worker and the ocrctl command.
package bootstrap

import (
	"context"
	"net/http"

	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/fetcher"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/pipeline"
	"github.com/adverant/nexus/ocr-worker/internal/recognizer"
	"github.com/adverant/nexus/ocr-worker/internal/recognizer/tesseract"
	"github.com/adverant/nexus/ocr-worker/internal/recognizer/vision"
)

var logger = logging.NewLogger("Bootstrap")

// NewRecognizer selects the configured backend. Credential problems never
// abort startup: the disabled recognizer is installed instead and the
// worker reports OCR as unavailable.
func NewRecognizer(ctx context.Context, cfg *config.Config) recognizer.Recognizer {
	switch cfg.OCRBackend {
	case config.BackendDisabled:
		logger.Warn("OCR backend disabled by configuration")
		return recognizer.NewDisabled("disabled by configuration")

	case config.BackendTesseract:
		logger.Info("Using Tesseract backend", "languages", cfg.TesseractLanguages)
		return recognizer.NewClient(tesseract.NewAnnotator(tesseract.Config{Languages: cfg.TesseractLanguages}))

	default:
		annotator, err := vision.NewAnnotator(ctx, vision.Config{
			CredentialsPath: cfg.GoogleCredentialsPath,
			Mode:            cfg.VisionMode,
			LanguageHints:   cfg.LanguageHints,
		})
		if err != nil {
			logger.Error("Cloud Vision client unavailable, OCR disabled",
				"error_code", errors.CodeOf(err),
				"credentials_path", cfg.GoogleCredentialsPath,
				"error", err)
			return recognizer.NewDisabled(err.Error())
		}
		logger.Info("Using Cloud Vision backend", "mode", cfg.VisionMode)
		return recognizer.NewClient(annotator)
	}
}

// NewPipeline wires fetcher, recognizer and supporter defaults.
func NewPipeline(cfg *config.Config, rec recognizer.Recognizer) *pipeline.Pipeline {
	return pipeline.New(pipeline.Config{
		Fetcher: fetcher.New(fetcher.Config{
			Timeout:    cfg.DownloadTimeout,
			MaxBytes:   cfg.MaxDownloadBytes,
			HTTPClient: &http.Client{},
		}),
		Recognizer:            rec,
		MaxRetries:            cfg.MaxRetries,
		PreprocessConcurrency: int64(cfg.PreprocessConcurrency),
		Supporter: pipeline.SupporterConfig{
			Code:          cfg.SupporterCode,
			Phrases:       cfg.SupporterPhrases,
			AllowBareCode: cfg.SupporterAllowBareCode,
		},
	})
}
