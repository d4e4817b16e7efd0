/**
 * Configuration for the OCR Worker
 *
 * Values resolve in order: environment, optional config.yaml, defaults.
 * Keys are the lower-cased environment names (REDIS_URL -> redis_url).
 */

package config

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendVision    = "vision"
	BackendTesseract = "tesseract"
	BackendDisabled  = "disabled"

	QueueModeAsynq = "asynq"
	QueueModeList  = "list"
)

// Config holds worker configuration
type Config struct {
	// Recognition backend
	OCRBackend            string
	GoogleCredentialsPath string
	VisionMode            string
	LanguageHints         []string
	TesseractLanguages    []string
	MaxRetries            int

	// Image acquisition
	DownloadTimeout       time.Duration
	MaxDownloadBytes      int64
	PreprocessConcurrency int

	// Supporter code matching
	SupporterCode          string
	SupporterPhrases       []string
	SupporterAllowBareCode bool

	// Redis / queue configuration
	RedisURL          string
	QueueMode         string
	QueueName         string
	WorkerConcurrency int
	ProcessingTimeout time.Duration
	ResultTTL         time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadConfig loads configuration from the environment and an optional
// config.yaml in the working directory or ./config.
func LoadConfig() (*Config, error) {
	return Load("")
}

// Load is LoadConfig with an explicit config file. An explicit file must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	if err := v.BindEnv("google_credentials_path", "GOOGLE_CREDENTIALS_PATH", "GOOGLE_APPLICATION_CREDENTIALS"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !stderrors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{
		OCRBackend:             strings.ToLower(v.GetString("ocr_backend")),
		GoogleCredentialsPath:  v.GetString("google_credentials_path"),
		VisionMode:             strings.ToLower(v.GetString("vision_mode")),
		LanguageHints:          listValue(v, "ocr_language_hints", ","),
		TesseractLanguages:     listValue(v, "tesseract_languages", ","),
		MaxRetries:             v.GetInt("ocr_max_retries"),
		DownloadTimeout:        v.GetDuration("download_timeout"),
		MaxDownloadBytes:       v.GetInt64("max_download_bytes"),
		PreprocessConcurrency:  v.GetInt("preprocess_concurrency"),
		SupporterCode:          v.GetString("supporter_code"),
		SupporterPhrases:       listValue(v, "supporter_phrases", "|"),
		SupporterAllowBareCode: v.GetBool("supporter_allow_bare_code"),
		RedisURL:               v.GetString("redis_url"),
		QueueMode:              strings.ToLower(v.GetString("queue_mode")),
		QueueName:              v.GetString("queue_name"),
		WorkerConcurrency:      v.GetInt("worker_concurrency"),
		ProcessingTimeout:      v.GetDuration("processing_timeout"),
		ResultTTL:              v.GetDuration("result_ttl"),
		LogLevel:               v.GetString("log_level"),
		LogFormat:              strings.ToLower(v.GetString("log_format")),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ocr_backend", BackendVision)
	v.SetDefault("google_credentials_path", "")
	v.SetDefault("vision_mode", "text")
	v.SetDefault("ocr_language_hints", "")
	v.SetDefault("tesseract_languages", "eng")
	v.SetDefault("ocr_max_retries", 3)

	v.SetDefault("download_timeout", 30*time.Second)
	v.SetDefault("max_download_bytes", 50*1024*1024)
	v.SetDefault("preprocess_concurrency", 2)

	v.SetDefault("supporter_code", "Vascurado")
	v.SetDefault("supporter_phrases", "")
	v.SetDefault("supporter_allow_bare_code", false)

	v.SetDefault("redis_url", "redis://localhost:6379")
	v.SetDefault("queue_mode", QueueModeAsynq)
	v.SetDefault("queue_name", "ocr")
	v.SetDefault("worker_concurrency", 4)
	v.SetDefault("processing_timeout", 2*time.Minute)
	v.SetDefault("result_ttl", 24*time.Hour)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	switch c.OCRBackend {
	case BackendVision, BackendTesseract, BackendDisabled:
	default:
		return fmt.Errorf("OCR_BACKEND must be one of vision, tesseract, disabled, got %q", c.OCRBackend)
	}

	if c.VisionMode != "text" && c.VisionMode != "document" {
		return fmt.Errorf("VISION_MODE must be text or document, got %q", c.VisionMode)
	}

	if c.MaxRetries < 1 || c.MaxRetries > 10 {
		return fmt.Errorf("OCR_MAX_RETRIES must be between 1 and 10, got %d", c.MaxRetries)
	}

	if c.DownloadTimeout <= 0 {
		return fmt.Errorf("DOWNLOAD_TIMEOUT must be positive, got %v", c.DownloadTimeout)
	}

	if c.MaxDownloadBytes < 1024 {
		return fmt.Errorf("MAX_DOWNLOAD_BYTES must be at least 1KB, got %d", c.MaxDownloadBytes)
	}

	if c.PreprocessConcurrency < 1 {
		return fmt.Errorf("PREPROCESS_CONCURRENCY must be at least 1, got %d", c.PreprocessConcurrency)
	}

	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.QueueMode != QueueModeAsynq && c.QueueMode != QueueModeList {
		return fmt.Errorf("QUEUE_MODE must be asynq or list, got %q", c.QueueMode)
	}

	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.ProcessingTimeout <= 0 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be positive, got %v", c.ProcessingTimeout)
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}

	return nil
}

// listValue reads a list either as a YAML sequence or as a sep-delimited
// string (the only form environment variables can carry).
func listValue(v *viper.Viper, key, sep string) []string {
	var raw []string
	switch value := v.Get(key).(type) {
	case string:
		raw = strings.Split(value, sep)
	case []string:
		raw = value
	case []interface{}:
		for _, item := range value {
			raw = append(raw, fmt.Sprint(item))
		}
	}

	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
