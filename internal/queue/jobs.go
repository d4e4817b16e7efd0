/**
 * Job handling shared by the asynq and Redis LIST consumers
 *
 * Decodes payloads into pipeline sources, runs the requested operation
 * under the processing timeout and builds the result envelope.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/fetcher"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/normalizer"
	"github.com/adverant/nexus/ocr-worker/internal/pipeline"
)

// Task types
const (
	TypeExtract         = "ocr:extract"
	TypeExtractEnhanced = "ocr:extract_enhanced"
	TypeSupporterCode   = "ocr:supporter_code"
)

// Envelope statuses
const (
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusUnavailable = "unavailable"
)

// DefaultProcessingTimeout bounds one job when none is configured
const DefaultProcessingTimeout = 2 * time.Minute

// JobPayload is the wire format of one OCR job
type JobPayload struct {
	JobID     string   `json:"jobId"`
	ImageURL  string   `json:"imageUrl,omitempty"`
	ImagePath string   `json:"imagePath,omitempty"`
	ImageData []byte   `json:"imageData,omitempty"`
	Filename  string   `json:"filename,omitempty"`
	Code      string   `json:"code,omitempty"`
	Phrases   []string `json:"phrases,omitempty"`
}

// UnmarshalJSON accepts imageData as a base64 string or as a Node.js
// Buffer object ({"type":"Buffer","data":[...]}).
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		ImageData interface{} `json:"imageData,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	switch v := aux.ImageData.(type) {
	case nil:
		p.ImageData = nil
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 imageData: %w", err)
		}
		p.ImageData = decoded
	case map[string]interface{}:
		if bufferType, ok := v["type"].(string); !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.ImageData = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.ImageData[i] = byte(byteVal)
		}
	default:
		return fmt.Errorf("imageData must be either base64 string or Buffer object, got %T", v)
	}
	return nil
}

// Source converts the payload into exactly one pipeline source.
func (p JobPayload) Source() (fetcher.Source, error) {
	if p.Filename != "" && !fetcher.IsSupportedImageName(p.Filename) {
		return fetcher.Source{}, errors.NewInvalidSourceError(
			fmt.Sprintf("unsupported attachment type: %s", p.Filename))
	}

	var sources []fetcher.Source
	if p.ImageURL != "" {
		sources = append(sources, fetcher.FromURL(p.ImageURL))
	}
	if p.ImagePath != "" {
		sources = append(sources, fetcher.FromPath(p.ImagePath))
	}
	if p.ImageData != nil {
		sources = append(sources, fetcher.FromBytes(p.ImageData))
	}

	switch len(sources) {
	case 0:
		return fetcher.Source{}, errors.NewInvalidSourceError("job has no imageUrl, imagePath or imageData")
	case 1:
		return sources[0], nil
	default:
		return fetcher.Source{}, errors.NewInvalidSourceError("job must name exactly one image source")
	}
}

// SupporterOutcome is the supporter-code part of an envelope
type SupporterOutcome struct {
	Matched bool   `json:"matched"`
	Code    string `json:"code"`
	Phrase  string `json:"phrase,omitempty"`
}

// Envelope is the result record written back for every job
type Envelope struct {
	JobID            string                       `json:"jobId"`
	Type             string                       `json:"type"`
	Status           string                       `json:"status"`
	Backend          string                       `json:"backend"`
	Preview          string                       `json:"preview,omitempty"`
	Truncated        bool                         `json:"truncated"`
	Result           *normalizer.StructuredResult `json:"result,omitempty"`
	Supporter        *SupporterOutcome            `json:"supporter,omitempty"`
	Error            map[string]interface{}       `json:"error,omitempty"`
	ProcessingTimeMs int64                        `json:"processingTimeMs"`
}

// Handler runs decoded jobs against the pipeline
type Handler struct {
	extractor pipeline.Extractor
	timeout   time.Duration
	logger    *logging.Logger
}

// NewHandler creates a job handler
func NewHandler(extractor pipeline.Extractor, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = DefaultProcessingTimeout
	}
	return &Handler{
		extractor: extractor,
		timeout:   timeout,
		logger:    logging.NewLogger("JobHandler"),
	}
}

// Handle runs one job. The envelope is always returned, also on failure,
// so callers can publish it; err carries the pipeline error for retry
// decisions.
func (h *Handler) Handle(ctx context.Context, taskType string, payload JobPayload) (*Envelope, error) {
	startTime := time.Now()
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}

	status := h.extractor.Status()
	env := &Envelope{JobID: payload.JobID, Type: taskType, Backend: status.Backend}
	log := h.logger.With("job_id", payload.JobID, "type", taskType)

	// OCR unavailable is a steady state, not a per-job failure
	if !status.Ready {
		err := errors.NewClientNotInitializedError()
		env.Status = StatusUnavailable
		env.Error = err.ToMap()
		log.Warn("OCR unavailable, job rejected")
		return env, err
	}

	err := h.run(ctx, taskType, payload, env)
	env.ProcessingTimeMs = time.Since(startTime).Milliseconds()
	if err != nil {
		env.Status = StatusFailed
		env.Error = errorMap(err)
		log.Error("Job failed",
			"error_code", errors.CodeOf(err),
			"duration_ms", env.ProcessingTimeMs,
			"error", err)
		return env, err
	}

	env.Status = StatusCompleted
	log.Info("Job completed",
		"chars", env.Result.CharCount,
		"truncated", env.Truncated,
		"duration_ms", env.ProcessingTimeMs)
	return env, nil
}

func (h *Handler) run(ctx context.Context, taskType string, payload JobPayload, env *Envelope) error {
	src, err := payload.Source()
	if err != nil {
		return err
	}

	processCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var result *normalizer.StructuredResult
	switch taskType {
	case TypeExtract:
		result, err = h.extractor.ExtractText(processCtx, src)
	case TypeExtractEnhanced:
		result, err = h.extractor.ExtractTextEnhanced(processCtx, src)
	case TypeSupporterCode:
		var match *pipeline.SupporterMatch
		match, err = h.extractor.FindSupporterCode(processCtx, src, payload.Code, payload.Phrases)
		if err == nil {
			result = match.Result
			env.Supporter = &SupporterOutcome{Matched: match.Matched, Code: match.Code, Phrase: match.Phrase}
		}
	default:
		return errors.NewInvalidSourceError(fmt.Sprintf("unknown task type %q", taskType))
	}
	if err != nil {
		if processCtx.Err() == context.DeadlineExceeded && !errors.Is(err, errors.ErrorProcessingTimeout) {
			return errors.NewProcessingTimeoutError(taskType, err)
		}
		return err
	}

	env.Result = result
	env.Preview, env.Truncated = normalizer.Preview(result.Text, normalizer.PreviewLimit)
	return nil
}

func errorMap(err error) map[string]interface{} {
	var pe *errors.PipelineError
	if stderrors.As(err, &pe) {
		return pe.ToMap()
	}
	return map[string]interface{}{"message": err.Error()}
}
