package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Error taxonomy for the OCR worker
 *
 * Every terminal pipeline failure is a *PipelineError carrying a code,
 * a human-readable message and the wrapped cause. The command layer
 * decides presentation from the code alone.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Image acquisition errors
	ErrorDownloadTimeout    ErrorCode = "DOWNLOAD_TIMEOUT"
	ErrorDownloadConnection ErrorCode = "DOWNLOAD_CONNECTION"
	ErrorDownloadHTTP       ErrorCode = "DOWNLOAD_HTTP"
	ErrorEmptyImage         ErrorCode = "EMPTY_IMAGE"
	ErrorImageTooLarge      ErrorCode = "IMAGE_TOO_LARGE"
	ErrorFileNotFound       ErrorCode = "FILE_NOT_FOUND"
	ErrorFileRead           ErrorCode = "FILE_READ_FAILED"
	ErrorInvalidSource      ErrorCode = "INVALID_SOURCE"

	// Preprocessing errors
	ErrorDecodeFailed ErrorCode = "DECODE_FAILED"

	// Recognition client lifecycle
	ErrorClientNotInitialized ErrorCode = "CLIENT_NOT_INITIALIZED"
	ErrorCredentialsInvalid   ErrorCode = "CREDENTIALS_INVALID"

	// Recognition errors
	ErrorInvalidImage       ErrorCode = "INVALID_IMAGE"
	ErrorQuotaExceeded      ErrorCode = "QUOTA_EXCEEDED"
	ErrorServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrorNonRetryableAPI    ErrorCode = "NON_RETRYABLE_API"
	ErrorRetriesExhausted   ErrorCode = "RETRIES_EXHAUSTED"
	ErrorServiceError       ErrorCode = "SERVICE_ERROR"
	ErrorAPICallFailed      ErrorCode = "API_CALL_FAILED"

	// Processing errors
	ErrorProcessingTimeout ErrorCode = "PROCESSING_TIMEOUT"
)

// PipelineError represents a structured pipeline error
type PipelineError struct {
	Code      ErrorCode
	Message   string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

func newError(code ErrorCode, message string, details map[string]interface{}, cause error) *PipelineError {
	return &PipelineError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Details:   details,
		Cause:     cause,
	}
}

// Factory functions for the taxonomy

func NewDownloadTimeoutError(url string, timeout time.Duration, cause error) *PipelineError {
	return newError(ErrorDownloadTimeout,
		fmt.Sprintf("Download timed out after %v", timeout),
		map[string]interface{}{
			"url":              url,
			"timeout_duration": timeout.String(),
		}, cause)
}

func NewDownloadConnectionError(url string, cause error) *PipelineError {
	return newError(ErrorDownloadConnection, "Failed to reach image source",
		map[string]interface{}{"url": url}, cause)
}

func NewDownloadHTTPError(url string, status int) *PipelineError {
	message := fmt.Sprintf("Image source returned HTTP %d", status)
	if status == 404 {
		message = "Image not found (404): URL may be incorrect or expired"
	}
	return newError(ErrorDownloadHTTP, message,
		map[string]interface{}{
			"url":    url,
			"status": status,
		}, nil)
}

func NewEmptyImageError(source string) *PipelineError {
	return newError(ErrorEmptyImage, "Image is empty",
		map[string]interface{}{"source": source}, nil)
}

func NewFileNotFoundError(path string, cause error) *PipelineError {
	return newError(ErrorFileNotFound, fmt.Sprintf("Image file not found: %s", path),
		map[string]interface{}{"path": path}, cause)
}

func NewImageTooLargeError(source string, limit int64) *PipelineError {
	return newError(ErrorImageTooLarge,
		fmt.Sprintf("Image exceeds the download limit of %d bytes", limit),
		map[string]interface{}{
			"source":    source,
			"max_bytes": limit,
		}, nil)
}

func NewFileReadError(path string, cause error) *PipelineError {
	return newError(ErrorFileRead, fmt.Sprintf("Image file could not be read: %s", path),
		map[string]interface{}{"path": path}, cause)
}

func NewInvalidSourceError(reason string) *PipelineError {
	return newError(ErrorInvalidSource, reason, nil, nil)
}

func NewDecodeError(cause error) *PipelineError {
	return newError(ErrorDecodeFailed, "Image bytes are not a decodable raster image", nil, cause)
}

func NewClientNotInitializedError() *PipelineError {
	return newError(ErrorClientNotInitialized,
		"Recognition client not initialized; check OCR credentials", nil, nil)
}

func NewCredentialsInvalidError(path string, cause error) *PipelineError {
	return newError(ErrorCredentialsInvalid,
		fmt.Sprintf("Recognition service credentials invalid: %s", path),
		map[string]interface{}{"credentials_path": path}, cause)
}

func NewInvalidImageError(message string, cause error) *PipelineError {
	return newError(ErrorInvalidImage, fmt.Sprintf("Invalid image data: %s", message), nil, cause)
}

func NewQuotaExceededError(cause error) *PipelineError {
	return newError(ErrorQuotaExceeded, "Recognition service quota exceeded", nil, cause)
}

func NewServiceUnavailableError(cause error) *PipelineError {
	return newError(ErrorServiceUnavailable, "Recognition service unavailable", nil, cause)
}

func NewNonRetryableAPIError(cause error) *PipelineError {
	return newError(ErrorNonRetryableAPI, "Recognition service rejected the request (account or billing)", nil, cause)
}

func NewServiceError(message string) *PipelineError {
	return newError(ErrorServiceError, fmt.Sprintf("Recognition service error: %s", message), nil, nil)
}

func NewAPICallFailedError(cause error) *PipelineError {
	return newError(ErrorAPICallFailed, "Recognition request failed", nil, cause)
}

func NewRetriesExhaustedError(attempts int, cause error) *PipelineError {
	return newError(ErrorRetriesExhausted,
		fmt.Sprintf("Recognition failed after %d attempts", attempts),
		map[string]interface{}{"attempts": attempts}, cause)
}

func NewProcessingTimeoutError(stage string, cause error) *PipelineError {
	return newError(ErrorProcessingTimeout,
		fmt.Sprintf("Processing cancelled during %s", stage),
		map[string]interface{}{"stage": stage}, cause)
}

// CodeOf returns the code of the outermost PipelineError in err's chain,
// or "" when err carries none.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Is reports whether err's outermost PipelineError has the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus returns the status recorded on a DOWNLOAD_HTTP error, or 0.
func HTTPStatus(err error) int {
	var pe *PipelineError
	if !stderrors.As(err, &pe) || pe.Code != ErrorDownloadHTTP {
		return 0
	}
	status, _ := pe.Details["status"].(int)
	return status
}

// IsRetryable reports whether a later, independent attempt could succeed.
// Only transient recognition service conditions qualify. Acquisition,
// input, credential and account errors are reported once.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrorQuotaExceeded, ErrorServiceUnavailable, ErrorAPICallFailed, ErrorRetriesExhausted:
		return true
	}
	return false
}

// ToMap converts error to map for result payloads
func (e *PipelineError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
