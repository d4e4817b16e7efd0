package errors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineErrorUnwrap(t *testing.T) {
	cause := NewQuotaExceededError(fmt.Errorf("rpc error: quota"))
	err := NewRetriesExhaustedError(3, cause)

	assert.Equal(t, ErrorRetriesExhausted, CodeOf(err))
	assert.True(t, Is(err, ErrorRetriesExhausted))
	assert.False(t, Is(err, ErrorQuotaExceeded))
	assert.Contains(t, err.Error(), "caused by")

	wrapped := fmt.Errorf("job failed: %w", err)
	assert.Equal(t, ErrorRetriesExhausted, CodeOf(wrapped))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(context.Canceled))
	assert.False(t, Is(nil, ErrorEmptyImage))
}

func TestDownloadHTTPError(t *testing.T) {
	notFound := NewDownloadHTTPError("http://example.com/a.png", 404)
	assert.Equal(t, 404, HTTPStatus(notFound))
	assert.Contains(t, notFound.Message, "expired")

	serverErr := NewDownloadHTTPError("http://example.com/a.png", 500)
	assert.Equal(t, 500, HTTPStatus(serverErr))
	assert.NotContains(t, serverErr.Message, "expired")

	assert.Equal(t, 0, HTTPStatus(NewEmptyImageError("bytes")))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"quota", NewQuotaExceededError(nil), true},
		{"unavailable", NewServiceUnavailableError(nil), true},
		{"exhausted", NewRetriesExhaustedError(3, nil), true},
		{"api call", NewAPICallFailedError(nil), true},
		{"download timeout", NewDownloadTimeoutError("http://x/a.png", time.Second, nil), false},
		{"download connection", NewDownloadConnectionError("http://x/a.png", nil), false},
		{"download http", NewDownloadHTTPError("http://x/a.png", 503), false},
		{"too large", NewImageTooLargeError("http://x/a.png", 1024), false},
		{"file read", NewFileReadError("/tmp/a.png", nil), false},
		{"invalid image", NewInvalidImageError("bad image", nil), false},
		{"account", NewNonRetryableAPIError(nil), false},
		{"in-band", NewServiceError("boom"), false},
		{"not initialized", NewClientNotInitializedError(), false},
		{"plain", fmt.Errorf("plain"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestImageTooLargeDetails(t *testing.T) {
	m := NewImageTooLargeError("http://x/a.png", 1024).ToMap()
	assert.Equal(t, "IMAGE_TOO_LARGE", m["error_code"])
	assert.Equal(t, int64(1024), m["max_bytes"])
	assert.Equal(t, "http://x/a.png", m["source"])
}

func TestToMap(t *testing.T) {
	err := NewDownloadHTTPError("http://example.com/a.png", 404)
	m := err.ToMap()

	require.Equal(t, "DOWNLOAD_HTTP", m["error_code"])
	assert.Equal(t, 404, m["status"])
	assert.Equal(t, "http://example.com/a.png", m["url"])
	_, hasCause := m["cause"]
	assert.False(t, hasCause)
}
