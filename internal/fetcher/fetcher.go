/**
 * Image Fetcher - acquires raw image bytes for the pipeline
 *
 * Sources: remote URL (HTTP GET), local file path, or an in-memory buffer.
 * Download failures are reported once; there is no retry at this layer.
 */

package fetcher

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/media"
)

const (
	// DefaultTimeout bounds a single download
	DefaultTimeout = 30 * time.Second

	// SoftSizeLimit is the size above which the recognition service may reject the image
	SoftSizeLimit = 20 * 1024 * 1024

	// DefaultMaxBytes stops runaway bodies
	DefaultMaxBytes = 50 * 1024 * 1024

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

var supportedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
}

// IsSupportedImageName reports whether a filename carries an accepted image extension
func IsSupportedImageName(name string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(name))]
}

// Source identifies where an image comes from. Exactly one field is set.
type Source struct {
	URL  string
	Path string
	Data []byte
}

// FromURL builds a remote source
func FromURL(url string) Source { return Source{URL: url} }

// FromPath builds a local file source
func FromPath(path string) Source { return Source{Path: path} }

// FromBytes builds an in-memory source; a nil buffer counts as empty
func FromBytes(data []byte) Source {
	if data == nil {
		data = []byte{}
	}
	return Source{Data: data}
}

// String describes the source for logs and error details.
func (s Source) String() string {
	switch {
	case s.URL != "":
		return s.URL
	case s.Path != "":
		return s.Path
	case s.Data != nil:
		return fmt.Sprintf("buffer(%d bytes)", len(s.Data))
	}
	return "none"
}

// Config holds fetcher configuration
type Config struct {
	Timeout    time.Duration
	MaxBytes   int64
	HTTPClient *http.Client
}

// Fetcher downloads or reads images
type Fetcher struct {
	timeout    time.Duration
	maxBytes   int64
	httpClient *http.Client
	logger     *logging.Logger
}

// New creates a fetcher; zero config values fall back to defaults
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	return &Fetcher{
		timeout:    cfg.Timeout,
		maxBytes:   cfg.MaxBytes,
		httpClient: cfg.HTTPClient,
		logger:     logging.NewLogger("Fetcher"),
	}
}

// Fetch resolves src into image bytes
func (f *Fetcher) Fetch(ctx context.Context, src Source) (media.Image, error) {
	switch {
	case src.URL != "":
		return f.download(ctx, src.URL)
	case src.Path != "":
		return f.readFile(src.Path)
	case src.Data != nil:
		if len(src.Data) == 0 {
			return media.Image{}, errors.NewEmptyImageError(src.String())
		}
		return media.New(src.Data), nil
	}
	return media.Image{}, errors.NewInvalidSourceError("no image source provided (url, path or buffer)")
}

func (f *Fetcher) download(ctx context.Context, url string) (media.Image, error) {
	f.logger.Info("Downloading image", "url", url)

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return media.Image{}, errors.NewDownloadConnectionError(url, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return media.Image{}, f.classifyTransportError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f.logger.Error("HTTP error downloading image", "url", url, "status", resp.StatusCode)
		if resp.StatusCode == http.StatusNotFound {
			f.logger.Error("Image not found (404) - URL may be incorrect or expired", "url", url)
		}
		return media.Image{}, errors.NewDownloadHTTPError(url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return media.Image{}, f.classifyTransportError(url, err)
	}
	if int64(len(body)) > f.maxBytes {
		f.logger.Error("Image exceeds download limit", "url", url, "max_bytes", f.maxBytes)
		return media.Image{}, errors.NewImageTooLargeError(url, f.maxBytes)
	}

	if len(body) == 0 {
		f.logger.Error("Downloaded image is empty", "url", url)
		return media.Image{}, errors.NewEmptyImageError(url)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if contentType != "" && !strings.Contains(contentType, "image") {
		f.logger.Warn("Content type may not be an image", "url", url, "contentType", contentType)
	}
	f.warnIfLarge(len(body))

	f.logger.Info("Image downloaded successfully", "url", url, "size", len(body))
	return media.WithDeclaredType(body, stripParams(contentType)), nil
}

func (f *Fetcher) readFile(path string) (media.Image, error) {
	f.logger.Info("Reading local image", "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return media.Image{}, errors.NewFileNotFoundError(path, err)
		}
		return media.Image{}, errors.NewFileReadError(path, err)
	}
	if len(data) == 0 {
		return media.Image{}, errors.NewEmptyImageError(path)
	}
	f.warnIfLarge(len(data))

	return media.New(data), nil
}

func (f *Fetcher) warnIfLarge(size int) {
	if size > SoftSizeLimit {
		f.logger.Warn("Image size may exceed recognition service limits", "size", size, "limit", SoftSizeLimit)
	}
}

func (f *Fetcher) classifyTransportError(url string, err error) error {
	var netErr net.Error
	if stderrors.Is(err, context.DeadlineExceeded) || (stderrors.As(err, &netErr) && netErr.Timeout()) {
		f.logger.Error("Request timed out", "url", url, "timeout", f.timeout)
		return errors.NewDownloadTimeoutError(url, f.timeout, err)
	}
	f.logger.Error("Connection error", "url", url, "error", err)
	return errors.NewDownloadConnectionError(url, err)
}

func stripParams(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(contentType)
}
