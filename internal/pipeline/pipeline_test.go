package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/fetcher"
	"github.com/adverant/nexus/ocr-worker/internal/media"
	"github.com/adverant/nexus/ocr-worker/internal/recognizer"
)

// fakeRecognizer records every image it is handed
type fakeRecognizer struct {
	mu     sync.Mutex
	calls  int
	images []media.Image
	result *recognizer.Result
	err    error
	ready  bool
}

func (f *fakeRecognizer) Recognize(ctx context.Context, img media.Image, maxRetries int) (*recognizer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.images = append(f.images, img)
	return f.result, f.err
}

func (f *fakeRecognizer) Ready() bool     { return f.ready }
func (f *fakeRecognizer) Backend() string { return "fake" }
func (f *fakeRecognizer) Close() error    { return nil }

func textResult(text string, fragments ...string) *recognizer.Result {
	r := &recognizer.Result{Annotations: []recognizer.Annotation{{Description: text}}}
	for _, f := range fragments {
		r.Annotations = append(r.Annotations, recognizer.Annotation{Description: f})
	}
	return r
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestExtractTextSendsOriginalBytes(t *testing.T) {
	rec := &fakeRecognizer{ready: true, result: textResult("Hello world", "Hello", "world")}
	p := New(Config{Recognizer: rec})
	data := pngBytes(t, 20, 10)

	result, err := p.ExtractText(context.Background(), fetcher.FromBytes(data))
	require.NoError(t, err)
	assert.Equal(t, "Hello world", result.Text)
	assert.Equal(t, 11, result.CharCount)
	assert.Equal(t, 2, result.WordCount)
	assert.Equal(t, 3, result.ElementCount)
	assert.Equal(t, []string{"Hello", "world"}, result.Fragments)

	require.Len(t, rec.images, 1)
	assert.Equal(t, data, rec.images[0].Data)
	assert.Equal(t, "image/png", rec.images[0].ContentType)
}

func TestExtractTextEnhancedPreprocesses(t *testing.T) {
	rec := &fakeRecognizer{ready: true, result: textResult("text")}
	p := New(Config{Recognizer: rec})

	_, err := p.ExtractTextEnhanced(context.Background(), fetcher.FromBytes(pngBytes(t, 40, 2000)))
	require.NoError(t, err)

	require.Len(t, rec.images, 1)
	sent := rec.images[0]
	assert.Equal(t, "image/jpeg", sent.ContentType)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(sent.Data))
	require.NoError(t, err)
	assert.LessOrEqual(t, cfg.Height, 1024)
}

func TestExtractTextEmptyResult(t *testing.T) {
	rec := &fakeRecognizer{ready: true, result: &recognizer.Result{}}
	p := New(Config{Recognizer: rec})

	result, err := p.ExtractText(context.Background(), fetcher.FromBytes([]byte("blank")))
	require.NoError(t, err)
	assert.Equal(t, "", result.Text)
	assert.Zero(t, result.CharCount)
	assert.Zero(t, result.WordCount)
	assert.Zero(t, result.ElementCount)
	assert.Empty(t, result.Fragments)
}

func TestEmptyBufferNeverReachesRecognizer(t *testing.T) {
	rec := &fakeRecognizer{ready: true, result: textResult("x")}
	p := New(Config{Recognizer: rec})

	_, err := p.ExtractText(context.Background(), fetcher.FromBytes(nil))
	require.Error(t, err)
	assert.Equal(t, errors.ErrorEmptyImage, errors.CodeOf(err))
	assert.Zero(t, rec.calls)
}

func TestNotFoundPropagatesWithoutRetry(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	rec := &fakeRecognizer{ready: true, result: textResult("x")}
	p := New(Config{Recognizer: rec})

	_, err := p.ExtractText(context.Background(), fetcher.FromURL(server.URL+"/expired.png"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrorDownloadHTTP, errors.CodeOf(err))
	assert.Equal(t, 404, errors.HTTPStatus(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Zero(t, rec.calls)
}

func TestNotReadyRejectsBeforeDownload(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("img"))
	}))
	defer server.Close()

	p := New(Config{Recognizer: recognizer.NewDisabled("no credentials")})

	_, err := p.ExtractText(context.Background(), fetcher.FromURL(server.URL))
	assert.Equal(t, errors.ErrorClientNotInitialized, errors.CodeOf(err))
	assert.Zero(t, atomic.LoadInt32(&hits))
	assert.Equal(t, Status{Ready: false, Backend: "disabled"}, p.Status())
}

func TestRecognizerErrorPropagates(t *testing.T) {
	rec := &fakeRecognizer{ready: true, err: errors.NewInvalidImageError("bad image", nil)}
	p := New(Config{Recognizer: rec})

	_, err := p.ExtractText(context.Background(), fetcher.FromBytes([]byte("x")))
	assert.Equal(t, errors.ErrorInvalidImage, errors.CodeOf(err))
}

func TestDecodeFailureOnlyForEnhanced(t *testing.T) {
	rec := &fakeRecognizer{ready: true, result: textResult("x")}
	p := New(Config{Recognizer: rec})

	_, err := p.ExtractTextEnhanced(context.Background(), fetcher.FromBytes([]byte("not an image")))
	assert.Equal(t, errors.ErrorDecodeFailed, errors.CodeOf(err))
	assert.Zero(t, rec.calls)

	_, err = p.ExtractText(context.Background(), fetcher.FromBytes([]byte("not an image")))
	assert.NoError(t, err)
}

func TestPreprocessHonorsCancellationWhileWaiting(t *testing.T) {
	p := New(Config{Recognizer: &fakeRecognizer{ready: true}, PreprocessConcurrency: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	p.enhance = func(img media.Image) (media.Image, error) {
		close(started)
		<-release
		return img, nil
	}
	defer close(release)

	// occupy the only slot
	go func() { _, _ = p.preprocess(context.Background(), media.New([]byte("a"))) }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.preprocess(ctx, media.New([]byte("b")))
	assert.Equal(t, errors.ErrorProcessingTimeout, errors.CodeOf(err))
}

func TestRetriedRecognitionThroughPipeline(t *testing.T) {
	annotator := &flakyAnnotator{failures: 2, err: status.Error(codes.Unavailable, "down")}
	client := recognizer.NewClient(annotator,
		recognizer.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }))
	p := New(Config{Recognizer: client})

	result, err := p.ExtractText(context.Background(), fetcher.FromBytes([]byte("img")))
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Text)
	assert.Equal(t, 3, annotator.calls)
}

type flakyAnnotator struct {
	failures int
	calls    int
	err      error
}

func (f *flakyAnnotator) Name() string { return "flaky" }

func (f *flakyAnnotator) Annotate(ctx context.Context, img media.Image) (*recognizer.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &recognizer.Response{Annotations: []recognizer.Annotation{{Description: "recovered"}}}, nil
}

func (f *flakyAnnotator) Close() error { return nil }
