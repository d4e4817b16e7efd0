/**
 * Tesseract annotator - offline recognition backend
 *
 * Runs libtesseract in-process through gosseract. Requires the tesseract
 * shared library and language data at runtime.
 */

package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/media"
	"github.com/adverant/nexus/ocr-worker/internal/recognizer"
)

// Config holds Tesseract configuration
type Config struct {
	Languages []string
}

// Annotator recognizes text with a fresh gosseract client per call;
// gosseract clients are not safe for concurrent use.
type Annotator struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

// NewAnnotator creates a Tesseract-backed annotator
func NewAnnotator(cfg Config) *Annotator {
	return &Annotator{
		languages:     cfg.Languages,
		clientFactory: gosseract.NewClient,
	}
}

func (a *Annotator) Name() string { return "tesseract" }

// Annotate returns the full text at index 0 followed by one annotation per
// recognized word.
func (a *Annotator) Annotate(ctx context.Context, img media.Image) (*recognizer.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := a.clientFactory()
	defer client.Close()

	if len(a.languages) > 0 {
		if err := client.SetLanguage(a.languages...); err != nil {
			return nil, errors.NewServiceError(fmt.Sprintf("set languages: %v", err))
		}
	}
	if err := client.SetImageFromBytes(img.Data); err != nil {
		return nil, errors.NewInvalidImageError("tesseract could not load image", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, errors.NewServiceError(fmt.Sprintf("tesseract OCR failed: %v", err))
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		boxes = nil
	}
	return buildResponse(text, boxes), nil
}

func (a *Annotator) Close() error { return nil }

func buildResponse(text string, boxes []gosseract.BoundingBox) *recognizer.Response {
	resp := &recognizer.Response{}
	if strings.TrimSpace(text) == "" {
		return resp
	}

	resp.Annotations = make([]recognizer.Annotation, 0, len(boxes)+1)
	resp.Annotations = append(resp.Annotations, recognizer.Annotation{Description: text})

	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
		resp.Annotations = append(resp.Annotations, recognizer.Annotation{
			Description: b.Word,
			Bounds: []recognizer.Vertex{
				{X: b.Box.Min.X, Y: b.Box.Min.Y},
				{X: b.Box.Max.X, Y: b.Box.Min.Y},
				{X: b.Box.Max.X, Y: b.Box.Max.Y},
				{X: b.Box.Min.X, Y: b.Box.Max.Y},
			},
		})
	}
	if len(boxes) > 0 {
		conf := sum / float64(len(boxes))
		resp.Confidence = &conf
	}
	return resp
}
