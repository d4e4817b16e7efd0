/**
 * Cloud Vision annotator
 *
 * Issues one BatchAnnotateImages request per call with either plain text
 * detection or dense document detection. Retries and classification live
 * in the recognizer.Client wrapping this annotator.
 */

package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	visionapi "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/media"
	"github.com/adverant/nexus/ocr-worker/internal/recognizer"
)

const (
	ModeText     = "text"
	ModeDocument = "document"
)

// Config holds Cloud Vision configuration
type Config struct {
	CredentialsPath string
	Mode            string
	LanguageHints   []string
}

type batchFunc func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error)

// Annotator sends images to Cloud Vision
type Annotator struct {
	mode    string
	hints   []string
	batch   batchFunc
	closeFn func() error
}

// NewAnnotator validates the credentials file and opens a Vision client.
// Any credential problem is reported as CREDENTIALS_INVALID.
func NewAnnotator(ctx context.Context, cfg Config) (*Annotator, error) {
	if err := ValidateCredentials(cfg.CredentialsPath); err != nil {
		return nil, err
	}

	client, err := visionapi.NewImageAnnotatorClient(ctx, option.WithCredentialsFile(cfg.CredentialsPath))
	if err != nil {
		return nil, errors.NewCredentialsInvalidError(cfg.CredentialsPath, err)
	}

	return newAnnotator(cfg, func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
		return client.BatchAnnotateImages(ctx, req)
	}, client.Close), nil
}

func newAnnotator(cfg Config, batch batchFunc, closeFn func() error) *Annotator {
	mode := strings.ToLower(cfg.Mode)
	if mode != ModeDocument {
		mode = ModeText
	}
	return &Annotator{
		mode:    mode,
		hints:   cfg.LanguageHints,
		batch:   batch,
		closeFn: closeFn,
	}
}

// ValidateCredentials checks that path names a readable service-account
// style JSON document before any client is built.
func ValidateCredentials(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.NewCredentialsInvalidError(path, fmt.Errorf("no credentials path configured"))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.NewCredentialsInvalidError(path, err)
	}
	var creds struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return errors.NewCredentialsInvalidError(path, err)
	}
	if creds.Type == "" {
		return errors.NewCredentialsInvalidError(path, fmt.Errorf("credentials file has no \"type\" field"))
	}
	return nil
}

func (a *Annotator) Name() string { return "vision-" + a.mode }

func (a *Annotator) Annotate(ctx context.Context, img media.Image) (*recognizer.Response, error) {
	resp, err := a.batch(ctx, a.request(img))
	if err != nil {
		return nil, err
	}
	if len(resp.GetResponses()) == 0 {
		return &recognizer.Response{ErrorMessage: "empty batch response"}, nil
	}
	return convert(resp.GetResponses()[0]), nil
}

func (a *Annotator) Close() error {
	if a.closeFn == nil {
		return nil
	}
	return a.closeFn()
}

func (a *Annotator) request(img media.Image) *visionpb.BatchAnnotateImagesRequest {
	feature := visionpb.Feature_TEXT_DETECTION
	if a.mode == ModeDocument {
		feature = visionpb.Feature_DOCUMENT_TEXT_DETECTION
	}

	req := &visionpb.AnnotateImageRequest{
		Image:    &visionpb.Image{Content: img.Data},
		Features: []*visionpb.Feature{{Type: feature}},
	}
	if len(a.hints) > 0 {
		req.ImageContext = &visionpb.ImageContext{LanguageHints: a.hints}
	}
	return &visionpb.BatchAnnotateImagesRequest{Requests: []*visionpb.AnnotateImageRequest{req}}
}

func convert(r *visionpb.AnnotateImageResponse) *recognizer.Response {
	if msg := r.GetError().GetMessage(); msg != "" {
		return &recognizer.Response{ErrorMessage: msg}
	}

	texts := r.GetTextAnnotations()
	out := &recognizer.Response{Annotations: make([]recognizer.Annotation, 0, len(texts))}
	for _, t := range texts {
		ann := recognizer.Annotation{Description: t.GetDescription()}
		for _, v := range t.GetBoundingPoly().GetVertices() {
			ann.Bounds = append(ann.Bounds, recognizer.Vertex{X: int(v.GetX()), Y: int(v.GetY())})
		}
		out.Annotations = append(out.Annotations, ann)
	}

	// page confidence only exists for document detection
	if pages := r.GetFullTextAnnotation().GetPages(); len(pages) > 0 {
		var sum float64
		for _, p := range pages {
			sum += float64(p.GetConfidence())
		}
		conf := sum / float64(len(pages))
		out.Confidence = &conf
	}
	return out
}
