/**
 * Recognizer - text recognition capability shared by all backends
 *
 * A Recognizer is selected once at startup: a retrying Client around a
 * concrete Annotator (Cloud Vision, Tesseract), or Disabled when no
 * credentials are available.
 */

package recognizer

import (
	"context"

	"github.com/adverant/nexus/ocr-worker/internal/media"
)

// DefaultMaxRetries is the per-call attempt budget
const DefaultMaxRetries = 3

// Vertex is one corner of a bounding polygon
type Vertex struct {
	X int
	Y int
}

// Annotation is one detected text region. Index 0 of a result is the
// whole-image aggregate; later entries are fragments in service order.
type Annotation struct {
	Description string
	Bounds      []Vertex
}

// Result is the ordered annotation list of one recognition
type Result struct {
	Annotations []Annotation
	// Confidence is set only by backends running in a structured mode
	Confidence *float64
}

// Recognizer performs text recognition with bounded retries
type Recognizer interface {
	Recognize(ctx context.Context, img media.Image, maxRetries int) (*Result, error)
	Ready() bool
	Backend() string
	Close() error
}

// Response is the raw outcome of one backend request
type Response struct {
	Annotations []Annotation
	Confidence  *float64
	// ErrorMessage is an error reported in-band by the service
	ErrorMessage string
}

// Annotator issues exactly one recognition request. Implementations must be
// safe for concurrent use.
type Annotator interface {
	Name() string
	Annotate(ctx context.Context, img media.Image) (*Response, error)
	Close() error
}
