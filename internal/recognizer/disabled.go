package recognizer

import (
	"context"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/media"
)

// Disabled stands in when no backend could be constructed. Every call fails
// with CLIENT_NOT_INITIALIZED.
type Disabled struct {
	Reason string
}

func NewDisabled(reason string) *Disabled {
	return &Disabled{Reason: reason}
}

func (d *Disabled) Recognize(ctx context.Context, img media.Image, maxRetries int) (*Result, error) {
	return nil, errors.NewClientNotInitializedError()
}

func (d *Disabled) Ready() bool { return false }

func (d *Disabled) Backend() string { return "disabled" }

func (d *Disabled) Close() error { return nil }
