/**
 * Media - image payload shared by every pipeline stage
 *
 * Each stage produces a fresh Image; byte slices are never shared
 * between stages.
 */

package media

import (
	"bytes"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Image is an encoded raster image plus its content type
type Image struct {
	Data        []byte
	ContentType string
}

// New copies data and sniffs its content type from magic bytes.
func New(data []byte) Image {
	return Image{
		Data:        bytes.Clone(data),
		ContentType: Detect(data),
	}
}

// WithDeclaredType copies data and keeps a declared content type when the
// bytes themselves are not recognisable.
func WithDeclaredType(data []byte, declared string) Image {
	img := New(data)
	if img.ContentType == "application/octet-stream" && declared != "" {
		img.ContentType = declared
	}
	return img
}

// Detect returns the MIME type of data without parameters.
func Detect(data []byte) string {
	mt := mimetype.Detect(data).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return mt
}

// Size returns the payload length in bytes.
func (i Image) Size() int {
	return len(i.Data)
}

// IsImage reports whether the sniffed type is an image/* type.
func (i Image) IsImage() bool {
	return strings.HasPrefix(i.ContentType, "image/")
}
