// Package preprocess conditions images for text recognition: grayscale,
// unsharp mask, adaptive Gaussian binarization and a bounded height.
package preprocess

import (
	"bytes"
	"image"
	"math"

	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"

	"github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/media"
)

const (
	// MaxHeight is the tallest image handed to the recognizer
	MaxHeight = 1024

	blurSigma      = 3.0
	sharpenWeight  = 1.5
	blurredWeight  = -0.5
	thresholdBlock = 11
	thresholdC     = 2.0
	jpegQuality    = 95
)

// Enhance runs the fixed preprocessing pipeline and returns a JPEG.
func Enhance(in media.Image) (media.Image, error) {
	src, err := imaging.Decode(bytes.NewReader(in.Data), imaging.AutoOrientation(true))
	if err != nil {
		return media.Image{}, errors.NewDecodeError(err)
	}

	gray := toGray(imaging.Grayscale(src))
	sharp := unsharp(gray, toGray(imaging.Blur(gray, blurSigma)))
	binary := AdaptiveThreshold(sharp, thresholdBlock, thresholdC)

	var out image.Image = binary
	if w, h, ok := ScaledSize(binary.Bounds().Dx(), binary.Bounds().Dy()); ok {
		out = imaging.Resize(binary, w, h, imaging.Linear)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return media.Image{}, errors.NewDecodeError(err)
	}
	return media.Image{Data: buf.Bytes(), ContentType: "image/jpeg"}, nil
}

// ScaledSize returns the downscaled dimensions when height exceeds MaxHeight.
func ScaledSize(width, height int) (int, int, bool) {
	if height <= MaxHeight {
		return width, height, false
	}
	scale := float64(MaxHeight) / float64(height)
	w := int(float64(width) * scale)
	if w < 1 {
		w = 1
	}
	return w, MaxHeight, true
}

func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if nrgba, ok := img.(*image.NRGBA); ok {
		for y := 0; y < b.Dy(); y++ {
			row := nrgba.Pix[y*nrgba.Stride:]
			for x := 0; x < b.Dx(); x++ {
				gray.Pix[y*gray.Stride+x] = row[x*4]
			}
		}
		return gray
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			gray.Pix[y*gray.Stride+x] = uint8(r >> 8)
		}
	}
	return gray
}

// unsharp computes 1.5*gray - 0.5*blurred, saturated to [0, 255].
func unsharp(gray, blurred *image.Gray) *image.Gray {
	out := image.NewGray(gray.Bounds())
	for i, g := range gray.Pix {
		v := sharpenWeight*float64(g) + blurredWeight*float64(blurred.Pix[i])
		out.Pix[i] = clamp(v)
	}
	return out
}

// AdaptiveThreshold binarizes img against a Gaussian-weighted local mean of a
// block x block neighborhood minus c. Pixels above the threshold become 255.
// Borders are replicated.
func AdaptiveThreshold(img *image.Gray, block int, c float64) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	kernel := gaussianKernel(block)
	radius := block / 2

	// separable convolution: rows into tmp, then columns
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			var sum float64
			for k := -radius; k <= radius; k++ {
				sum += kernel[k+radius] * float64(row[clampIndex(x+k, w)])
			}
			tmp[y*w+x] = sum
		}
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var mean float64
			for k := -radius; k <= radius; k++ {
				mean += kernel[k+radius] * tmp[clampIndex(y+k, h)*w+x]
			}
			threshold := math.Round(mean) - c
			if float64(img.Pix[y*img.Stride+x]) > threshold {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// gaussianKernel returns a normalized 1-D kernel whose sigma is derived from
// its size the way OpenCV does for a zero sigma hint.
func gaussianKernel(size int) []float64 {
	sigma := 0.3*((float64(size)-1)*0.5-1) + 0.8
	radius := size / 2
	kernel := make([]float64, size)
	var sum float64
	for i := range kernel {
		d := float64(i - radius)
		kernel[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func clamp(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
