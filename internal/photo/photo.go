// Package photo validates uploads and renders the framed campaign image.
package photo

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/caminocomms/flames-selfie-test/internal/domain"
)

const (
	MaxUploadBytes = 10 * 1024 * 1024
	MinDimension   = 512
	OutputSize     = 1024

	// MaxPixels bounds the decoded size of any image we accept, since a
	// small compressed file can expand to gigabytes of pixels.
	MaxPixels = 50_000_000

	// Uploads whose luminance variance falls below this are treated as blank.
	minLuminanceVariance = 8.0
)

// ErrTooManyPixels is returned by Decode before decoding oversized images.
var ErrTooManyPixels = errors.New("image exceeds pixel limit")

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// Extension returns the file extension for an allowed MIME type, or "".
func Extension(mimeType string) string {
	return extensions[mimeType]
}

// ResolveMIME normalizes the declared type and sniffs the payload when the
// client sent nothing useful.
func ResolveMIME(declared string, data []byte) string {
	mt := strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "image/jpg" {
		mt = "image/jpeg"
	}
	if mt == "" || mt == "application/octet-stream" {
		mt = http.DetectContentType(data)
	}
	return mt
}

// Validate rejects uploads that are the wrong type, too big, undecodable, too
// small or nearly flat. Errors are *domain.ValidationError.
func Validate(data []byte, mimeType string) (image.Image, error) {
	if Extension(mimeType) == "" {
		return nil, &domain.ValidationError{Message: "Unsupported image format. Please upload JPG, PNG, or WebP."}
	}
	if len(data) > MaxUploadBytes {
		return nil, &domain.ValidationError{Message: "Image is too large. Maximum size is 10MB."}
	}
	img, err := Decode(data)
	if errors.Is(err, ErrTooManyPixels) {
		return nil, &domain.ValidationError{Message: "Image dimensions are too large. Please upload a smaller photo."}
	}
	if err != nil {
		return nil, &domain.ValidationError{Message: "Invalid image file."}
	}
	b := img.Bounds()
	if b.Dx() < MinDimension || b.Dy() < MinDimension {
		return nil, domain.NewValidationError("Image is too small. Minimum size is %dx%d.", MinDimension, MinDimension)
	}
	if LuminanceVariance(img) < minLuminanceVariance {
		return nil, &domain.ValidationError{Message: "Image quality is too low. Please try another photo."}
	}
	return img, nil
}

// Decode reads a JPEG, PNG or WebP image and applies any EXIF orientation.
// The header is checked first and images above MaxPixels are refused with
// ErrTooManyPixels without allocating the pixel buffer.
func Decode(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image config: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("decode image %dx%d: %w", cfg.Width, cfg.Height, ErrTooManyPixels)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// LuminanceVariance returns the population variance of the grayscale pixels.
func LuminanceVariance(img image.Image) float64 {
	gray := imaging.Grayscale(img)
	pix := gray.Pix
	n := len(pix) / 4
	if n == 0 {
		return 0
	}
	var sum, sumSq float64
	for i := 0; i < len(pix); i += 4 {
		v := float64(pix[i])
		sum += v
		sumSq += v * v
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

// Normalize center-crops to a square and resizes to OutputSize.
func Normalize(img image.Image) *image.NRGBA {
	return imaging.Fill(img, OutputSize, OutputSize, imaging.Center, imaging.Lanczos)
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
