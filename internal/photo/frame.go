package photo

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Frame is the campaign overlay, pre-fitted to the output size.
type Frame struct {
	overlay *image.NRGBA
}

// LoadFrame reads the overlay from disk once at startup.
func LoadFrame(path string) (*Frame, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load frame %s: %w", path, err)
	}
	return NewFrame(img), nil
}

// NewFrame fits img to the output square.
func NewFrame(img image.Image) *Frame {
	return &Frame{overlay: imaging.Fill(img, OutputSize, OutputSize, imaging.Center, imaging.Lanczos)}
}

// Apply alpha-composites the frame over an already normalized image.
func (f *Frame) Apply(img image.Image) *image.NRGBA {
	return imaging.Overlay(img, f.overlay, image.Pt(0, 0), 1.0)
}

// BuildFinal normalizes the generated image, applies the frame and returns PNG bytes.
func (f *Frame) BuildFinal(generated image.Image) ([]byte, error) {
	return EncodePNG(f.Apply(Normalize(generated)))
}
