package image

import (
	"context"
	"errors"
)

// ErrNoImage is returned when a provider finishes without producing an image.
var ErrNoImage = errors.New("image: provider returned no image")

// GenerateRequest describes one image edit submitted to a provider.
type GenerateRequest struct {
	Prompt string
	// SourceURL is a URL the provider can fetch the uploaded photo from.
	SourceURL    string
	RequestID    string
	AspectRatio  string
	OutputFormat string
}

// Generator is the contract implemented by image providers. It returns the
// URL of the generated image; fetching it is the caller's job.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}
