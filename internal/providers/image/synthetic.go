package image

import (
	"context"
	"errors"
	"time"
)

// Synthetic stands in for a real provider in development. It waits briefly
// and hands back the source photo, so the rest of the pipeline runs end to end.
type Synthetic struct {
	Delay time.Duration
}

func NewSynthetic() *Synthetic {
	return &Synthetic{Delay: 1500 * time.Millisecond}
}

func (s *Synthetic) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if req.SourceURL == "" {
		return "", errors.New("image: source url is required")
	}
	select {
	case <-time.After(s.Delay):
		return req.SourceURL, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

var _ Generator = (*Synthetic)(nil)
