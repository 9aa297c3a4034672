package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("storage: object not found")

// PresignOptions tweaks a presigned download.
type PresignOptions struct {
	// DownloadFilename, when set, asks the client to save the object as an attachment.
	DownloadFilename string
}

// BlobStore is the key-value object store used for uploads and artifacts.
type BlobStore interface {
	// Put stores data at key and returns the object's public URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration, opts PresignOptions) (string, error)
}

// AttachmentDisposition is the Content-Disposition value for a named download.
func AttachmentDisposition(filename string) string {
	return `attachment; filename="` + filename + `"`
}
