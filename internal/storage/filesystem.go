package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidSignature = errors.New("storage: invalid signature")
	ErrLinkExpired      = errors.New("storage: link expired")
)

// FileStore persists objects onto the local filesystem and hands out
// HMAC-signed links served by the API. It is intended for development and
// test environments where an object storage service is not available.
type FileStore struct {
	basePath   string
	baseURL    string
	signingKey []byte
	now        func() time.Time
}

// NewFileStore initializes a FileStore rooted at basePath. baseURL is the
// externally reachable prefix of the blob route, e.g. http://localhost:8080/blobs.
func NewFileStore(basePath, baseURL string, signingKey []byte) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if len(signingKey) == 0 {
		return nil, errors.New("storage: signing key is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{
		basePath:   basePath,
		baseURL:    strings.TrimRight(baseURL, "/"),
		signingKey: signingKey,
		now:        time.Now,
	}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Put writes data at the cleaned key. Keys are cleaned to prevent directory traversal.
func (s *FileStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fullPath, cleanKey, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("storage: commit file: %w", err)
	}
	return s.baseURL + "/" + cleanKey, nil
}

// Read returns the stored bytes for key.
func (s *FileStore) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fullPath, _, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read file: %w", err)
	}
	return data, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, _, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete file: %w", err)
	}
	return nil
}

// PresignGet returns a link to the blob route that stays valid for ttl.
func (s *FileStore) PresignGet(ctx context.Context, key string, ttl time.Duration, opts PresignOptions) (string, error) {
	_, cleanKey, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	if opts.DownloadFilename != "" {
		q.Set("dl", opts.DownloadFilename)
	}
	q.Set("sig", s.sign(cleanKey, expires, opts.DownloadFilename))
	return s.baseURL + "/" + cleanKey + "?" + q.Encode(), nil
}

// Verify checks a link produced by PresignGet and returns the cleaned key and
// the requested download filename.
func (s *FileStore) Verify(key string, query url.Values) (string, string, error) {
	_, cleanKey, err := s.resolve(key)
	if err != nil {
		return "", "", err
	}
	expires, err := strconv.ParseInt(query.Get("expires"), 10, 64)
	if err != nil {
		return "", "", ErrInvalidSignature
	}
	filename := query.Get("dl")
	want := s.sign(cleanKey, expires, filename)
	if !hmac.Equal([]byte(want), []byte(query.Get("sig"))) {
		return "", "", ErrInvalidSignature
	}
	if s.now().Unix() > expires {
		return "", "", ErrLinkExpired
	}
	return cleanKey, filename, nil
}

func (s *FileStore) sign(key string, expires int64, filename string) string {
	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(filename))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *FileStore) resolve(key string) (string, string, error) {
	if s == nil {
		return "", "", errors.New("storage: no store configured")
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(s.basePath, filepath.FromSlash(cleanKey)), cleanKey, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var _ BlobStore = (*FileStore)(nil)
