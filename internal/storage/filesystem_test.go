package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), "http://localhost:8080/blobs", []byte("secret"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	store.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return store
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "selfies/abc/final.png", want: "selfies/abc/final.png"},
		{in: "/selfies//abc/./final.png", want: "selfies/abc/final.png"},
		{in: "selfies\\abc\\upload.jpg", want: "selfies/abc/upload.jpg"},
		{in: "../etc/passwd", wantErr: true},
		{in: "selfies/../../etc", wantErr: true},
		{in: "  ", wantErr: true},
	}
	for _, tt := range tests {
		got, err := sanitizeKey(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("sanitizeKey(%q) = %q, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("sanitizeKey(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("sanitizeKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileStorePutReadDelete(t *testing.T) {
	store := newTestFileStore(t)
	ctx := context.Background()

	url, err := store.Put(ctx, "selfies/abc/final.png", []byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if url != "http://localhost:8080/blobs/selfies/abc/final.png" {
		t.Fatalf("url = %q", url)
	}
	data, err := store.Read(ctx, "selfies/abc/final.png")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("data = %q", data)
	}
	if err := store.Delete(ctx, "selfies/abc/final.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Read(ctx, "selfies/abc/final.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Read after delete err = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "selfies/abc/final.png"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}

func TestFileStorePresignRoundTrip(t *testing.T) {
	store := newTestFileStore(t)
	link, err := store.PresignGet(context.Background(), "selfies/abc/final.png", time.Hour, PresignOptions{DownloadFilename: "flames-selfie-abc.png"})
	if err != nil {
		t.Fatalf("PresignGet: %v", err)
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	key := strings.TrimPrefix(u.Path, "/blobs/")
	gotKey, filename, err := store.Verify(key, u.Query())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if gotKey != "selfies/abc/final.png" || filename != "flames-selfie-abc.png" {
		t.Fatalf("Verify = %q, %q", gotKey, filename)
	}

	tampered := u.Query()
	tampered.Set("dl", "other.png")
	if _, _, err := store.Verify(key, tampered); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("tampered err = %v, want ErrInvalidSignature", err)
	}
	if _, _, err := store.Verify("selfies/other/final.png", u.Query()); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("other key err = %v, want ErrInvalidSignature", err)
	}

	store.now = func() time.Time { return time.Unix(1_700_000_000, 0).Add(2 * time.Hour) }
	if _, _, err := store.Verify(key, u.Query()); !errors.Is(err, ErrLinkExpired) {
		t.Fatalf("expired err = %v, want ErrLinkExpired", err)
	}
}
