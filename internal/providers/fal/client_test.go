package fal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caminocomms/flames-selfie-test/internal/providers/image"
)

type queueStub struct {
	pending    int32
	polls      atomic.Int32
	submitted  submitRequest
	authHeader string
	images     string
	submitCode int
}

func (q *queueStub) handler(base func() string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/fal-ai/nano-banana/edit", func(w http.ResponseWriter, r *http.Request) {
		q.authHeader = r.Header.Get("Authorization")
		if q.submitCode != 0 {
			w.WriteHeader(q.submitCode)
			_, _ = w.Write([]byte(`{"detail":"quota exceeded"}`))
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&q.submitted)
		_ = json.NewEncoder(w).Encode(submitResponse{
			RequestID:   "req-1",
			StatusURL:   base() + "/requests/req-1/status",
			ResponseURL: base() + "/requests/req-1",
		})
	})
	mux.HandleFunc("/requests/req-1/status", func(w http.ResponseWriter, r *http.Request) {
		n := q.polls.Add(1)
		status := statusCompleted
		if n <= q.pending {
			status = statusInProgress
		}
		_ = json.NewEncoder(w).Encode(statusResponse{Status: status})
	})
	mux.HandleFunc("/requests/req-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(q.images))
	})
	return mux
}

func newTestClient(t *testing.T, stub *queueStub) *Client {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(stub.handler(func() string { return srv.URL }))
	t.Cleanup(srv.Close)
	client, err := NewClient(Options{
		APIKey:       "secret",
		QueueURL:     srv.URL,
		HTTPClient:   srv.Client(),
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Options{APIKey: "  "}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestGenerateSubmitsAndPolls(t *testing.T) {
	stub := &queueStub{pending: 2, images: `{"images":[{"url":"https://cdn.fal/out.png"}]}`}
	client := newTestClient(t, stub)

	got, err := client.Generate(context.Background(), image.GenerateRequest{SourceURL: "https://blob/upload.jpg", RequestID: "job-1"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "https://cdn.fal/out.png" {
		t.Fatalf("url = %q", got)
	}
	if stub.authHeader != "Key secret" {
		t.Fatalf("authorization = %q", stub.authHeader)
	}
	if stub.polls.Load() != 3 {
		t.Fatalf("polls = %d, want 3", stub.polls.Load())
	}
	req := stub.submitted
	if req.Prompt != image.FirefighterPrompt {
		t.Fatalf("prompt not defaulted to locked prompt")
	}
	if req.NumImages != 1 || req.AspectRatio != "1:1" || req.OutputFormat != "png" {
		t.Fatalf("unexpected arguments %+v", req)
	}
	if len(req.ImageURLs) != 1 || req.ImageURLs[0] != "https://blob/upload.jpg" {
		t.Fatalf("image_urls = %v", req.ImageURLs)
	}
}

func TestGenerateNoImages(t *testing.T) {
	stub := &queueStub{images: `{"images":[]}`}
	client := newTestClient(t, stub)
	_, err := client.Generate(context.Background(), image.GenerateRequest{SourceURL: "https://blob/u.png"})
	if !errors.Is(err, image.ErrNoImage) {
		t.Fatalf("err = %v, want ErrNoImage", err)
	}
}

func TestGenerateSurfacesErrorDetail(t *testing.T) {
	stub := &queueStub{submitCode: http.StatusPaymentRequired}
	client := newTestClient(t, stub)
	_, err := client.Generate(context.Background(), image.GenerateRequest{SourceURL: "https://blob/u.png"})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") || !strings.Contains(err.Error(), "402") {
		t.Fatalf("err = %v", err)
	}
}

func TestGenerateHonoursContext(t *testing.T) {
	stub := &queueStub{pending: 1 << 20, images: `{}`}
	client := newTestClient(t, stub)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Generate(ctx, image.GenerateRequest{SourceURL: "https://blob/u.png"})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestErrorDetail(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: `{"detail":"bad image"}`, want: "bad image"},
		{raw: `{"error":"nope"}`, want: "nope"},
		{raw: `{"detail":[{"msg":"x"}]}`, want: `[{"msg":"x"}]`},
		{raw: ` plain text `, want: "plain text"},
	}
	for _, tt := range tests {
		if got := errorDetail([]byte(tt.raw)); got != tt.want {
			t.Fatalf("errorDetail(%s) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
