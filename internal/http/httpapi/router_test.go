package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/caminocomms/flames-selfie-test/internal/adapter/repo"
	"github.com/caminocomms/flames-selfie-test/internal/admission"
	"github.com/caminocomms/flames-selfie-test/internal/domain"
	"github.com/caminocomms/flames-selfie-test/internal/http/handlers"
	"github.com/caminocomms/flames-selfie-test/internal/metrics"
	"github.com/caminocomms/flames-selfie-test/internal/photo"
	imageprovider "github.com/caminocomms/flames-selfie-test/internal/providers/image"
	"github.com/caminocomms/flames-selfie-test/internal/ratelimit"
	"github.com/caminocomms/flames-selfie-test/internal/selfie"
	"github.com/caminocomms/flames-selfie-test/internal/storage"
	"github.com/caminocomms/flames-selfie-test/internal/worker"
)

const testBase = "http://selfie.test"

type echoGenerator struct{}

func (echoGenerator) Generate(ctx context.Context, req imageprovider.GenerateRequest) (string, error) {
	return req.SourceURL, nil
}

type staticDownloader struct{ data []byte }

func (d staticDownloader) Download(ctx context.Context, url string) ([]byte, string, error) {
	return d.data, "image/png", nil
}

type blockingScheduler struct{ tasks []worker.Task }

func (b *blockingScheduler) Schedule(task worker.Task) error {
	b.tasks = append(b.tasks, task)
	return nil
}

func texturedPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8((x * 5) % 256), G: uint8((y * 11) % 256), B: uint8((x ^ y) % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

type testServer struct {
	handler http.Handler
	repo    *repo.JobRepositoryMemory
	ctrl    *admission.Controller
	pool    *worker.Pool
}

type serverOptions struct {
	perMinute int
	maxQueue  int
	scheduler selfie.Scheduler
}

func newTestServer(t *testing.T, so serverOptions) *testServer {
	t.Helper()
	if so.perMinute == 0 {
		so.perMinute = 100
	}
	if so.maxQueue == 0 {
		so.maxQueue = 10
	}
	files, err := storage.NewFileStore(t.TempDir(), testBase+"/blobs", []byte("test-signing-key"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	jobs := repo.NewJobRepositoryMemory()
	ctrl := admission.New(2, so.maxQueue)
	m := metrics.New()
	runner := &worker.Runner{
		Repo:       jobs,
		Blobs:      files,
		Generator:  echoGenerator{},
		Downloader: staticDownloader{data: texturedPNG(t, 64, 64)},
		Frame:      photo.NewFrame(image.NewNRGBA(image.Rect(0, 0, 4, 4))),
		Metrics:    m,
		Logger:     zerolog.Nop(),
		SourceTTL:  time.Hour,
	}
	pool := worker.NewPool(context.Background(), runner)
	t.Cleanup(func() {
		pool.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Wait(ctx)
	})
	var sched selfie.Scheduler = pool
	if so.scheduler != nil {
		sched = so.scheduler
	}
	svc := selfie.NewService(jobs, files, ratelimit.New(so.perMinute, 1000), ctrl, sched, m, zerolog.Nop(), selfie.Options{
		TTL:               24 * time.Hour,
		ProcessingTimeout: 10 * time.Minute,
		LinkTTL:           time.Hour,
	})
	app := &handlers.App{
		Selfies:       svc,
		Admission:     ctrl,
		Metrics:       m,
		Files:         files,
		PublicBaseURL: testBase,
		Logger:        zerolog.Nop(),
	}
	h := NewRouter(app, Options{
		AllowedOrigins: []string{testBase},
		AllowedHosts:   []string{"*"},
		Logger:         zerolog.Nop(),
	})
	return &testServer{handler: h, repo: jobs, ctrl: ctrl, pool: pool}
}

func multipartPhoto(t *testing.T, data []byte, contentType, requestID string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="photo"; filename="selfie.png"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if requestID != "" {
		if err := mw.WriteField("client_request_id", requestID); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &body, mw.FormDataContentType()
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) generate(t *testing.T, data []byte, requestID string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartPhoto(t, data, "image/png", requestID)
	req := httptest.NewRequest(http.MethodPost, "/api/selfie/generate", body)
	req.Header.Set("Content-Type", ct)
	req.RemoteAddr = "203.0.113.5:40000"
	return s.do(req)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestGenerateToReadyFlow(t *testing.T) {
	s := newTestServer(t, serverOptions{})

	rec := s.generate(t, texturedPNG(t, 700, 700), "flow-1")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("generate status = %d body=%s", rec.Code, rec.Body.String())
	}
	accepted := decode(t, rec)
	id, _ := accepted["result_id"].(string)
	if id == "" || accepted["status"] != "processing" || accepted["retry_after_seconds"] != float64(2) {
		t.Fatalf("unexpected accepted payload %v", accepted)
	}
	if accepted["share_url"] != testBase+"/r/"+id {
		t.Fatalf("share_url = %v", accepted["share_url"])
	}

	var result map[string]any
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec := s.do(httptest.NewRequest(http.MethodGet, "/api/selfie/result/"+id, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("result status = %d", rec.Code)
		}
		result = decode(t, rec)
		if result["status"] != "processing" || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if result["status"] != "ready" {
		t.Fatalf("job did not become ready: %v", result)
	}
	imageURL, _ := result["image_url"].(string)
	if !strings.HasSuffix(imageURL, "/api/selfie/result/"+id+"/image") {
		t.Fatalf("image_url = %q", imageURL)
	}
	if s.ctrl.InFlight() != 0 {
		t.Fatalf("inflight = %d after completion", s.ctrl.InFlight())
	}

	rec = s.do(httptest.NewRequest(http.MethodGet, "/api/selfie/result/"+id+"/download", nil))
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("download status = %d", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	if loc.Query().Get("dl") != "flames-selfie-"+id+".png" {
		t.Fatalf("download filename = %q", loc.Query().Get("dl"))
	}

	rec = s.do(httptest.NewRequest(http.MethodGet, loc.RequestURI(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("blob status = %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "flames-selfie-"+id+".png") {
		t.Fatalf("content-disposition = %q", rec.Header().Get("Content-Disposition"))
	}
	cfg, err := png.DecodeConfig(rec.Body)
	if err != nil || cfg.Width != photo.OutputSize || cfg.Height != photo.OutputSize {
		t.Fatalf("final image %dx%d err=%v", cfg.Width, cfg.Height, err)
	}

	tampered := loc.Query()
	tampered.Set("sig", "00")
	rec = s.do(httptest.NewRequest(http.MethodGet, loc.Path+"?"+tampered.Encode(), nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("tampered blob status = %d", rec.Code)
	}
}

func TestGenerateIdempotentReplay(t *testing.T) {
	sched := &blockingScheduler{}
	s := newTestServer(t, serverOptions{scheduler: sched})
	photoBytes := texturedPNG(t, 600, 600)

	first := s.generate(t, photoBytes, "dup")
	if first.Code != http.StatusAccepted {
		t.Fatalf("first status = %d", first.Code)
	}
	second := s.generate(t, photoBytes, "dup")
	if second.Code != http.StatusOK {
		t.Fatalf("replay status = %d", second.Code)
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("missing replay header")
	}
	if decode(t, first)["result_id"] != decode(t, second)["result_id"] {
		t.Fatalf("replay returned a different job")
	}
	if len(sched.tasks) != 1 {
		t.Fatalf("scheduled %d tasks, want 1", len(sched.tasks))
	}
}

func TestGenerateRejections(t *testing.T) {
	tests := []struct {
		name       string
		opts       serverOptions
		prime      int
		photo      func(t *testing.T) []byte
		wantStatus int
		wantDetail string
		retryAfter string
	}{
		{
			name:       "too small",
			photo:      func(t *testing.T) []byte { return texturedPNG(t, 400, 400) },
			wantStatus: http.StatusBadRequest,
			wantDetail: "Minimum size",
		},
		{
			name:       "rate limited",
			opts:       serverOptions{perMinute: 1, scheduler: &blockingScheduler{}},
			prime:      1,
			photo:      func(t *testing.T) []byte { return texturedPNG(t, 600, 600) },
			wantStatus: http.StatusTooManyRequests,
			wantDetail: "Rate limit exceeded",
		},
		{
			name:       "queue full",
			opts:       serverOptions{maxQueue: 2, scheduler: &blockingScheduler{}},
			prime:      2,
			photo:      func(t *testing.T) []byte { return texturedPNG(t, 600, 600) },
			wantStatus: http.StatusTooManyRequests,
			wantDetail: "Too many requests",
			retryAfter: "5",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.opts)
			data := tt.photo(t)
			for i := 0; i < tt.prime; i++ {
				if rec := s.generate(t, data, ""); rec.Code != http.StatusAccepted {
					t.Fatalf("priming request %d status = %d", i, rec.Code)
				}
			}
			rec := s.generate(t, data, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			body := decode(t, rec)
			if detail, _ := body["detail"].(string); !strings.Contains(detail, tt.wantDetail) {
				t.Fatalf("detail = %q, want %q", detail, tt.wantDetail)
			}
			if tt.wantStatus == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
				t.Fatalf("missing Retry-After")
			}
			if tt.retryAfter != "" && rec.Header().Get("Retry-After") != tt.retryAfter {
				t.Fatalf("Retry-After = %q, want %q", rec.Header().Get("Retry-After"), tt.retryAfter)
			}
			if got := s.ctrl.InFlight(); got != tt.prime {
				t.Fatalf("inflight = %d, want %d", got, tt.prime)
			}
		})
	}
}

func TestGenerateForeignOriginForbidden(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	body, ct := multipartPhoto(t, texturedPNG(t, 600, 600), "image/png", "")
	req := httptest.NewRequest(http.MethodPost, "/api/selfie/generate", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Origin", "https://evil.test")
	if rec := s.do(req); rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestResultStates(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	now := time.Now().UTC()
	ctx := context.Background()
	create := func(id string, expires time.Time) {
		if err := s.repo.Create(ctx, &domain.Job{
			ID: id, Status: domain.JobStatusProcessing, CreatedAt: now, ExpiresAt: expires,
			ClientHash: "c", ClientRequestID: id,
		}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	create("expired-ready", now.Add(-time.Second))
	if _, err := s.repo.MarkReady(ctx, "expired-ready", domain.Artifacts{UploadKey: "u", GeneratedKey: "g", FinalKey: "f", PublicURL: "p"}); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	create("failed", now.Add(time.Hour))
	if _, err := s.repo.MarkFailed(ctx, "failed", domain.MessageGenerationFailed, "GENERATION_FAILED"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	create("processing", now.Add(time.Hour))

	tests := []struct {
		path   string
		status int
		want   string
	}{
		{path: "/api/selfie/result/expired-ready", status: http.StatusOK, want: "expired"},
		{path: "/api/selfie/result/failed", status: http.StatusOK, want: "failed"},
		{path: "/api/selfie/result/missing", status: http.StatusNotFound},
		{path: "/api/selfie/result/expired-ready/image", status: http.StatusGone},
		{path: "/api/selfie/result/processing/download", status: http.StatusConflict},
		{path: "/api/selfie/result/missing/image", status: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := s.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.want != "" {
				body := decode(t, rec)
				if body["status"] != tt.want {
					t.Fatalf("status field = %v, want %s", body["status"], tt.want)
				}
				if tt.want == "expired" {
					if _, ok := body["image_url"]; ok {
						t.Fatalf("expired payload exposes image_url")
					}
				}
				if tt.want == "failed" && body["error_message"] != domain.MessageGenerationFailed {
					t.Fatalf("error_message = %v", body["error_message"])
				}
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "ok" || body["inflight"] != float64(0) {
		t.Fatalf("healthz body = %v", body)
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("security headers missing")
	}

	rec = s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
}
