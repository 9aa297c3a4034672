package selfie

import (
	"testing"
	"time"

	"github.com/caminocomms/flames-selfie-test/internal/domain"
)

func TestBuildPayload(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	base := func(status domain.JobStatus) *domain.Job {
		return &domain.Job{ID: "abc", Status: status, ExpiresAt: now.Add(time.Hour)}
	}

	tests := []struct {
		name  string
		job   *domain.Job
		check func(t *testing.T, p Payload)
	}{
		{
			name: "processing",
			job:  base(domain.JobStatusProcessing),
			check: func(t *testing.T, p Payload) {
				if p.Status != domain.JobStatusProcessing || p.RetryAfterSeconds != 2 {
					t.Fatalf("unexpected payload %+v", p)
				}
				if p.ImageURL != "" || p.ErrorMessage != "" {
					t.Fatalf("processing payload leaks fields: %+v", p)
				}
			},
		},
		{
			name: "ready",
			job:  base(domain.JobStatusReady),
			check: func(t *testing.T, p Payload) {
				if p.ImageURL != "https://selfie.test/api/selfie/result/abc/image" {
					t.Fatalf("image_url = %q", p.ImageURL)
				}
				if p.DownloadURL != "https://selfie.test/api/selfie/result/abc/download" {
					t.Fatalf("download_url = %q", p.DownloadURL)
				}
				if p.RetryAfterSeconds != 0 {
					t.Fatalf("ready payload has retry hint")
				}
			},
		},
		{
			name: "failed",
			job: func() *domain.Job {
				j := base(domain.JobStatusFailed)
				j.ErrorMessage = domain.MessageTimedOut
				return j
			}(),
			check: func(t *testing.T, p Payload) {
				if p.ErrorMessage != domain.MessageTimedOut {
					t.Fatalf("error_message = %q", p.ErrorMessage)
				}
			},
		},
		{
			name: "expired wins over ready",
			job: func() *domain.Job {
				j := base(domain.JobStatusReady)
				j.ExpiresAt = now
				return j
			}(),
			check: func(t *testing.T, p Payload) {
				if p.Status != domain.JobStatusExpired {
					t.Fatalf("status = %q, want expired", p.Status)
				}
				if p.ImageURL != "" || p.DownloadURL != "" || p.RetryAfterSeconds != 0 {
					t.Fatalf("expired payload should be minimal: %+v", p)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := BuildPayload(tt.job, now, "https://selfie.test/")
			if p.ShareURL != "https://selfie.test/r/abc" {
				t.Fatalf("share_url = %q", p.ShareURL)
			}
			tt.check(t, p)
		})
	}
}
