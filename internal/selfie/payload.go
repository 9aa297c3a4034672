package selfie

import (
	"strings"
	"time"

	"github.com/caminocomms/flames-selfie-test/internal/domain"
)

// RetryAfterSeconds is the polling hint returned while a job is processing.
const RetryAfterSeconds = 2

// Payload is the client-facing view of a job.
type Payload struct {
	ResultID          string           `json:"result_id"`
	Status            domain.JobStatus `json:"status"`
	ShareURL          string           `json:"share_url"`
	ExpiresAt         time.Time        `json:"expires_at"`
	RetryAfterSeconds int              `json:"retry_after_seconds,omitempty"`
	ImageURL          string           `json:"image_url,omitempty"`
	DownloadURL       string           `json:"download_url,omitempty"`
	ErrorMessage      string           `json:"error_message,omitempty"`
}

// BuildPayload renders job as seen at now. Links are absolute under baseURL.
func BuildPayload(job *domain.Job, now time.Time, baseURL string) Payload {
	base := strings.TrimRight(baseURL, "/")
	p := Payload{
		ResultID:  job.ID,
		Status:    job.View(now),
		ShareURL:  base + "/r/" + job.ID,
		ExpiresAt: job.ExpiresAt,
	}
	switch p.Status {
	case domain.JobStatusReady:
		p.ImageURL = base + "/api/selfie/result/" + job.ID + "/image"
		p.DownloadURL = base + "/api/selfie/result/" + job.ID + "/download"
	case domain.JobStatusFailed:
		p.ErrorMessage = job.ErrorMessage
		if p.ErrorMessage == "" {
			p.ErrorMessage = "Generation failed."
		}
	case domain.JobStatusProcessing:
		p.RetryAfterSeconds = RetryAfterSeconds
	}
	return p
}
