package domain

import "time"

// JobStatus enumerates the stored lifecycle states of a selfie job.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusReady      JobStatus = "ready"
	JobStatusFailed     JobStatus = "failed"

	// JobStatusExpired is never stored. It is derived from ExpiresAt.
	JobStatusExpired JobStatus = "expired"
)

// Terminal reports whether no further transitions may happen.
func (s JobStatus) Terminal() bool {
	return s == JobStatusReady || s == JobStatusFailed
}

// ErrorCode categorizes why a job failed. Codes are for operators only.
type ErrorCode string

const (
	ErrorCodeUploadFailed      ErrorCode = "UPLOAD_FAILED"
	ErrorCodeGenerationFailed  ErrorCode = "GENERATION_FAILED"
	ErrorCodePostprocessFailed ErrorCode = "POSTPROCESS_FAILED"
	ErrorCodeStorageFailed     ErrorCode = "STORAGE_FAILED"
	ErrorCodeStoreFailed       ErrorCode = "STORE_FAILED"
	ErrorCodeScheduleFailed    ErrorCode = "SCHEDULE_FAILED"
	ErrorCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrorCodeTimedOut          ErrorCode = "TIMED_OUT"
)

const (
	MessageGenerationFailed = "Generation failed. Please try again."
	MessageTimedOut         = "Timed out. Please try again."
)

// PromptVersion identifies the generation configuration recorded on every job.
const PromptVersion = "v1-fireman-1970s-ei"

// IdempotencyKey deduplicates retried submissions from the same client.
type IdempotencyKey struct {
	ClientHash      string
	ClientRequestID string
}

// Artifacts are the blob locations written by a successful generation.
type Artifacts struct {
	UploadKey    string
	GeneratedKey string
	FinalKey     string
	PublicURL    string
}

// Job is one submitted photo and its tracked lifecycle.
type Job struct {
	ID                 string     `json:"id"`
	Status             JobStatus  `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	ExpiresAt          time.Time  `json:"expires_at"`
	ClientHash         string     `json:"client_hash"`
	ClientRequestID    string     `json:"client_request_id"`
	UserAgentHash      string     `json:"user_agent_hash,omitempty"`
	UploadObjectKey    string     `json:"upload_object_key,omitempty"`
	GeneratedObjectKey string     `json:"generated_object_key,omitempty"`
	FinalObjectKey     string     `json:"final_object_key,omitempty"`
	PublicImageURL     string     `json:"public_image_url,omitempty"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	InternalErrorCode  string     `json:"internal_error_code,omitempty"`
	PromptVersion      string     `json:"prompt_version"`
}

// IdempotencyKey returns the pair that uniquely identifies the submission.
func (j *Job) IdempotencyKey() IdempotencyKey {
	return IdempotencyKey{ClientHash: j.ClientHash, ClientRequestID: j.ClientRequestID}
}

// Expired reports whether the retention window has passed.
func (j *Job) Expired(now time.Time) bool {
	return !now.Before(j.ExpiresAt)
}

// View returns the status a client should see at the given instant.
func (j *Job) View(now time.Time) JobStatus {
	if j.Expired(now) {
		return JobStatusExpired
	}
	return j.Status
}

// ProcessingSince returns the instant the stale-processing timeout is measured from.
func (j *Job) ProcessingSince() time.Time {
	if j.StartedAt != nil {
		return *j.StartedAt
	}
	return j.CreatedAt
}

// ObjectKeys lists the non-empty blob keys referenced by the job.
func (j *Job) ObjectKeys() []string {
	keys := make([]string, 0, 3)
	for _, k := range []string{j.UploadObjectKey, j.GeneratedObjectKey, j.FinalObjectKey} {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Apply copies artifacts onto the job and clears failure fields.
func (j *Job) Apply(a Artifacts) {
	j.Status = JobStatusReady
	j.UploadObjectKey = a.UploadKey
	j.GeneratedObjectKey = a.GeneratedKey
	j.FinalObjectKey = a.FinalKey
	j.PublicImageURL = a.PublicURL
	j.ErrorMessage = ""
	j.InternalErrorCode = ""
}

// Fail records a terminal failure.
func (j *Job) Fail(message, code string) {
	j.Status = JobStatusFailed
	j.ErrorMessage = message
	j.InternalErrorCode = code
}

// Clone returns a deep copy.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	return &c
}
