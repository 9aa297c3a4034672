package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/caminocomms/flames-selfie-test/internal/infra"
	"github.com/caminocomms/flames-selfie-test/internal/providers/image"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("fal: api key is required")

const (
	statusInQueue    = "IN_QUEUE"
	statusInProgress = "IN_PROGRESS"
	statusCompleted  = "COMPLETED"
)

// Options configures the fal.ai queue client.
type Options struct {
	APIKey       string
	QueueURL     string
	Model        string
	HTTPClient   *http.Client
	Logger       *infra.Logger
	PollInterval time.Duration
	// RequestsPerSecond paces queue submissions. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// Client submits image edits to the fal.ai queue and waits for the result.
type Client struct {
	apiKey       string
	queueURL     string
	model        string
	pollInterval time.Duration
	limiter      *rate.Limiter
	httpClient   *http.Client
	logger       *infra.Logger
}

type submitRequest struct {
	Prompt       string   `json:"prompt"`
	ImageURLs    []string `json:"image_urls"`
	NumImages    int      `json:"num_images"`
	AspectRatio  string   `json:"aspect_ratio,omitempty"`
	OutputFormat string   `json:"output_format,omitempty"`
}

type submitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type statusResponse struct {
	Status        string `json:"status"`
	QueuePosition int    `json:"queue_position"`
}

type resultResponse struct {
	Images []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"images"`
}

type errorResponse struct {
	Detail json.RawMessage `json:"detail"`
	Error  string          `json:"error"`
}

// NewClient constructs a client with defaults for anything left unset.
func NewClient(opts Options) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	queueURL := strings.TrimRight(opts.QueueURL, "/")
	if queueURL == "" {
		queueURL = "https://queue.fal.run"
	}
	model := strings.Trim(strings.TrimSpace(opts.Model), "/")
	if model == "" {
		model = "fal-ai/nano-banana/edit"
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		l := zerolog.New(io.Discard)
		logger = &l
	}
	return &Client{
		apiKey:       apiKey,
		queueURL:     queueURL,
		model:        model,
		pollInterval: poll,
		limiter:      limiter,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// Generate submits req, polls until the job completes and returns the first image URL.
func (c *Client) Generate(ctx context.Context, req image.GenerateRequest) (string, error) {
	if strings.TrimSpace(req.SourceURL) == "" {
		return "", errors.New("fal: source url is required")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("fal: rate limit wait: %w", err)
		}
	}

	started := time.Now()
	submitted, err := c.submit(ctx, req)
	if err != nil {
		return "", err
	}
	c.logger.Debug().
		Str("model", c.model).
		Str("fal_request_id", submitted.RequestID).
		Str("job_id", req.RequestID).
		Msg("fal request queued")

	if err := c.waitCompleted(ctx, submitted.StatusURL); err != nil {
		return "", err
	}

	var result resultResponse
	if err := c.getJSON(ctx, submitted.ResponseURL, &result); err != nil {
		return "", err
	}
	if len(result.Images) == 0 || strings.TrimSpace(result.Images[0].URL) == "" {
		return "", image.ErrNoImage
	}
	c.logger.Debug().
		Str("fal_request_id", submitted.RequestID).
		Dur("elapsed", time.Since(started)).
		Msg("fal request completed")
	return result.Images[0].URL, nil
}

func (c *Client) submit(ctx context.Context, req image.GenerateRequest) (*submitResponse, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = image.FirefighterPrompt
	}
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = image.AspectSquare
	}
	format := req.OutputFormat
	if format == "" {
		format = image.FormatPNG
	}
	body, err := json.Marshal(submitRequest{
		Prompt:       prompt,
		ImageURLs:    []string{req.SourceURL},
		NumImages:    1,
		AspectRatio:  aspect,
		OutputFormat: format,
	})
	if err != nil {
		return nil, fmt.Errorf("fal: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.queueURL+"/"+c.model, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fal: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var decoded submitResponse
	if err := c.do(httpReq, &decoded); err != nil {
		return nil, err
	}
	if decoded.StatusURL == "" || decoded.ResponseURL == "" {
		return nil, fmt.Errorf("fal: queue response missing urls (request %s)", decoded.RequestID)
	}
	return &decoded, nil
}

func (c *Client) waitCompleted(ctx context.Context, statusURL string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		var status statusResponse
		if err := c.getJSON(ctx, statusURL, &status); err != nil {
			return err
		}
		switch status.Status {
		case statusCompleted:
			return nil
		case statusInQueue, statusInProgress:
		default:
			return fmt.Errorf("fal: unexpected status %q", status.Status)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("fal: waiting for result: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("fal: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fal: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("fal: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fal: status %d: %s", resp.StatusCode, errorDetail(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("fal: decode response: %w", err)
	}
	return nil
}

func errorDetail(raw []byte) string {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil {
		if detail.Error != "" {
			return detail.Error
		}
		if len(detail.Detail) > 0 {
			var msg string
			if json.Unmarshal(detail.Detail, &msg) == nil {
				return msg
			}
			return string(detail.Detail)
		}
	}
	return strings.TrimSpace(string(raw))
}

var _ image.Generator = (*Client)(nil)
