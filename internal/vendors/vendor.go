package vendors

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

	"github.com/sethvargo/go-retry"

	"dubhub/internal/model"
)

// Submission is a provider-agnostic request to start remote work. Model is
// the Sieve function name or the Replicate model version.
type Submission struct {
	Model string
	Input map[string]any
}

// Result is a normalized vendor status snapshot.
type Result struct {
	Status    model.Status
	RawStatus string
	OutputURL string
	Error     string
}

// Provider defines the contract for the external processing vendors.
// Implementations map their own status vocabulary into model.Status via
// Normalize and should never leak credentials in errors.
type Provider interface {
	Submit(ctx context.Context, sub Submission) (string, error)
	Fetch(ctx context.Context, vendorJobID string) (Result, error)
	Cancel(ctx context.Context, vendorJobID string) error
}

// ErrNotFound is returned when the vendor does not know the job id.
var ErrNotFound = errors.New("vendor job not found")

// APIError is a non-2xx vendor response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vendor returned %d: %s", e.StatusCode, e.Body)
}

// Normalize maps vendor status strings into the job status set. Unknown
// values map to processing so a job is never mistaken for terminal.
func Normalize(raw string) model.Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "starting", "created", "pending":
		return model.StatusStarting
	case "queued", "waiting":
		return model.StatusQueued
	case "processing", "running", "started", "in_progress":
		return model.StatusProcessing
	case "succeeded", "success", "completed", "complete", "finished", "done":
		return model.StatusSucceeded
	case "failed", "failure", "error", "errored":
		return model.StatusFailed
	case "canceled", "cancelled", "aborted":
		return model.StatusCancelled
	default:
		return model.StatusProcessing
	}
}

// client carries the HTTP plumbing of vendors without a Go SDK (Sieve).
type client struct {
	baseURL    string
	http       *http.Client
	maxRetries uint64
	backoff    time.Duration
	authorize  func(*http.Request)
}

func newClient(baseURL string, timeoutMs int, maxRetries int, authorize func(*http.Request)) client {
	if timeoutMs <= 0 {
		timeoutMs = 15000
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		maxRetries: uint64(maxRetries),
		backoff:    200 * time.Millisecond,
		authorize:  authorize,
	}
}

// doJSON sends body (if any) as JSON and decodes the response into out.
// 429 and 5xx responses and transport errors are retried with exponential
// backoff; other failures return immediately.
func (c client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
	}

	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.authorize != nil {
			c.authorize(req)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return retry.RetryableError(err)
		}

		if resp.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return retry.RetryableError(&APIError{StatusCode: resp.StatusCode, Body: truncate(string(raw))})
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Body: truncate(string(raw))}
		}

		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 256 {
		return s[:256]
	}
	return s
}

// firstURL extracts the first URL-looking string from a loosely typed
// output value: a string, a list, or an object with a url field.
func firstURL(v any) string {
	switch out := v.(type) {
	case string:
		if strings.HasPrefix(out, "http://") || strings.HasPrefix(out, "https://") {
			return out
		}
	case []any:
		for _, item := range out {
			if u := firstURL(item); u != "" {
				return u
			}
		}
	case map[string]any:
		for _, key := range []string{"url", "output", "video", "data", "file"} {
			if inner, ok := out[key]; ok {
				if u := firstURL(inner); u != "" {
					return u
				}
			}
		}
	}
	return ""
}
