package vendors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"dubhub/internal/config"
	"dubhub/internal/model"
)

const defaultSieveBaseURL = "https://mango.sievedata.com"

// SieveClient talks to the Sieve push/jobs API. Dubbing and subtitles are
// both Sieve functions; the function name comes with each Submission.
type SieveClient struct {
	client
}

// NewSieveClient builds a client from the vendor configuration.
func NewSieveClient(cfg config.SieveConfig, maxRetries int) (*SieveClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("vendors.sieve.apiKey is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultSieveBaseURL
	}
	key := cfg.APIKey
	return &SieveClient{
		client: newClient(base, cfg.TimeoutMs, maxRetries, func(r *http.Request) {
			r.Header.Set("X-API-Key", key)
		}),
	}, nil
}

type sieveJob struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Error   string `json:"error"`
	Outputs []struct {
		Type string `json:"type"`
		Data any    `json:"data"`
	} `json:"outputs"`
}

func (j sieveJob) result() Result {
	res := Result{
		Status:    Normalize(j.Status),
		RawStatus: j.Status,
		Error:     j.Error,
	}
	for _, out := range j.Outputs {
		if u := firstURL(out.Data); u != "" {
			res.OutputURL = u
			break
		}
	}
	// Sieve reports errors on a finished job in some functions.
	if res.Status == model.StatusSucceeded && res.Error != "" && res.OutputURL == "" {
		res.Status = model.StatusFailed
	}
	if res.Status == model.StatusFailed && res.Error == "" {
		res.Error = "sieve job failed"
	}
	return res
}

// Submit pushes a new job onto a Sieve function.
func (c *SieveClient) Submit(ctx context.Context, sub Submission) (string, error) {
	if sub.Model == "" {
		return "", errors.New("sieve: function name is required")
	}
	body := map[string]any{
		"function": sub.Model,
		"inputs":   sub.Input,
	}

	var job sieveJob
	if err := c.doJSON(ctx, http.MethodPost, "/v2/push", body, &job); err != nil {
		return "", fmt.Errorf("sieve submit: %w", err)
	}
	if job.ID == "" {
		return "", errors.New("sieve submit: empty job id")
	}
	return job.ID, nil
}

// Fetch reads the current job state.
func (c *SieveClient) Fetch(ctx context.Context, vendorJobID string) (Result, error) {
	var job sieveJob
	if err := c.doJSON(ctx, http.MethodGet, "/v2/jobs/"+url.PathEscape(vendorJobID), nil, &job); err != nil {
		return Result{}, fmt.Errorf("sieve fetch %s: %w", vendorJobID, err)
	}
	return job.result(), nil
}

// Cancel asks Sieve to stop a job.
func (c *SieveClient) Cancel(ctx context.Context, vendorJobID string) error {
	if err := c.doJSON(ctx, http.MethodPost, "/v2/jobs/"+url.PathEscape(vendorJobID)+"/cancel", nil, nil); err != nil {
		return fmt.Errorf("sieve cancel %s: %w", vendorJobID, err)
	}
	return nil
}
