package vendors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/replicate/replicate-go"

	"dubhub/internal/config"
	"dubhub/internal/model"
)

const defaultReplicateBaseURL = "https://api.replicate.com"

// ReplicateClient talks to the Replicate predictions API through
// replicate-go.
type ReplicateClient struct {
	api *replicate.Client
}

// NewReplicateClient builds a client from the vendor configuration.
// BaseURL is the API host; the /v1 prefix is appended here.
func NewReplicateClient(cfg config.ReplicateConfig, maxRetries int) (*ReplicateClient, error) {
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("vendors.replicate.apiToken is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultReplicateBaseURL
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	api, err := replicate.NewClient(
		replicate.WithToken(cfg.APIToken),
		replicate.WithBaseURL(strings.TrimRight(base, "/")+"/v1"),
		replicate.WithHTTPClient(&http.Client{Timeout: timeout}),
		replicate.WithRetryPolicy(maxRetries, &replicate.ExponentialBackoff{
			Base:       200 * time.Millisecond,
			Multiplier: 2,
			Jitter:     50 * time.Millisecond,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("replicate client: %w", err)
	}
	return &ReplicateClient{api: api}, nil
}

func predictionResult(p *replicate.Prediction) Result {
	raw := string(p.Status)
	res := Result{
		Status:    Normalize(raw),
		RawStatus: raw,
		OutputURL: firstURL(any(p.Output)),
	}
	switch e := p.Error.(type) {
	case nil:
	case string:
		res.Error = e
	default:
		res.Error = fmt.Sprint(e)
	}
	if res.Status == model.StatusFailed && res.Error == "" {
		res.Error = "prediction failed"
	}
	return res
}

// replicateErr maps a 404 to ErrNotFound.
func replicateErr(err error) error {
	var apiErr *replicate.APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return err
}

// Submit creates a prediction and returns its id.
func (c *ReplicateClient) Submit(ctx context.Context, sub Submission) (string, error) {
	if sub.Model == "" {
		return "", errors.New("replicate: model version is required")
	}
	pred, err := c.api.CreatePrediction(ctx, sub.Model, replicate.PredictionInput(sub.Input), nil, false)
	if err != nil {
		return "", fmt.Errorf("replicate submit: %w", replicateErr(err))
	}
	if pred.ID == "" {
		return "", errors.New("replicate submit: empty prediction id")
	}
	return pred.ID, nil
}

// Fetch reads the current prediction state.
func (c *ReplicateClient) Fetch(ctx context.Context, vendorJobID string) (Result, error) {
	pred, err := c.api.GetPrediction(ctx, vendorJobID)
	if err != nil {
		return Result{}, fmt.Errorf("replicate fetch %s: %w", vendorJobID, replicateErr(err))
	}
	return predictionResult(pred), nil
}

// Cancel asks Replicate to stop a running prediction.
func (c *ReplicateClient) Cancel(ctx context.Context, vendorJobID string) error {
	if _, err := c.api.CancelPrediction(ctx, vendorJobID); err != nil {
		return fmt.Errorf("replicate cancel %s: %w", vendorJobID, replicateErr(err))
	}
	return nil
}
