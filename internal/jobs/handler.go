package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"dubhub/internal/model"
	"dubhub/internal/pricing"
	"dubhub/internal/vendors"
)

var (
	// ErrUnknownJobType is returned for job types without a registered Handler.
	ErrUnknownJobType = errors.New("unknown job type")
	// ErrInvalidJobData wraps validation failures of JobData.
	ErrInvalidJobData = errors.New("invalid job data")
)

// JobData is the input to StartJob. Fields beyond UserID are interpreted
// per job type.
type JobData struct {
	UserID uuid.UUID `json:"-"`

	// VendorJobID skips the vendor submit when the caller already started
	// the remote work.
	VendorJobID string `json:"vendorJobId,omitempty"`

	SourceURL       string   `json:"sourceUrl,omitempty"`
	Filename        string   `json:"filename,omitempty"`
	Languages       []string `json:"languages,omitempty"`
	DurationSeconds float64  `json:"durationSeconds,omitempty"`
	Premium         bool     `json:"premium,omitempty"`
	Prompt          string   `json:"prompt,omitempty"`
}

// Handler is the per-type strategy used by the Manager and the recovery
// pass. Adding a job type means adding a Handler.
type Handler interface {
	Type() model.JobType
	Validate(data JobData) error
	Cost(data JobData) (int64, error)
	Metadata(data JobData) (json.RawMessage, error)
	Submit(ctx context.Context, data JobData) (string, error)
	FetchStatus(ctx context.Context, vendorJobID string) (vendors.Result, error)
}

// Canceler is implemented by handlers whose vendor supports cancellation.
type Canceler interface {
	CancelVendor(ctx context.Context, vendorJobID string) error
}

// Registry selects the Handler for a job type.
type Registry struct {
	handlers map[model.JobType]Handler
}

func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[model.JobType]Handler)}
	for _, h := range handlers {
		r.Register(h)
	}
	return r
}

func (r *Registry) Register(h Handler) {
	r.handlers[h.Type()] = h
}

func (r *Registry) Get(t model.JobType) (Handler, error) {
	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJobType, t)
	}
	return h, nil
}

// Types returns the registered job types in a stable order.
func (r *Registry) Types() []model.JobType {
	var out []model.JobType
	for _, t := range model.JobTypes() {
		if _, ok := r.handlers[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// vendorHandler adapts a vendors.Provider to a job type.
type vendorHandler struct {
	jobType  model.JobType
	provider vendors.Provider
	model    string
	validate func(JobData) error
	cost     func(JobData) (int64, error)
	input    func(JobData) map[string]any
}

func (h *vendorHandler) Type() model.JobType { return h.jobType }

func (h *vendorHandler) Validate(data JobData) error {
	if data.UserID == uuid.Nil {
		return fmt.Errorf("%w: user id is required", ErrInvalidJobData)
	}
	if err := h.validate(data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJobData, err)
	}
	return nil
}

func (h *vendorHandler) Cost(data JobData) (int64, error) { return h.cost(data) }

func (h *vendorHandler) Metadata(data JobData) (json.RawMessage, error) {
	meta := map[string]any{"model": h.model}
	if data.Filename != "" {
		meta["filename"] = data.Filename
	}
	if data.SourceURL != "" {
		meta["sourceUrl"] = data.SourceURL
	}
	if len(data.Languages) > 0 {
		meta["languages"] = data.Languages
	}
	if data.DurationSeconds > 0 {
		meta["durationSeconds"] = data.DurationSeconds
	}
	if data.Premium {
		meta["premium"] = true
	}
	if data.Prompt != "" {
		meta["prompt"] = data.Prompt
	}
	return json.Marshal(meta)
}

func (h *vendorHandler) Submit(ctx context.Context, data JobData) (string, error) {
	return h.provider.Submit(ctx, vendors.Submission{Model: h.model, Input: h.input(data)})
}

func (h *vendorHandler) FetchStatus(ctx context.Context, vendorJobID string) (vendors.Result, error) {
	return h.provider.Fetch(ctx, vendorJobID)
}

func (h *vendorHandler) CancelVendor(ctx context.Context, vendorJobID string) error {
	return h.provider.Cancel(ctx, vendorJobID)
}

func validDuration(seconds float64) error {
	if !(seconds > 0) {
		return errors.New("durationSeconds must be positive")
	}
	if seconds > pricing.MaxDurationSeconds {
		return fmt.Errorf("durationSeconds must not exceed %d", pricing.MaxDurationSeconds)
	}
	return nil
}

func cleanLanguages(langs []string) []string {
	out := make([]string, 0, len(langs))
	seen := make(map[string]bool)
	for _, l := range langs {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// NewDubbingHandler runs dubbing on a Sieve function. Cost is per started
// minute per target language.
func NewDubbingHandler(p vendors.Provider, function string) Handler {
	return &vendorHandler{
		jobType:  model.JobTypeDubbing,
		provider: p,
		model:    function,
		validate: func(d JobData) error {
			switch n := len(cleanLanguages(d.Languages)); {
			case n == 0:
				return errors.New("at least one target language is required")
			case n > pricing.MaxLanguages:
				return fmt.Errorf("at most %d target languages are allowed", pricing.MaxLanguages)
			}
			if err := validDuration(d.DurationSeconds); err != nil {
				return err
			}
			if d.VendorJobID == "" && d.SourceURL == "" {
				return errors.New("sourceUrl is required")
			}
			return nil
		},
		cost: func(d JobData) (int64, error) {
			return pricing.DubbingCost(d.DurationSeconds/60, len(cleanLanguages(d.Languages)))
		},
		input: func(d JobData) map[string]any {
			return map[string]any{
				"source_file":      map[string]string{"url": d.SourceURL},
				"target_languages": cleanLanguages(d.Languages),
			}
		},
	}
}

// NewSubtitlesHandler runs captioning on a Sieve function. Cost is flat
// per run, doubled for the premium tier.
func NewSubtitlesHandler(p vendors.Provider, function string) Handler {
	return &vendorHandler{
		jobType:  model.JobTypeSubtitles,
		provider: p,
		model:    function,
		validate: func(d JobData) error {
			if err := validDuration(d.DurationSeconds); err != nil {
				return err
			}
			if d.VendorJobID == "" && d.SourceURL == "" {
				return errors.New("sourceUrl is required")
			}
			return nil
		},
		cost: func(d JobData) (int64, error) {
			return pricing.SubtitlesCost(d.Premium), nil
		},
		input: func(d JobData) map[string]any {
			in := map[string]any{"file": map[string]string{"url": d.SourceURL}}
			if langs := cleanLanguages(d.Languages); len(langs) > 0 {
				in["language"] = langs[0]
			}
			return in
		},
	}
}

// NewVideoGenerationHandler runs a Replicate model version. Cost is per
// started second of generated video.
func NewVideoGenerationHandler(p vendors.Provider, version string) Handler {
	return &vendorHandler{
		jobType:  model.JobTypeVideoGeneration,
		provider: p,
		model:    version,
		validate: func(d JobData) error {
			if d.VendorJobID == "" && strings.TrimSpace(d.Prompt) == "" && d.SourceURL == "" {
				return errors.New("prompt or sourceUrl is required")
			}
			return validDuration(d.DurationSeconds)
		},
		cost: func(d JobData) (int64, error) {
			return pricing.VideoGenerationCost(d.DurationSeconds)
		},
		input: func(d JobData) map[string]any {
			in := map[string]any{"duration": d.DurationSeconds}
			if d.Prompt != "" {
				in["prompt"] = d.Prompt
			}
			if d.SourceURL != "" {
				in["image"] = d.SourceURL
			}
			return in
		},
	}
}
