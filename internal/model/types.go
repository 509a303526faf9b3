package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobType identifies one of the job tables. It is fixed at creation.
type JobType string

const (
	JobTypeDubbing         JobType = "dubbing"
	JobTypeSubtitles       JobType = "subtitles"
	JobTypeVideoGeneration JobType = "video_generation"
)

// JobTypes lists every known job type in a stable order.
func JobTypes() []JobType {
	return []JobType{JobTypeDubbing, JobTypeSubtitles, JobTypeVideoGeneration}
}

func (t JobType) Valid() bool {
	switch t {
	case JobTypeDubbing, JobTypeSubtitles, JobTypeVideoGeneration:
		return true
	}
	return false
}

// ErrJobNotFound is returned when no job row matches the lookup.
var ErrJobNotFound = errors.New("job not found")

// Job is one row of a job table.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	Type        JobType         `json:"type"`
	UserID      uuid.UUID       `json:"userId"`
	Status      Status          `json:"status"`
	VendorJobID string          `json:"vendorJobId"`
	OutputURL   string          `json:"outputUrl,omitempty"`
	Error       string          `json:"error,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CostCredits int64           `json:"costCredits"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// StatusUpdate is a single atomic write of status and outcome fields.
// OutputURL is only kept for StatusSucceeded and Error only for
// StatusFailed, so a terminal row never carries both.
type StatusUpdate struct {
	Status    Status
	OutputURL string
	Error     string
}

// Normalized drops outcome fields that do not belong to the target status.
func (u StatusUpdate) Normalized() StatusUpdate {
	switch u.Status {
	case StatusSucceeded:
		u.Error = ""
	case StatusFailed:
		u.OutputURL = ""
	default:
		u.OutputURL = ""
		u.Error = ""
	}
	return u
}

// UnifiedJob is the common shape used to present all job types in one list.
type UnifiedJob struct {
	ID        uuid.UUID       `json:"id"`
	Type      JobType         `json:"type"`
	Status    Status          `json:"status"`
	Progress  int             `json:"progress"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt *time.Time      `json:"updatedAt,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	OutputURL string          `json:"outputUrl,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Unified maps a job row into the common view shape.
func (j Job) Unified() UnifiedJob {
	u := UnifiedJob{
		ID:        j.ID,
		Type:      j.Type,
		Status:    j.Status,
		Progress:  Progress(j.Status),
		CreatedAt: j.CreatedAt,
		Metadata:  j.Metadata,
		OutputURL: j.OutputURL,
		Error:     j.Error,
	}
	if !j.UpdatedAt.IsZero() {
		t := j.UpdatedAt
		u.UpdatedAt = &t
	}
	return u
}

// TransactionType classifies credit ledger entries.
type TransactionType string

const (
	TransactionPurchase TransactionType = "purchase"
	TransactionUsage    TransactionType = "usage"
	TransactionRefund   TransactionType = "refund"
	TransactionGrant    TransactionType = "grant"
)

// CreditTransaction is an append-only ledger entry. Amount is signed:
// positive for purchases, grants and refunds, negative for usage.
type CreditTransaction struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"userId"`
	Amount       int64           `json:"amount"`
	Type         TransactionType `json:"type"`
	ServiceType  string          `json:"serviceType,omitempty"`
	JobID        *uuid.UUID      `json:"jobId,omitempty"`
	Description  string          `json:"description,omitempty"`
	Reference    string          `json:"reference,omitempty"`
	BalanceAfter int64           `json:"balanceAfter"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Debit is a request to atomically remove credits from a balance.
type Debit struct {
	UserID      uuid.UUID
	Amount      int64
	ServiceType string
	JobID       *uuid.UUID
	Description string
}

// Credit is a request to add credits. A non-empty Reference makes the
// write idempotent: a second credit with the same reference is ignored.
type Credit struct {
	UserID      uuid.UUID
	Amount      int64
	Type        TransactionType
	JobID       *uuid.UUID
	Reference   string
	Description string
}

// ErrInsufficientCredits is matched by InsufficientCreditsError.
var ErrInsufficientCredits = errors.New("insufficient credits")

// InsufficientCreditsError reports a rejected debit. No writes were made.
type InsufficientCreditsError struct {
	Balance  int64
	Required int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: balance %d, required %d", e.Balance, e.Required)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}
