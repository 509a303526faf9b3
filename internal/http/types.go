package http

import (
	"github.com/google/uuid"

	"dubhub/internal/billing"
	"dubhub/internal/config"
	"dubhub/internal/jobs"
	"dubhub/internal/model"
	"dubhub/internal/notify"
)

// ErrorResponse is the error envelope shared by every endpoint.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

// CreateJobRequest starts a job of the given type.
type CreateJobRequest struct {
	Type model.JobType `json:"type"`
	jobs.JobData
}

type CreateJobResponse struct {
	Success bool             `json:"success"`
	Job     model.UnifiedJob `json:"job"`
}

type ListJobsResponse struct {
	Success bool               `json:"success"`
	Jobs    []model.UnifiedJob `json:"jobs"`
}

type JobResponse struct {
	Success bool             `json:"success"`
	Job     model.UnifiedJob `json:"job"`
}

type SyncResponse struct {
	Success bool                `json:"success"`
	Report  jobs.RecoveryReport `json:"report"`
}

type BalanceResponse struct {
	Success bool      `json:"success"`
	UserID  uuid.UUID `json:"userId"`
	Balance int64     `json:"balance"`
}

type TransactionsResponse struct {
	Success      bool                      `json:"success"`
	Transactions []model.CreditTransaction `json:"transactions"`
}

type EstimateResponse struct {
	Success    bool  `json:"success"`
	Credits    int64 `json:"credits"`
	Balance    int64 `json:"balance"`
	Sufficient bool  `json:"sufficient"`
}

type CheckoutRequest struct {
	PackageID string `json:"packageId"`
}

type CheckoutResponse struct {
	Success bool `json:"success"`
	billing.Checkout
}

type ConfirmRequest struct {
	SessionID string `json:"sessionId"`
}

type ConfirmResponse struct {
	Success bool `json:"success"`
	billing.Fulfillment
}

type PackagesResponse struct {
	Success  bool                   `json:"success"`
	Packages []config.CreditPackage `json:"packages"`
}

type NotificationsResponse struct {
	Success       bool                  `json:"success"`
	Notifications []notify.Notification `json:"notifications"`
	LastSeq       int64                 `json:"lastSeq"`
}

type RecoveryRunRequest struct {
	UserID *uuid.UUID `json:"userId,omitempty"`
}

type GrantRequest struct {
	UserID      uuid.UUID `json:"userId"`
	Credits     int64     `json:"credits"`
	Reference   string    `json:"reference,omitempty"`
	Description string    `json:"description,omitempty"`
}

type GrantResponse struct {
	Success      bool  `json:"success"`
	Applied      bool  `json:"applied"`
	BalanceAfter int64 `json:"balanceAfter,omitempty"`
}

type ActiveJobsResponse struct {
	Success bool             `json:"success"`
	Jobs    []jobs.ActiveJob `json:"jobs"`
}
