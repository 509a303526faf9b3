package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dubhub/internal/model"
)

// Kind classifies user-facing notifications.
type Kind string

const (
	KindJobSucceeded Kind = "job_succeeded"
	KindJobFailed    Kind = "job_failed"
	KindJobCancelled Kind = "job_cancelled"
	KindCreditsAdded Kind = "credits_added"
)

// Notification is one user-facing message. Seq is assigned by the EventBus.
type Notification struct {
	Seq       int64         `json:"seq"`
	Timestamp time.Time     `json:"timestamp"`
	UserID    uuid.UUID     `json:"userId"`
	Kind      Kind          `json:"kind"`
	JobID     *uuid.UUID    `json:"jobId,omitempty"`
	JobType   model.JobType `json:"jobType,omitempty"`
	Title     string        `json:"title"`
	Message   string        `json:"message,omitempty"`
	OutputURL string        `json:"outputUrl,omitempty"`
	// Origin identifies the process that published the notification over
	// Redis so it can skip its own messages when relaying.
	Origin string `json:"origin,omitempty"`
}

// Notifier delivers notifications. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// ForTerminalJob builds the notification for a job that just reached a
// terminal status. The second return is false for non-terminal jobs.
func ForTerminalJob(job model.Job) (Notification, bool) {
	id := job.ID
	n := Notification{
		UserID:  job.UserID,
		JobID:   &id,
		JobType: job.Type,
	}
	label := jobLabel(job.Type)
	switch job.Status {
	case model.StatusSucceeded:
		n.Kind = KindJobSucceeded
		n.Title = label + " completed"
		n.Message = "Your " + label + " is ready."
		n.OutputURL = job.OutputURL
	case model.StatusFailed:
		n.Kind = KindJobFailed
		n.Title = label + " failed"
		n.Message = job.Error
		if n.Message == "" {
			n.Message = "Processing failed."
		}
	case model.StatusCancelled:
		n.Kind = KindJobCancelled
		n.Title = label + " cancelled"
	default:
		return Notification{}, false
	}
	return n, true
}

func jobLabel(t model.JobType) string {
	switch t {
	case model.JobTypeDubbing:
		return "Dubbing"
	case model.JobTypeSubtitles:
		return "Subtitles"
	case model.JobTypeVideoGeneration:
		return "Video generation"
	}
	return "Job"
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, target := range m {
		if target == nil {
			continue
		}
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logger writes notifications to the structured log.
type Logger struct {
	Log *slog.Logger
}

func (l Logger) Notify(_ context.Context, n Notification) error {
	logger := l.Log
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"user_id", n.UserID, "kind", n.Kind, "title", n.Title}
	if n.JobID != nil {
		attrs = append(attrs, "job_id", *n.JobID)
	}
	logger.Info("notification", attrs...)
	return nil
}
