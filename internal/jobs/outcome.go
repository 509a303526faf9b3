package jobs

import (
	"context"
	"log/slog"

	"dubhub/internal/cache"
	"dubhub/internal/metrics"
	"dubhub/internal/model"
	"dubhub/internal/notify"
	"dubhub/internal/vendors"
)

// updateFromResult turns a vendor snapshot into a single status write.
// It returns false when nothing should be written: a success without an
// output artifact is left for a later check. An error payload fails the
// job whatever status accompanies it, unless the vendor also delivered
// the output.
func updateFromResult(res vendors.Result) (model.StatusUpdate, bool) {
	if res.Error != "" && (res.Status != model.StatusSucceeded || res.OutputURL == "") {
		return model.StatusUpdate{Status: model.StatusFailed, Error: res.Error}, true
	}
	switch res.Status {
	case model.StatusSucceeded:
		if res.OutputURL == "" {
			return model.StatusUpdate{}, false
		}
		return model.StatusUpdate{Status: model.StatusSucceeded, OutputURL: res.OutputURL}, true
	case model.StatusFailed:
		msg := res.Error
		if msg == "" {
			msg = "vendor reported failure"
		}
		return model.StatusUpdate{Status: model.StatusFailed, Error: msg}, true
	case "":
		return model.StatusUpdate{}, false
	default:
		return model.StatusUpdate{Status: res.Status}, true
	}
}

// finisher runs the side effects of a terminal transition. Only the writer
// whose conditional update performed the transition calls it, so each job
// is notified at most once.
type finisher struct {
	notifier  notify.Notifier
	completed cache.CompletedJobs
	log       *slog.Logger
}

func (f finisher) finish(ctx context.Context, job model.Job, source string) {
	if !job.Status.IsTerminal() {
		return
	}
	metrics.RecordJobTerminal(string(job.Type), string(job.Status), source)
	f.log.Info("job finished", "job_id", job.ID, "type", job.Type, "status", job.Status, "source", source)

	// Add is a no-op on a cold cache; the next read fills it from the store.
	if job.Status == model.StatusSucceeded && f.completed != nil {
		if _, err := f.completed.Add(ctx, job.Unified(), job.UserID); err != nil {
			f.log.Warn("completed cache add failed", "job_id", job.ID, "error", err)
		}
	}

	if f.notifier == nil {
		return
	}
	if n, ok := notify.ForTerminalJob(job); ok {
		if err := f.notifier.Notify(ctx, n); err != nil {
			f.log.Warn("notification failed", "job_id", job.ID, "error", err)
		}
	}
}
