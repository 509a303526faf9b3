package jobs

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dubhub/internal/cache"
	"dubhub/internal/model"
	"dubhub/internal/store"
)

// Aggregator presents the three job tables as one time-ordered list. It
// never writes jobs; cancellation goes through the Manager.
type Aggregator struct {
	store     Store
	types     []model.JobType
	completed cache.CompletedJobs
	log       *slog.Logger
	limit     int32
}

func NewAggregator(st Store, types []model.JobType, completed cache.CompletedJobs, log *slog.Logger) *Aggregator {
	if len(types) == 0 {
		types = model.JobTypes()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{store: st, types: types, completed: completed, log: log, limit: 500}
}

// sortUnified orders newest first, ties broken by id.
func sortUnified(jobs []model.UnifiedJob) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID.String() > jobs[j].ID.String()
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}

// List fetches every job table for the user concurrently. statuses
// optionally narrows the result.
func (a *Aggregator) List(ctx context.Context, userID uuid.UUID, statuses ...model.Status) ([]model.UnifiedJob, error) {
	return a.list(ctx, userID, a.limit, statuses)
}

func (a *Aggregator) list(ctx context.Context, userID uuid.UUID, limit int32, statuses []model.Status) ([]model.UnifiedJob, error) {
	results := make([][]model.Job, len(a.types))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range a.types {
		i, t := i, t
		g.Go(func() error {
			jobs, err := a.store.ListJobs(gctx, t, store.JobFilter{
				UserID:   &userID,
				Statuses: statuses,
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			results[i] = jobs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]model.UnifiedJob, 0)
	for _, jobs := range results {
		for _, j := range jobs {
			out = append(out, j.Unified())
		}
	}
	sortUnified(out)
	return out, nil
}

// Find returns one of the user's jobs. Jobs owned by someone else are
// reported as not found.
func (a *Aggregator) Find(ctx context.Context, userID, jobID uuid.UUID) (model.Job, error) {
	job, err := a.store.FindJob(ctx, jobID)
	if err != nil {
		return model.Job{}, err
	}
	if job.UserID != userID {
		return model.Job{}, model.ErrJobNotFound
	}
	return job, nil
}

// Completed reads the user's succeeded jobs through the completed cache.
// On a miss the full list comes from the store and fills the cache.
func (a *Aggregator) Completed(ctx context.Context, userID uuid.UUID) ([]model.UnifiedJob, error) {
	if a.completed != nil {
		cached, ok, err := a.completed.List(ctx, userID)
		if err == nil && ok {
			return cached, nil
		}
		if err != nil {
			a.log.Warn("completed cache read failed", "user_id", userID, "error", err)
		}
	}

	jobs, err := a.list(ctx, userID, 0, []model.Status{model.StatusSucceeded})
	if err != nil {
		return nil, err
	}
	if a.completed != nil {
		if _, err := a.completed.Fill(ctx, userID, jobs); err != nil {
			a.log.Warn("completed cache fill failed", "user_id", userID, "error", err)
		}
	}
	return jobs, nil
}
