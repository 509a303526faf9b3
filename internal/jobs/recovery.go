package jobs

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dubhub/internal/cache"
	"dubhub/internal/metrics"
	"dubhub/internal/model"
	"dubhub/internal/notify"
	"dubhub/internal/store"
)

// RecoveryReport summarizes one reconciliation pass.
type RecoveryReport struct {
	Checked  int `json:"checked"`
	Updated  int `json:"updated"`
	Repaired int `json:"repaired"`
	Failed   int `json:"failed"`
	Cached   int `json:"cached"`
}

// RecoveryOptions tunes a pass.
type RecoveryOptions struct {
	BatchSize   int
	Concurrency int
}

// Recovery reconciles non-terminal jobs with vendor truth, repairs rows
// whose status drifted from their outcome and fills the completed cache.
type Recovery struct {
	store    Store
	handlers *Registry
	finisher
	opts RecoveryOptions
}

func NewRecovery(st Store, handlers *Registry, notifier notify.Notifier, completed cache.CompletedJobs, log *slog.Logger, opts RecoveryOptions) *Recovery {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Recovery{
		store:    st,
		handlers: handlers,
		finisher: finisher{notifier: notifier, completed: completed, log: log},
		opts:     opts,
	}
}

// Run executes one pass. A nil userID reconciles every user. Errors on
// individual jobs are logged and counted; they never abort the pass.
func (r *Recovery) Run(ctx context.Context, userID *uuid.UUID) RecoveryReport {
	var (
		mu     sync.Mutex
		report RecoveryReport
	)
	count := func(fn func(*RecoveryReport)) {
		mu.Lock()
		fn(&report)
		mu.Unlock()
	}

	r.repairDrift(ctx, userID, &report)

	var pending []model.Job
	for _, t := range r.handlers.Types() {
		jobs, err := r.store.ListJobs(ctx, t, store.JobFilter{
			UserID:          userID,
			Statuses:        model.ReconcilableStatuses(),
			RequireVendorID: true,
			OldestFirst:     true,
			Limit:           int32(r.opts.BatchSize),
		})
		if err != nil {
			r.log.Error("recovery list failed", "type", t, "error", err)
			report.Failed++
			continue
		}
		pending = append(pending, jobs...)
	}

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for _, job := range pending {
		job := job
		g.Go(func() error {
			r.reconcile(ctx, job, count)
			return nil
		})
	}
	_ = g.Wait()

	if userID != nil {
		report.Cached += r.syncCompleted(ctx, *userID)
	}

	metrics.RecordRecovery(report.Checked, report.Updated, report.Repaired, report.Failed, report.Cached)
	if report.Updated > 0 || report.Repaired > 0 || report.Failed > 0 {
		r.log.Info("recovery pass finished", "checked", report.Checked, "updated", report.Updated, "repaired", report.Repaired, "failed", report.Failed, "cached", report.Cached)
	}
	return report
}

func (r *Recovery) reconcile(ctx context.Context, job model.Job, count func(func(*RecoveryReport))) {
	h, err := r.handlers.Get(job.Type)
	if err != nil {
		r.log.Error("recovery: no handler", "job_id", job.ID, "type", job.Type)
		count(func(rep *RecoveryReport) { rep.Failed++ })
		return
	}

	res, err := h.FetchStatus(ctx, job.VendorJobID)
	if err != nil {
		r.log.Warn("recovery: vendor fetch failed", "job_id", job.ID, "vendor_job_id", job.VendorJobID, "error", err)
		count(func(rep *RecoveryReport) { rep.Failed++ })
		return
	}
	count(func(rep *RecoveryReport) { rep.Checked++ })

	update, ok := updateFromResult(res)
	if !ok {
		if res.Status == model.StatusSucceeded {
			r.log.Warn("recovery: vendor reported success without output", "job_id", job.ID, "vendor_job_id", job.VendorJobID)
		}
		return
	}
	if update.Status == job.Status && !update.Status.IsTerminal() {
		return
	}

	current, changed, err := r.store.ApplyStatus(ctx, job.Type, job.ID, update)
	if err != nil {
		r.log.Error("recovery: status write failed", "job_id", job.ID, "error", err)
		count(func(rep *RecoveryReport) { rep.Failed++ })
		return
	}
	if !changed {
		return
	}
	count(func(rep *RecoveryReport) { rep.Updated++ })
	if current.Status.IsTerminal() {
		r.finish(ctx, current, "recovery")
	}
}

// repairDrift forces rows that carry an output to succeeded.
func (r *Recovery) repairDrift(ctx context.Context, userID *uuid.UUID, report *RecoveryReport) {
	for _, t := range r.handlers.Types() {
		repaired, err := r.store.RepairDrift(ctx, t, userID)
		if err != nil {
			r.log.Error("drift repair failed", "type", t, "error", err)
			report.Failed++
			continue
		}
		for _, job := range repaired {
			r.log.Warn("repaired status drift", "job_id", job.ID, "type", job.Type)
			r.finish(ctx, job, "drift_repair")
		}
		report.Repaired += len(repaired)
	}
}

// syncCompleted refills the user's completed cache from every succeeded
// job in the store. Entries are keyed by job id and never duplicated.
func (r *Recovery) syncCompleted(ctx context.Context, userID uuid.UUID) int {
	if r.completed == nil {
		return 0
	}
	var all []model.UnifiedJob
	for _, t := range model.JobTypes() {
		jobs, err := r.store.ListJobs(ctx, t, store.JobFilter{
			UserID:   &userID,
			Statuses: []model.Status{model.StatusSucceeded},
		})
		if err != nil {
			// A partial list must never mark the cache filled.
			r.log.Warn("completed sync list failed", "type", t, "error", err)
			return 0
		}
		for _, job := range jobs {
			all = append(all, job.Unified())
		}
	}
	added, err := r.completed.Fill(ctx, userID, all)
	if err != nil {
		r.log.Warn("completed cache fill failed", "user_id", userID, "error", err)
		return 0
	}
	return added
}
