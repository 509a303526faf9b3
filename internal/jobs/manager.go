package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"dubhub/internal/cache"
	"dubhub/internal/credits"
	"dubhub/internal/metrics"
	"dubhub/internal/model"
	"dubhub/internal/notify"
	"dubhub/internal/store"
)

// ErrJobFinished is returned when cancelling a job that already reached
// succeeded or failed.
var ErrJobFinished = errors.New("job already finished")

// Store is the job persistence used by this package. *store.Store
// implements it.
type Store interface {
	CreateJob(ctx context.Context, job model.Job) (model.Job, error)
	GetJob(ctx context.Context, t model.JobType, id uuid.UUID) (model.Job, error)
	FindJob(ctx context.Context, id uuid.UUID) (model.Job, error)
	ApplyStatus(ctx context.Context, t model.JobType, id uuid.UUID, update model.StatusUpdate) (model.Job, bool, error)
	ListJobs(ctx context.Context, t model.JobType, f store.JobFilter) ([]model.Job, error)
	RepairDrift(ctx context.Context, t model.JobType, userID *uuid.UUID) ([]model.Job, error)
	DeleteExpiredJobs(ctx context.Context, t model.JobType, status model.Status, cutoff time.Time) (int64, error)
}

// Spender is the slice of the credit ledger the manager needs.
type Spender interface {
	Spend(ctx context.Context, req credits.SpendRequest) (model.CreditTransaction, error)
	Refund(ctx context.Context, userID, jobID uuid.UUID, amount int64, reason string) (model.CreditTransaction, bool, error)
}

// ProgressFunc receives the coarse progress estimate and current status.
type ProgressFunc func(progress int, status model.Status)

// Options tunes polling.
type Options struct {
	PollInterval    time.Duration
	MaxPollFailures int
}

// ActiveJob describes a job this process is polling.
type ActiveJob struct {
	ID          uuid.UUID     `json:"id"`
	Type        model.JobType `json:"type"`
	UserID      uuid.UUID     `json:"userId"`
	StartedAt   time.Time     `json:"startedAt"`
	Subscribers int           `json:"subscribers"`
}

type tracked struct {
	job         model.Job
	started     time.Time
	cancel      context.CancelFunc
	subscribers []ProgressFunc
	done        chan struct{}
}

// Manager creates jobs, polls their vendors until terminal and broadcasts
// progress to subscribers.
type Manager struct {
	store    Store
	handlers *Registry
	ledger   Spender
	finisher
	opts Options

	mu   sync.Mutex
	jobs map[uuid.UUID]*tracked

	root context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

func NewManager(st Store, handlers *Registry, ledger Spender, notifier notify.Notifier, completed cache.CompletedJobs, log *slog.Logger, opts Options) *Manager {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxPollFailures <= 0 {
		opts.MaxPollFailures = 3
	}
	if log == nil {
		log = slog.Default()
	}
	root, stop := context.WithCancel(context.Background())
	return &Manager{
		store:    st,
		handlers: handlers,
		ledger:   ledger,
		finisher: finisher{notifier: notifier, completed: completed, log: log},
		opts:     opts,
		jobs:     make(map[uuid.UUID]*tracked),
		root:     root,
		stop:     stop,
	}
}

func newJobID() uuid.UUID {
	if id, err := uuid.NewV7(); err == nil {
		return id
	}
	return uuid.New()
}

// StartJob validates, charges, submits and persists a job, then starts
// polling it. The id is returned as soon as the row exists.
func (m *Manager) StartJob(ctx context.Context, t model.JobType, data JobData, onProgress ProgressFunc) (uuid.UUID, error) {
	h, err := m.handlers.Get(t)
	if err != nil {
		return uuid.Nil, err
	}
	if err := h.Validate(data); err != nil {
		return uuid.Nil, err
	}
	metadata, err := h.Metadata(data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidJobData, err)
	}

	cost, err := h.Cost(data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidJobData, err)
	}
	if cost <= 0 {
		// Every job type is paid.
		return uuid.Nil, fmt.Errorf("%w: computed cost %d", ErrInvalidJobData, cost)
	}

	id := newJobID()
	if _, err := m.ledger.Spend(ctx, credits.SpendRequest{
		UserID:      data.UserID,
		Amount:      cost,
		ServiceType: string(t),
		JobID:       &id,
		Description: string(t) + " job",
	}); err != nil {
		return uuid.Nil, err
	}

	vendorID := data.VendorJobID
	if vendorID == "" {
		vendorID, err = h.Submit(ctx, data)
		if err != nil {
			m.refund(data.UserID, id, cost, "vendor submit failed")
			return uuid.Nil, fmt.Errorf("submit %s job: %w", t, err)
		}
	}

	job, err := m.store.CreateJob(ctx, model.Job{
		ID:          id,
		Type:        t,
		UserID:      data.UserID,
		Status:      model.StatusStarting,
		VendorJobID: vendorID,
		Metadata:    metadata,
		CostCredits: cost,
	})
	if err != nil {
		m.refund(data.UserID, id, cost, "job record could not be created")
		if c, ok := h.(Canceler); ok && data.VendorJobID == "" {
			if cerr := c.CancelVendor(context.Background(), vendorID); cerr != nil {
				m.log.Warn("vendor cancel after failed insert", "vendor_job_id", vendorID, "error", cerr)
			}
		}
		return uuid.Nil, fmt.Errorf("create %s job: %w", t, err)
	}

	metrics.RecordJobStarted(string(t))
	m.log.Info("job started", "job_id", id, "type", t, "user_id", data.UserID, "vendor_job_id", vendorID, "cost", cost)
	m.track(job, onProgress)
	return id, nil
}

func (m *Manager) refund(userID, jobID uuid.UUID, amount int64, reason string) {
	if amount <= 0 {
		return
	}
	// The request context may already be gone; the refund must still land.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, _, err := m.ledger.Refund(ctx, userID, jobID, amount, reason); err != nil {
		m.log.Error("refund failed", "user_id", userID, "job_id", jobID, "amount", amount, "error", err)
	}
}

func (m *Manager) track(job model.Job, onProgress ProgressFunc) {
	ctx, cancel := context.WithCancel(m.root)
	tr := &tracked{job: job, started: time.Now().UTC(), cancel: cancel, done: make(chan struct{})}
	if onProgress != nil {
		tr.subscribers = append(tr.subscribers, onProgress)
	}

	m.mu.Lock()
	m.jobs[job.ID] = tr
	metrics.SetTrackedJobs(len(m.jobs))
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.untrack(tr)
		m.poll(ctx, tr)
	}()
}

func (m *Manager) untrack(tr *tracked) {
	tr.cancel()
	m.mu.Lock()
	if m.jobs[tr.job.ID] == tr {
		delete(m.jobs, tr.job.ID)
	}
	tr.subscribers = nil
	metrics.SetTrackedJobs(len(m.jobs))
	m.mu.Unlock()
	close(tr.done)
}

func (m *Manager) poll(ctx context.Context, tr *tracked) {
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if m.tick(ctx, tr, &failures) {
			return
		}
	}
}

// tick performs one poll. It returns true when polling should stop.
func (m *Manager) tick(ctx context.Context, tr *tracked, failures *int) bool {
	job := tr.job
	h, err := m.handlers.Get(job.Type)
	if err != nil {
		m.log.Error("no handler for tracked job", "job_id", job.ID, "type", job.Type)
		return true
	}

	current, changed, err := m.refresh(ctx, h, job)
	if err == nil && changed && current.Status.IsTerminal() {
		// This tick performed the transition, so it owns the side effects
		// even if a cancel arrived meanwhile.
		m.broadcast(tr, current.Status)
		m.finish(context.WithoutCancel(ctx), current, "poller")
		return true
	}
	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		*failures++
		metrics.RecordPollFailure(string(job.Type))
		m.log.Warn("job poll failed", "job_id", job.ID, "type", job.Type, "attempt", *failures, "error", err)
		if *failures < m.opts.MaxPollFailures {
			return false
		}
		m.park(ctx, tr)
		return true
	}
	*failures = 0

	m.broadcast(tr, current.Status)
	return current.Status.IsTerminal()
}

// refresh fetches the vendor status, applies it and returns the current row.
func (m *Manager) refresh(ctx context.Context, h Handler, job model.Job) (model.Job, bool, error) {
	res, err := h.FetchStatus(ctx, job.VendorJobID)
	if err != nil {
		return model.Job{}, false, err
	}
	if ctx.Err() != nil {
		return model.Job{}, false, ctx.Err()
	}

	update, ok := updateFromResult(res)
	if !ok {
		if res.Status == model.StatusSucceeded {
			m.log.Warn("vendor reported success without output", "job_id", job.ID, "vendor_job_id", job.VendorJobID)
		}
		current, err := m.store.GetJob(ctx, job.Type, job.ID)
		return current, false, err
	}
	return m.store.ApplyStatus(ctx, job.Type, job.ID, update)
}

// park writes the stale status after repeated poll failures so the
// recovery pass takes over.
func (m *Manager) park(ctx context.Context, tr *tracked) {
	job, changed, err := m.store.ApplyStatus(ctx, tr.job.Type, tr.job.ID, model.StatusUpdate{Status: model.StatusStale})
	if err != nil {
		m.log.Error("mark job stale failed", "job_id", tr.job.ID, "error", err)
		return
	}
	if changed {
		metrics.RecordJobStale(string(tr.job.Type))
		m.log.Warn("job parked as stale", "job_id", tr.job.ID, "type", tr.job.Type, "failures", m.opts.MaxPollFailures)
	}
	m.broadcast(tr, job.Status)
}

func (m *Manager) broadcast(tr *tracked, status model.Status) {
	m.mu.Lock()
	subs := append([]ProgressFunc(nil), tr.subscribers...)
	m.mu.Unlock()

	progress := model.Progress(status)
	for _, fn := range subs {
		fn(progress, status)
	}
}

// Subscribe attaches a progress callback to a polled job. It returns false
// when the job is not being polled by this process.
func (m *Manager) Subscribe(jobID uuid.UUID, fn ProgressFunc) bool {
	if fn == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.jobs[jobID]
	if !ok {
		return false
	}
	tr.subscribers = append(tr.subscribers, fn)
	return true
}

// CancelJob stops local polling, writes cancelled when the job is not yet
// terminal and asks the vendor to stop when it supports that.
func (m *Manager) CancelJob(ctx context.Context, jobID uuid.UUID) (model.Job, error) {
	m.mu.Lock()
	tr, ok := m.jobs[jobID]
	if ok {
		tr.cancel()
		tr.subscribers = nil
		delete(m.jobs, jobID)
		metrics.SetTrackedJobs(len(m.jobs))
	}
	m.mu.Unlock()

	var (
		job model.Job
		err error
	)
	if ok {
		job = tr.job
	} else {
		job, err = m.store.FindJob(ctx, jobID)
		if err != nil {
			return model.Job{}, err
		}
	}

	current, changed, err := m.store.ApplyStatus(ctx, job.Type, jobID, model.StatusUpdate{Status: model.StatusCancelled})
	if err != nil {
		return model.Job{}, fmt.Errorf("cancel job: %w", err)
	}
	if !changed {
		if current.Status == model.StatusCancelled {
			return current, nil
		}
		if current.Status.IsTerminal() {
			return current, ErrJobFinished
		}
		return current, fmt.Errorf("cancel job: status %s was not updated", current.Status)
	}

	metrics.RecordJobTerminal(string(current.Type), string(current.Status), "cancel")
	m.log.Info("job cancelled", "job_id", jobID, "type", current.Type)
	if m.completed != nil {
		if err := m.completed.Remove(ctx, current.UserID, jobID); err != nil {
			m.log.Warn("completed cache remove failed", "job_id", jobID, "error", err)
		}
	}

	if h, err := m.handlers.Get(current.Type); err == nil && current.VendorJobID != "" {
		if c, ok := h.(Canceler); ok {
			if err := c.CancelVendor(ctx, current.VendorJobID); err != nil {
				m.log.Warn("vendor cancel failed", "job_id", jobID, "vendor_job_id", current.VendorJobID, "error", err)
			}
		}
	}
	return current, nil
}

// Active returns a snapshot of the jobs polled by this process.
func (m *Manager) Active() []ActiveJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ActiveJob, 0, len(m.jobs))
	for id, tr := range m.jobs {
		out = append(out, ActiveJob{
			ID:          id,
			Type:        tr.job.Type,
			UserID:      tr.job.UserID,
			StartedAt:   tr.started,
			Subscribers: len(tr.subscribers),
		})
	}
	return out
}

// Done returns a channel closed when polling for the job ends. Jobs that
// are not being polled return an already closed channel.
func (m *Manager) Done(jobID uuid.UUID) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tr, ok := m.jobs[jobID]; ok {
		return tr.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Shutdown stops every poller and waits for them to exit.
func (m *Manager) Shutdown() {
	m.stop()
	m.wg.Wait()
}
