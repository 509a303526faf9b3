package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dubhub/internal/credits"
	"dubhub/internal/model"
	"dubhub/internal/notify"
	"dubhub/internal/store"
	"dubhub/internal/vendors"
)

// memStore mirrors the conditional UPDATE semantics of store.Store.
type memStore struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]model.Job
	writes int
	fail   error
}

func newMemStore(jobs ...model.Job) *memStore {
	s := &memStore{jobs: make(map[uuid.UUID]model.Job)}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *memStore) get(id uuid.UUID) model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *memStore) CreateJob(_ context.Context, job model.Job) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return model.Job{}, s.fail
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	s.jobs[job.ID] = job
	s.writes++
	return job, nil
}

func (s *memStore) GetJob(_ context.Context, t model.JobType, id uuid.UUID) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Type != t {
		return model.Job{}, model.ErrJobNotFound
	}
	return j, nil
}

func (s *memStore) FindJob(_ context.Context, id uuid.UUID) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return model.Job{}, model.ErrJobNotFound
	}
	return j, nil
}

func (s *memStore) ApplyStatus(_ context.Context, t model.JobType, id uuid.UUID, update model.StatusUpdate) (model.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Type != t {
		return model.Job{}, false, model.ErrJobNotFound
	}
	update = update.Normalized()
	if !model.CanTransition(j.Status, update.Status) {
		return j, false, nil
	}
	if j.Status == update.Status && j.OutputURL == update.OutputURL && j.Error == update.Error {
		return j, false, nil
	}
	j.Status, j.OutputURL, j.Error = update.Status, update.OutputURL, update.Error
	j.UpdatedAt = time.Now().UTC()
	s.jobs[id] = j
	s.writes++
	return j, true, nil
}

func (s *memStore) ListJobs(_ context.Context, t model.JobType, f store.JobFilter) ([]model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Job
	for _, j := range s.jobs {
		if j.Type != t {
			continue
		}
		if f.UserID != nil && j.UserID != *f.UserID {
			continue
		}
		if f.RequireVendorID && j.VendorJobID == "" {
			continue
		}
		if len(f.Statuses) > 0 {
			match := false
			for _, st := range f.Statuses {
				if st == j.Status {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (s *memStore) RepairDrift(_ context.Context, t model.JobType, userID *uuid.UUID) ([]model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Job
	for id, j := range s.jobs {
		if j.Type != t || j.OutputURL == "" || j.Status == model.StatusSucceeded {
			continue
		}
		if userID != nil && j.UserID != *userID {
			continue
		}
		j.Status, j.Error = model.StatusSucceeded, ""
		s.jobs[id] = j
		s.writes++
		out = append(out, j)
	}
	return out, nil
}

func (s *memStore) DeleteExpiredJobs(_ context.Context, t model.JobType, status model.Status, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if j.Type == t && j.Status == status && j.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// fakeProvider replays scripted vendor results; the last one repeats.
type fakeProvider struct {
	mu        sync.Mutex
	results   []vendors.Result
	fetchErr  error
	submitErr error
	fetches   int
	submitted []vendors.Submission
	cancelled []string
}

func (p *fakeProvider) Submit(_ context.Context, sub vendors.Submission) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submitErr != nil {
		return "", p.submitErr
	}
	p.submitted = append(p.submitted, sub)
	return "vendor-" + uuid.NewString(), nil
}

func (p *fakeProvider) Fetch(_ context.Context, id string) (vendors.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches++
	if p.fetchErr != nil {
		return vendors.Result{}, p.fetchErr
	}
	if len(p.results) == 0 {
		return vendors.Result{Status: model.StatusProcessing}, nil
	}
	res := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	return res, nil
}

func (p *fakeProvider) Cancel(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, id)
	return nil
}

func (p *fakeProvider) fetchCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches
}

// fakeSpender records spends and refunds against an in-memory balance.
type fakeSpender struct {
	mu      sync.Mutex
	balance int64
	spent   []credits.SpendRequest
	refunds int64
}

func (f *fakeSpender) Spend(_ context.Context, req credits.SpendRequest) (model.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance < req.Amount {
		return model.CreditTransaction{}, &model.InsufficientCreditsError{Balance: f.balance, Required: req.Amount}
	}
	f.balance -= req.Amount
	f.spent = append(f.spent, req)
	return model.CreditTransaction{Amount: -req.Amount, BalanceAfter: f.balance}, nil
}

func (f *fakeSpender) Refund(_ context.Context, _, _ uuid.UUID, amount int64, _ string) (model.CreditTransaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance += amount
	f.refunds += amount
	return model.CreditTransaction{Amount: amount}, true, nil
}

// recorder collects notifications.
type recorder struct {
	mu    sync.Mutex
	items []notify.Notification
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

var errVendorDown = errors.New("vendor unavailable")
