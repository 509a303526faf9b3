package http

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"dubhub/internal/billing"
	"dubhub/internal/config"
	"dubhub/internal/credits"
	"dubhub/internal/jobs"
	"dubhub/internal/model"
	"dubhub/internal/notify"
	"dubhub/internal/store"
)

// fakeJobs is an in-memory JobService and JobReader.
type fakeJobs struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]model.Job
	startFn func(t model.JobType, data jobs.JobData) error
}

func newFakeJobs(js ...model.Job) *fakeJobs {
	f := &fakeJobs{jobs: map[uuid.UUID]model.Job{}}
	for _, j := range js {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *fakeJobs) StartJob(_ context.Context, t model.JobType, data jobs.JobData, _ jobs.ProgressFunc) (uuid.UUID, error) {
	if f.startFn != nil {
		if err := f.startFn(t, data); err != nil {
			return uuid.Nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.jobs[id] = model.Job{ID: id, Type: t, UserID: data.UserID, Status: model.StatusStarting, CreatedAt: time.Now()}
	return id, nil
}

func (f *fakeJobs) CancelJob(_ context.Context, id uuid.UUID) (model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return model.Job{}, model.ErrJobNotFound
	}
	if j.Status == model.StatusCancelled {
		return j, nil
	}
	if j.Status.IsTerminal() {
		return j, jobs.ErrJobFinished
	}
	j.Status = model.StatusCancelled
	f.jobs[id] = j
	return j, nil
}

func (f *fakeJobs) Active() []jobs.ActiveJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []jobs.ActiveJob
	for _, j := range f.jobs {
		if !j.Status.IsTerminal() {
			out = append(out, jobs.ActiveJob{ID: j.ID, Type: j.Type, UserID: j.UserID})
		}
	}
	return out
}

func (f *fakeJobs) List(_ context.Context, userID uuid.UUID, statuses ...model.Status) ([]model.UnifiedJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.UnifiedJob
	for _, j := range f.jobs {
		if j.UserID != userID {
			continue
		}
		if len(statuses) > 0 {
			match := false
			for _, s := range statuses {
				match = match || j.Status == s
			}
			if !match {
				continue
			}
		}
		out = append(out, j.Unified())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (f *fakeJobs) Find(_ context.Context, userID, jobID uuid.UUID) (model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok || j.UserID != userID {
		return model.Job{}, model.ErrJobNotFound
	}
	return j, nil
}

func (f *fakeJobs) Completed(ctx context.Context, userID uuid.UUID) ([]model.UnifiedJob, error) {
	return f.List(ctx, userID, model.StatusSucceeded)
}

type fakeRecovery struct {
	calls []*uuid.UUID
}

func (f *fakeRecovery) Run(_ context.Context, userID *uuid.UUID) jobs.RecoveryReport {
	f.calls = append(f.calls, userID)
	return jobs.RecoveryReport{Checked: 2, Updated: 1}
}

type fakeCredits struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int64
	refs     map[string]bool
	txs      []model.CreditTransaction
}

func newFakeCredits() *fakeCredits {
	return &fakeCredits{balances: map[uuid.UUID]int64{}, refs: map[string]bool{}}
}

func (f *fakeCredits) Balance(_ context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID], nil
}

func (f *fakeCredits) Transactions(_ context.Context, userID uuid.UUID, limit, offset int) ([]model.CreditTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.CreditTransaction
	for _, tx := range f.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeCredits) Credit(_ context.Context, req credits.CreditRequest) (model.CreditTransaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.Reference != "" && f.refs[req.Reference] {
		return model.CreditTransaction{}, false, nil
	}
	f.refs[req.Reference] = true
	f.balances[req.UserID] += req.Amount
	tx := model.CreditTransaction{ID: uuid.New(), UserID: req.UserID, Amount: req.Amount, Type: req.Type, Reference: req.Reference, BalanceAfter: f.balances[req.UserID]}
	f.txs = append(f.txs, tx)
	return tx, true, nil
}

type fakeBilling struct {
	webhookErr error
	confirmErr error
	payloads   [][]byte
}

func (f *fakeBilling) Packages() []config.CreditPackage {
	return []config.CreditPackage{{ID: "starter", Name: "Starter", Credits: 100, PriceID: "price_secret", Mode: "payment"}}
}

func (f *fakeBilling) CreateCheckout(_ context.Context, _ uuid.UUID, packageID string) (billing.Checkout, error) {
	if packageID != "starter" {
		return billing.Checkout{}, billing.ErrUnknownPackage
	}
	return billing.Checkout{SessionID: "cs_1", URL: "https://checkout.stripe.test/cs_1"}, nil
}

func (f *fakeBilling) Confirm(_ context.Context, _ uuid.UUID, sessionID string) (billing.Fulfillment, error) {
	if f.confirmErr != nil {
		return billing.Fulfillment{}, f.confirmErr
	}
	return billing.Fulfillment{SessionID: sessionID, Credits: 100, Applied: true, BalanceAfter: 100}, nil
}

func (f *fakeBilling) HandleWebhook(_ context.Context, payload []byte, _ string) error {
	f.payloads = append(f.payloads, payload)
	return f.webhookErr
}

type fakeKeys struct {
	keys map[string]store.APIKey
}

func (f *fakeKeys) GetAPIKeyByRawKey(_ context.Context, raw string) (store.APIKey, error) {
	k, ok := f.keys[raw]
	if !ok {
		return store.APIKey{}, sql.ErrNoRows
	}
	return k, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

var errBackendDown = errors.New("backend down")

type testEnv struct {
	jobs     *fakeJobs
	recovery *fakeRecovery
	credits  *fakeCredits
	billing  *fakeBilling
	bus      *notify.EventBus
	server   *Server
}

// newTestEnv builds a server with auth disabled; callers identify as a user
// through X-User-Id.
func newTestEnv(t *testing.T, js ...model.Job) *testEnv {
	t.Helper()
	env := &testEnv{
		jobs:     newFakeJobs(js...),
		recovery: &fakeRecovery{},
		credits:  newFakeCredits(),
		billing:  &fakeBilling{},
		bus:      notify.NewEventBus(16),
	}
	cfg := &config.Config{}
	env.server = NewServer(cfg, Deps{
		Jobs:          env.jobs,
		Reader:        env.jobs,
		Recovery:      env.recovery,
		Credits:       env.credits,
		Billing:       env.billing,
		Notifications: env.bus,
		DB:            fakePinger{},
	}, nil)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, userID *uuid.UUID, body any) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != nil {
		req.Header.Set("X-User-Id", userID.String())
	}
	resp, err := e.server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp, out
}
