package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dubhub/internal/model"
)

// CompletedJobs is a per-user read-through cache of server-confirmed
// succeeded jobs, keyed by job id so an entry is never duplicated. A user's
// cache is either cold or filled from the store as a whole; single
// additions only land in a filled cache.
type CompletedJobs interface {
	// Fill stores the user's complete list of succeeded jobs and marks the
	// cache filled. It reports how many entries were new.
	Fill(ctx context.Context, userID uuid.UUID, jobs []model.UnifiedJob) (int, error)
	// Add stores the job when the user's cache is filled and the job is not
	// cached yet, and reports whether it was stored.
	Add(ctx context.Context, job model.UnifiedJob, userID uuid.UUID) (bool, error)
	// List returns the cached jobs newest first and whether the cache is
	// filled. A cold cache returns false.
	List(ctx context.Context, userID uuid.UUID) ([]model.UnifiedJob, bool, error)
	// Remove drops a single job from the cache.
	Remove(ctx context.Context, userID, jobID uuid.UUID) error
	// Invalidate drops the user's whole cache.
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

func sortNewestFirst(jobs []model.UnifiedJob) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID.String() > jobs[j].ID.String()
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
}

// filledField marks a user's hash as filled from the store. Job ids are
// UUIDs, so it never collides with an entry.
const filledField = "_filled"

// addIfFilled writes a job only into a hash that carries the filled marker.
var addIfFilled = redis.NewScript(`
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 0 then
  return 0
end
return redis.call("HSETNX", KEYS[1], ARGV[2], ARGV[3])
`)

// Redis stores each user's completed jobs in one hash: field = job id,
// value = JSON. HSETNX keeps additions idempotent.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "dubhub:completed"
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(userID uuid.UUID) string {
	return r.prefix + ":" + userID.String()
}

func (r *Redis) Fill(ctx context.Context, userID uuid.UUID, jobs []model.UnifiedJob) (int, error) {
	key := r.key(userID)
	cmds := make([]*redis.BoolCmd, 0, len(jobs))
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, job := range jobs {
			payload, err := json.Marshal(job)
			if err != nil {
				return fmt.Errorf("encode job: %w", err)
			}
			cmds = append(cmds, pipe.HSetNX(ctx, key, job.ID.String(), payload))
		}
		pipe.HSet(ctx, key, filledField, "1")
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	added := 0
	for _, cmd := range cmds {
		if cmd.Val() {
			added++
		}
	}
	return added, nil
}

func (r *Redis) Add(ctx context.Context, job model.UnifiedJob, userID uuid.UUID) (bool, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return false, fmt.Errorf("encode job: %w", err)
	}
	added, err := addIfFilled.Run(ctx, r.client, []string{r.key(userID)}, filledField, job.ID.String(), payload).Int()
	if err != nil {
		return false, err
	}
	return added == 1, nil
}

func (r *Redis) List(ctx context.Context, userID uuid.UUID) ([]model.UnifiedJob, bool, error) {
	values, err := r.client.HGetAll(ctx, r.key(userID)).Result()
	if err != nil {
		return nil, false, err
	}
	if _, filled := values[filledField]; !filled {
		return nil, false, nil
	}
	out := make([]model.UnifiedJob, 0, len(values)-1)
	for field, raw := range values {
		if field == filledField {
			continue
		}
		var job model.UnifiedJob
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			return nil, false, fmt.Errorf("decode cached job: %w", err)
		}
		out = append(out, job)
	}
	sortNewestFirst(out)
	return out, true, nil
}

func (r *Redis) Remove(ctx context.Context, userID, jobID uuid.UUID) error {
	return r.client.HDel(ctx, r.key(userID), jobID.String()).Err()
}

func (r *Redis) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return r.client.Del(ctx, r.key(userID)).Err()
}

// Memory is an in-process CompletedJobs used when Redis is not configured.
// A user present in the map is filled.
type Memory struct {
	mu    sync.RWMutex
	users map[uuid.UUID]map[uuid.UUID]model.UnifiedJob
}

func NewMemory() *Memory {
	return &Memory{users: make(map[uuid.UUID]map[uuid.UUID]model.UnifiedJob)}
}

func (m *Memory) Fill(_ context.Context, userID uuid.UUID, jobs []model.UnifiedJob) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cached, ok := m.users[userID]
	if !ok {
		cached = make(map[uuid.UUID]model.UnifiedJob, len(jobs))
		m.users[userID] = cached
	}
	added := 0
	for _, job := range jobs {
		if _, exists := cached[job.ID]; exists {
			continue
		}
		cached[job.ID] = job
		added++
	}
	return added, nil
}

func (m *Memory) Add(_ context.Context, job model.UnifiedJob, userID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs, ok := m.users[userID]
	if !ok {
		return false, nil
	}
	if _, exists := jobs[job.ID]; exists {
		return false, nil
	}
	jobs[job.ID] = job
	return true, nil
}

func (m *Memory) List(_ context.Context, userID uuid.UUID) ([]model.UnifiedJob, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs, ok := m.users[userID]
	if !ok {
		return nil, false, nil
	}
	out := make([]model.UnifiedJob, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j)
	}
	sortNewestFirst(out)
	return out, true, nil
}

func (m *Memory) Remove(_ context.Context, userID, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if jobs, ok := m.users[userID]; ok {
		delete(jobs, jobID)
	}
	return nil
}

func (m *Memory) Invalidate(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, userID)
	return nil
}
