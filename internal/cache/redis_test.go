package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dubhub/internal/model"
)

func newRedisCache(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, "test:completed", ttl), mr
}

func TestRedisAddRequiresFilledHash(t *testing.T) {
	ctx := context.Background()
	c, mr := newRedisCache(t, time.Minute)
	user := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)
	older := model.UnifiedJob{ID: uuid.New(), Type: model.JobTypeDubbing, Status: model.StatusSucceeded, CreatedAt: now.Add(-time.Hour)}
	newer := model.UnifiedJob{ID: uuid.New(), Type: model.JobTypeSubtitles, Status: model.StatusSucceeded, CreatedAt: now}

	added, err := c.Add(ctx, newer, user)
	if err != nil || added {
		t.Fatalf("Add on cold cache = %v, %v", added, err)
	}
	if _, ok, err := c.List(ctx, user); err != nil || ok {
		t.Fatalf("cold cache must not report filled, ok=%v err=%v", ok, err)
	}

	n, err := c.Fill(ctx, user, []model.UnifiedJob{older})
	if err != nil || n != 1 {
		t.Fatalf("Fill = %d, %v", n, err)
	}
	if added, err := c.Add(ctx, newer, user); err != nil || !added {
		t.Fatalf("Add on filled cache = %v, %v", added, err)
	}
	if added, err := c.Add(ctx, newer, user); err != nil || added {
		t.Fatalf("repeated Add = %v, %v", added, err)
	}

	jobs, ok, err := c.List(ctx, user)
	if err != nil || !ok || len(jobs) != 2 {
		t.Fatalf("List = %d jobs, ok=%v, err=%v", len(jobs), ok, err)
	}
	if jobs[0].ID != newer.ID || jobs[1].ID != older.ID {
		t.Fatalf("expected newest first, got %v then %v", jobs[0].ID, jobs[1].ID)
	}

	// The hash expires as a whole, marker included.
	mr.FastForward(2 * time.Minute)
	if _, ok, err := c.List(ctx, user); err != nil || ok {
		t.Fatalf("expired cache must be cold, ok=%v err=%v", ok, err)
	}
	if added, err := c.Add(ctx, older, user); err != nil || added {
		t.Fatalf("Add after expiry = %v, %v", added, err)
	}
}

func TestRedisFillIsIdempotentAndRemove(t *testing.T) {
	ctx := context.Background()
	c, _ := newRedisCache(t, 0)
	user := uuid.New()
	job := model.UnifiedJob{ID: uuid.New(), Type: model.JobTypeVideoGeneration, Status: model.StatusSucceeded, CreatedAt: time.Now().UTC()}

	if n, err := c.Fill(ctx, user, []model.UnifiedJob{job}); err != nil || n != 1 {
		t.Fatalf("first Fill = %d, %v", n, err)
	}
	if n, err := c.Fill(ctx, user, []model.UnifiedJob{job}); err != nil || n != 0 {
		t.Fatalf("second Fill = %d, %v", n, err)
	}
	if err := c.Remove(ctx, user, job.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	jobs, ok, err := c.List(ctx, user)
	if err != nil || !ok || len(jobs) != 0 {
		t.Fatalf("after Remove: %d jobs, ok=%v, err=%v", len(jobs), ok, err)
	}
	if err := c.Invalidate(ctx, user); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok, _ := c.List(ctx, user); ok {
		t.Fatalf("invalidated cache must be cold")
	}
}
