package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"dubhub/internal/model"
)

func TestMemoryAddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	user := uuid.New()
	job := model.UnifiedJob{ID: uuid.New(), Type: model.JobTypeSubtitles, Status: model.StatusSucceeded, CreatedAt: time.Now()}

	if _, err := c.Fill(ctx, user, nil); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	added, err := c.Add(ctx, job, user)
	if err != nil || !added {
		t.Fatalf("first Add = %v, %v", added, err)
	}
	added, err = c.Add(ctx, job, user)
	if err != nil || added {
		t.Fatalf("second Add should be a no-op, got %v, %v", added, err)
	}

	jobs, ok, err := c.List(ctx, user)
	if err != nil || !ok || len(jobs) != 1 {
		t.Fatalf("List = %d jobs, ok=%v, err=%v", len(jobs), ok, err)
	}
}

func TestMemoryAddToColdCacheIsDropped(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	user := uuid.New()

	added, err := c.Add(ctx, model.UnifiedJob{ID: uuid.New()}, user)
	if err != nil || added {
		t.Fatalf("Add on a cold cache = %v, %v", added, err)
	}
	if _, ok, _ := c.List(ctx, user); ok {
		t.Fatalf("a single Add must not make the cache look filled")
	}

	// An empty fill is still a fill.
	if n, _ := c.Fill(ctx, user, nil); n != 0 {
		t.Fatalf("empty Fill added %d", n)
	}
	if jobs, ok, _ := c.List(ctx, user); !ok || len(jobs) != 0 {
		t.Fatalf("expected filled empty cache, got %v %v", jobs, ok)
	}
}

func TestMemoryFillCountsNewEntries(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	user := uuid.New()
	a := model.UnifiedJob{ID: uuid.New(), CreatedAt: time.Now()}
	b := model.UnifiedJob{ID: uuid.New(), CreatedAt: time.Now()}

	if n, _ := c.Fill(ctx, user, []model.UnifiedJob{a}); n != 1 {
		t.Fatalf("first Fill added %d, want 1", n)
	}
	if n, _ := c.Fill(ctx, user, []model.UnifiedJob{a, b}); n != 1 {
		t.Fatalf("second Fill added %d, want 1", n)
	}
}

func TestMemoryListNewestFirstAndInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemory()
	user := uuid.New()
	base := time.Now()
	older := model.UnifiedJob{ID: uuid.New(), CreatedAt: base.Add(-time.Hour)}
	newer := model.UnifiedJob{ID: uuid.New(), CreatedAt: base}
	_, _ = c.Fill(ctx, user, []model.UnifiedJob{older, newer})

	jobs, _, _ := c.List(ctx, user)
	if len(jobs) != 2 || jobs[0].ID != newer.ID {
		t.Fatalf("expected newest first, got %+v", jobs)
	}

	if err := c.Remove(ctx, user, newer.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	jobs, _, _ = c.List(ctx, user)
	if len(jobs) != 1 || jobs[0].ID != older.ID {
		t.Fatalf("unexpected jobs after Remove: %+v", jobs)
	}

	if err := c.Invalidate(ctx, user); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok, _ := c.List(ctx, user); ok {
		t.Fatalf("cache should be cold after Invalidate")
	}
}
