package jobs

import (
	"context"
	"time"

	"dubhub/internal/config"
	"dubhub/internal/metrics"
	"dubhub/internal/model"
)

// RetentionStats captures the number of records deleted by TTL cleanup.
type RetentionStats struct {
	JobsDeleted map[string]int64 `json:"jobsDeleted"`
}

// CleanupExpiredData deletes cancelled jobs older than their configured
// TTL. Other statuses are never purged.
func CleanupExpiredData(ctx context.Context, cfg *config.Config, st Store) RetentionStats {
	now := time.Now().UTC()
	stats := RetentionStats{JobsDeleted: make(map[string]int64)}
	ttl := cfg.Retention.CancelledJobs

	// Helper to compute effective TTL for each known job type.
	effectiveDays := func(specific int) int {
		if specific > 0 {
			return specific
		}
		return ttl.DefaultDays
	}

	apply := func(t model.JobType, days int) {
		if days <= 0 {
			return
		}
		cutoff := now.AddDate(0, 0, -days)
		if n, err := st.DeleteExpiredJobs(ctx, t, model.StatusCancelled, cutoff); err == nil && n > 0 {
			stats.JobsDeleted[string(t)] += n
			metrics.RecordRetentionJobs(string(t), n)
		}
	}

	apply(model.JobTypeDubbing, effectiveDays(ttl.DubbingDays))
	apply(model.JobTypeSubtitles, effectiveDays(ttl.SubtitlesDays))
	apply(model.JobTypeVideoGeneration, effectiveDays(ttl.VideoGenerationDays))

	return stats
}
