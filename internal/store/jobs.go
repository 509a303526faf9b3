package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"dubhub/internal/model"
)

// jobTables maps each job type to its table. All three tables share the
// same column layout (see db/migrations).
var jobTables = map[model.JobType]string{
	model.JobTypeDubbing:         "dubbing_jobs",
	model.JobTypeSubtitles:       "subtitle_jobs",
	model.JobTypeVideoGeneration: "video_generation_jobs",
}

const jobColumns = "id, user_id, status, vendor_job_id, output_url, error, metadata, cost_credits, created_at, updated_at"

func tableFor(t model.JobType) (string, error) {
	table, ok := jobTables[t]
	if !ok {
		return "", fmt.Errorf("unknown job type %q", t)
	}
	return table, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(t model.JobType, row rowScanner) (model.Job, error) {
	var (
		j        model.Job
		status   string
		output   sql.NullString
		errMsg   sql.NullString
		metadata pqtype.NullRawMessage
	)
	if err := row.Scan(&j.ID, &j.UserID, &status, &j.VendorJobID, &output, &errMsg, &metadata, &j.CostCredits, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return model.Job{}, err
	}
	j.Type = t
	j.Status = model.Status(status)
	j.OutputURL = output.String
	j.Error = errMsg.String
	if metadata.Valid {
		j.Metadata = metadata.RawMessage
	}
	return j, nil
}

// CreateJob inserts a new job row. Status defaults to starting.
func (s *Store) CreateJob(ctx context.Context, job model.Job) (model.Job, error) {
	table, err := tableFor(job.Type)
	if err != nil {
		return model.Job{}, err
	}
	if job.ID == uuid.Nil {
		job.ID = newID()
	}
	if job.Status == "" {
		job.Status = model.StatusStarting
	}

	metadata := pqtype.NullRawMessage{}
	if len(job.Metadata) > 0 {
		metadata = pqtype.NullRawMessage{RawMessage: job.Metadata, Valid: true}
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, user_id, status, vendor_job_id, metadata, cost_credits)
VALUES ($1, $2, $3, $4, COALESCE($5, '{}'::jsonb), $6)
RETURNING %s`, table, jobColumns)

	row := s.DB.QueryRowContext(ctx, query, job.ID, job.UserID, string(job.Status), job.VendorJobID, metadata, job.CostCredits)
	return scanJob(job.Type, row)
}

// GetJob fetches a job by type and id.
func (s *Store) GetJob(ctx context.Context, t model.JobType, id uuid.UUID) (model.Job, error) {
	table, err := tableFor(t)
	if err != nil {
		return model.Job{}, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", jobColumns, table)
	job, err := scanJob(t, s.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, model.ErrJobNotFound
	}
	return job, err
}

// FindJob looks a job up by id across all job tables.
func (s *Store) FindJob(ctx context.Context, id uuid.UUID) (model.Job, error) {
	for _, t := range model.JobTypes() {
		job, err := s.GetJob(ctx, t, id)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, model.ErrJobNotFound) {
			return model.Job{}, err
		}
	}
	return model.Job{}, model.ErrJobNotFound
}

// ApplyStatus writes status and outcome in a single conditional UPDATE.
// The write only happens when the current status is an allowed predecessor
// of the new one and something actually changes; otherwise the current
// row is returned with changed=false.
func (s *Store) ApplyStatus(ctx context.Context, t model.JobType, id uuid.UUID, update model.StatusUpdate) (model.Job, bool, error) {
	table, err := tableFor(t)
	if err != nil {
		return model.Job{}, false, err
	}
	update = update.Normalized()

	query := fmt.Sprintf(`UPDATE %s
SET status = $2, output_url = $3, error = $4, updated_at = now()
WHERE id = $1
  AND status = ANY($5)
  AND (status <> $2 OR output_url IS DISTINCT FROM $3 OR error IS DISTINCT FROM $4)
RETURNING %s`, table, jobColumns)

	preds := model.StatusStrings(model.Predecessors(update.Status))
	row := s.DB.QueryRowContext(ctx, query, id, string(update.Status), nullString(update.OutputURL), nullString(update.Error), preds)
	job, err := scanJob(t, row)
	if err == nil {
		return job, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, false, err
	}

	current, err := s.GetJob(ctx, t, id)
	if err != nil {
		return model.Job{}, false, err
	}
	return current, false, nil
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	UserID          *uuid.UUID
	Statuses        []model.Status
	RequireVendorID bool
	OldestFirst     bool
	Limit           int32
}

// ListJobs returns jobs of one type matching the filter, newest first
// unless OldestFirst is set.
func (s *Store) ListJobs(ctx context.Context, t model.JobType, f JobFilter) ([]model.Job, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if f.UserID != nil {
		args = append(args, *f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		args = append(args, model.StatusStrings(f.Statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.RequireVendorID {
		where = append(where, "vendor_job_id <> ''")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", jobColumns, table)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if f.OldestFirst {
		b.WriteString(" ORDER BY created_at ASC, id ASC")
	} else {
		b.WriteString(" ORDER BY created_at DESC, id DESC")
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}

	rows, err := s.DB.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		job, err := scanJob(t, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// RepairDrift forces any job that already carries an output artifact to
// the succeeded status and clears its error. It returns the repaired rows.
func (s *Store) RepairDrift(ctx context.Context, t model.JobType, userID *uuid.UUID) ([]model.Job, error) {
	table, err := tableFor(t)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`UPDATE %s
SET status = $1, error = NULL, updated_at = now()
WHERE output_url IS NOT NULL AND output_url <> '' AND status <> $1`, table)
	args := []any{string(model.StatusSucceeded)}
	if userID != nil {
		args = append(args, *userID)
		query += " AND user_id = $2"
	}
	query += " RETURNING " + jobColumns

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		job, err := scanJob(t, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// DeleteExpiredJobs removes jobs of one type in the given status that were
// last updated before cutoff.
func (s *Store) DeleteExpiredJobs(ctx context.Context, t model.JobType, status model.Status, cutoff time.Time) (int64, error) {
	table, err := tableFor(t)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE status = $1 AND updated_at < $2", table)
	res, err := s.DB.ExecContext(ctx, query, string(status), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

