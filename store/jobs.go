package store

import (
	"context"
	"database/sql"
	"time"
)

type Job struct {
	ID                  int64
	ReleaseID           int64
	JobType             string
	State               string
	Stage               string
	Priority            int
	Attempt             int
	LockedBy            sql.NullString
	LockedAt            sql.NullFloat64
	RetryAt             sql.NullFloat64
	ProgressPct         float64
	ProgressText        sql.NullString
	ErrorReason         sql.NullString
	ApprovalNotifiedAt  sql.NullFloat64
	PublishedAt         sql.NullFloat64
	DeleteMP4At         sql.NullFloat64
	CreatedAt           float64
	UpdatedAt           float64
}

const jobColumns = `id, release_id, job_type, state, stage, priority, attempt, locked_by, locked_at,
	retry_at, progress_pct, progress_text, error_reason, approval_notified_at, published_at,
	delete_mp4_at, created_at, updated_at`

func scanJob(row interface{ Scan(...interface{}) error }) (Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.ReleaseID, &j.JobType, &j.State, &j.Stage, &j.Priority, &j.Attempt,
		&j.LockedBy, &j.LockedAt, &j.RetryAt, &j.ProgressPct, &j.ProgressText, &j.ErrorReason,
		&j.ApprovalNotifiedAt, &j.PublishedAt, &j.DeleteMP4At, &j.CreatedAt, &j.UpdatedAt)
	return j, err
}

func (s *Store) CreateJob(ctx context.Context, releaseID int64, state, stage string, priority int, now time.Time) (int64, error) {
	ts := float64(now.Unix())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs(release_id, job_type, state, stage, priority, created_at, updated_at)
		VALUES(?, 'render', ?, ?, ?, ?, ?)
	`, releaseID, state, stage, priority, ts, ts)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetJob(ctx context.Context, id int64) (Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	return scanJob(row)
}

// GetJobByReleaseID returns the render job bound to a release. Each
// release has exactly one render job (created once by the importer or
// draft preflight), so this is the lookup a re-scan uses to find a
// WAITING_INPUTS job and promote it once its inputs show up.
func (s *Store) GetJobByReleaseID(ctx context.Context, releaseID int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE release_id = ? ORDER BY id ASC LIMIT 1", releaseID)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Store) ListJobs(ctx context.Context, state string, limit int) ([]Job, error) {
	var rows *sql.Rows
	var err error
	if state == "" {
		rows, err = s.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs ORDER BY created_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE state = ? ORDER BY created_at DESC LIMIT ?", state, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// UpdateState performs a guarded, non-retry state transition. Every
// non-terminal mutation is gated by state != 'CANCELLED' so a late update
// from a worker that lost its lease can never resurrect a cancelled job.
func (s *Store) UpdateState(ctx context.Context, jobID int64, newState, newStage string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, stage = ?, updated_at = ?
		WHERE id = ? AND state != 'CANCELLED'
	`, newState, newStage, float64(now.Unix()), jobID)
	return err
}

// UpdateStateAndUnlock transitions state and releases the lock, e.g. when
// an orchestrator hands a job off to QA.
func (s *Store) UpdateStateAndUnlock(ctx context.Context, jobID int64, newState, newStage string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, stage = ?, locked_by = NULL, locked_at = NULL, retry_at = NULL, updated_at = ?
		WHERE id = ? AND state != 'CANCELLED'
	`, newState, newStage, float64(now.Unix()), jobID)
	return err
}

func (s *Store) IncrementAttempt(ctx context.Context, jobID int64, now time.Time) (int, error) {
	if _, err := s.db.ExecContext(ctx, "UPDATE jobs SET attempt = attempt + 1, updated_at = ? WHERE id = ?", float64(now.Unix()), jobID); err != nil {
		return 0, err
	}
	var attempt int
	err := s.db.QueryRowContext(ctx, "SELECT attempt FROM jobs WHERE id = ?", jobID).Scan(&attempt)
	return attempt, err
}

// ScheduleRetry resets state for another claim attempt after backoff.
func (s *Store) ScheduleRetry(ctx context.Context, jobID int64, nextState, stage, errorReason string, backoff time.Duration, now time.Time) error {
	ts := float64(now.Unix())
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = ?, stage = ?, error_reason = ?, retry_at = ?, updated_at = ?, locked_by = NULL, locked_at = NULL
		WHERE id = ? AND state != 'CANCELLED'
	`, nextState, stage, errorReason, ts+backoff.Seconds(), ts, jobID)
	return err
}

// FailTerminal marks a job permanently failed: lock and retry-at cleared,
// error reason recorded.
func (s *Store) FailTerminal(ctx context.Context, jobID int64, terminalState, errorReason string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = ?, error_reason = ?, retry_at = NULL, locked_by = NULL, locked_at = NULL, updated_at = ?
		WHERE id = ? AND state != 'CANCELLED'
	`, terminalState, errorReason, float64(now.Unix()), jobID)
	return err
}

func (s *Store) ClearRetry(ctx context.Context, jobID int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE jobs SET retry_at = NULL, updated_at = ? WHERE id = ?", float64(now.Unix()), jobID)
	return err
}

func (s *Store) ReleaseLock(ctx context.Context, jobID int64, workerID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET locked_by = NULL, locked_at = NULL, updated_at = ?
		WHERE id = ? AND locked_by = ?
	`, float64(now.Unix()), jobID, workerID)
	return err
}

func (s *Store) ForceUnlock(ctx context.Context, jobID int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE jobs SET locked_by = NULL, locked_at = NULL, updated_at = ? WHERE id = ?", float64(now.Unix()), jobID)
	return err
}

// Cancel forces a job to CANCELLED regardless of current state, terminal
// states included; it does not check the state itself, so callers that
// must refuse terminal jobs check first and report a conflict.
func (s *Store) Cancel(ctx context.Context, jobID int64, reason string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = 'CANCELLED', error_reason = ?, retry_at = NULL, locked_by = NULL, locked_at = NULL, updated_at = ?
		WHERE id = ?
	`, reason, float64(now.Unix()), jobID)
	return err
}

func (s *Store) UpdateProgress(ctx context.Context, jobID int64, pct float64, text string, now time.Time) error {
	ts := float64(now.Unix())
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET progress_pct = ?, progress_text = ?, progress_updated_at = ?, updated_at = ?
		WHERE id = ? AND state != 'CANCELLED'
	`, pct, text, ts, ts, jobID)
	return err
}

func (s *Store) MarkPublished(ctx context.Context, jobID int64, now time.Time, retention time.Duration) error {
	ts := float64(now.Unix())
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = 'PUBLISHED', published_at = ?, delete_mp4_at = ?, updated_at = ?
		WHERE id = ? AND state IN ('APPROVED', 'WAIT_APPROVAL')
	`, ts, ts+retention.Seconds(), ts, jobID)
	return err
}

func (s *Store) MarkCleaned(ctx context.Context, jobID int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, "UPDATE jobs SET state = 'CLEANED', updated_at = ? WHERE id = ?", float64(now.Unix()), jobID)
	return err
}

// ListPublishedDue returns jobs in PUBLISHED whose delete_mp4_at has passed.
func (s *Store) ListPublishedDue(ctx context.Context, now time.Time) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+` FROM jobs
		WHERE state = 'PUBLISHED' AND delete_mp4_at IS NOT NULL AND delete_mp4_at <= ?`, float64(now.Unix()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ListInactiveWorkspaceJobs returns every job not currently in
// FETCHING_INPUTS or RENDERING, i.e. every job whose workspace directory
// cleanup may safely remove.
func (s *Store) ListInactiveWorkspaceJobs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM jobs WHERE state NOT IN ('FETCHING_INPUTS', 'RENDERING')
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
