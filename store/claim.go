package store

import (
	"context"
	"database/sql"
	"time"
)

// Claim attempts to take exclusive ownership of one job in wantState.
// It is the only primitive workers use to take work, and the contract is
// exact:
//
//  1. In one BEGIN IMMEDIATE transaction, release any lease in wantState
//     whose lock-time is older than now-leaseTTL.
//  2. Select at most one row in wantState, unlocked, whose retry-at is
//     null or has passed, ordered by priority desc then created-time asc.
//  3. If none, commit and return 0, false.
//  4. Otherwise, conditionally update that row (guarded on locked_by IS
//     NULL) to set locked_by/locked_at.
//  5. Commit. If the update affected exactly one row, return that job id;
//     otherwise another worker won the race and we return 0, false.
//
// Under any degree of concurrency, no two workers can believe they own
// the same job: the conditional UPDATE's WHERE clause is re-checked by
// SQLite's own row lock inside the same transaction that did the SELECT,
// so a second claimer's UPDATE after this one commits always affects 0 rows.
func (s *Store) Claim(ctx context.Context, wantState, workerID string, leaseTTL time.Duration, now time.Time) (int64, bool, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, false, err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return 0, false, err
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(ctx, "ROLLBACK")
		}
	}()

	ts := float64(now.Unix())
	expiry := ts - leaseTTL.Seconds()

	if _, err := conn.ExecContext(ctx, `
		UPDATE jobs
		SET locked_by = NULL, locked_at = NULL, updated_at = ?
		WHERE state = ?
		  AND locked_by IS NOT NULL
		  AND locked_at IS NOT NULL
		  AND locked_at < ?
	`, ts, wantState, expiry); err != nil {
		return 0, false, err
	}

	var jobID int64
	err = conn.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE state = ?
		  AND locked_by IS NULL
		  AND (retry_at IS NULL OR retry_at <= ?)
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
	`, wantState, ts).Scan(&jobID)
	if err == sql.ErrNoRows {
		_, commitErr := conn.ExecContext(ctx, "COMMIT")
		committed = commitErr == nil
		return 0, false, commitErr
	}
	if err != nil {
		return 0, false, err
	}

	res, err := conn.ExecContext(ctx, `
		UPDATE jobs
		SET locked_by = ?, locked_at = ?, updated_at = ?
		WHERE id = ? AND locked_by IS NULL
	`, workerID, ts, ts, jobID)
	if err != nil {
		return 0, false, err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return 0, false, err
	}
	committed = true

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if affected != 1 {
		return 0, false, nil
	}
	return jobID, true, nil
}

// StaleJob is a row found in FETCHING_INPUTS/RENDERING whose lease has
// expired and needs reclaim-policy applied by the caller.
type StaleJob struct {
	ID      int64
	State   string
	Attempt int
}

// ReclaimStale finds jobs in FETCHING_INPUTS or RENDERING whose lease has
// expired. It does not itself apply retry/terminal policy -- that decision
// belongs to the lifecycle package, which calls ScheduleRetry or
// FailTerminal per stale job returned here.
func (s *Store) ReclaimStale(ctx context.Context, leaseTTL time.Duration, now time.Time) ([]StaleJob, error) {
	expiry := float64(now.Unix()) - leaseTTL.Seconds()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, state, attempt FROM jobs
		WHERE state IN ('FETCHING_INPUTS', 'RENDERING')
		  AND locked_by IS NOT NULL
		  AND locked_at IS NOT NULL
		  AND locked_at < ?
	`, expiry)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StaleJob
	for rows.Next() {
		var j StaleJob
		if err := rows.Scan(&j.ID, &j.State, &j.Attempt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// TouchWorker upserts a worker heartbeat row.
func (s *Store) TouchWorker(ctx context.Context, workerID, role string, pid int, hostname, detailsJSON string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_heartbeats(worker_id, role, pid, hostname, details_json, last_seen)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(worker_id) DO UPDATE SET
			role=excluded.role,
			pid=excluded.pid,
			hostname=excluded.hostname,
			details_json=excluded.details_json,
			last_seen=excluded.last_seen
	`, workerID, role, pid, hostname, detailsJSON, float64(now.Unix()))
	return err
}

type WorkerHeartbeat struct {
	WorkerID    string
	Role        string
	PID         int
	Hostname    string
	DetailsJSON string
	LastSeen    float64
}

func (s *Store) ListWorkers(ctx context.Context, limit int) ([]WorkerHeartbeat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT worker_id, role, pid, hostname, details_json, last_seen
		FROM worker_heartbeats
		ORDER BY last_seen DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkerHeartbeat
	for rows.Next() {
		var h WorkerHeartbeat
		if err := rows.Scan(&h.WorkerID, &h.Role, &h.PID, &h.Hostname, &h.DetailsJSON, &h.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
