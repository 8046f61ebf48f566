package store

import (
	"context"
	"database/sql"
)

type QAReport struct {
	JobID             int64
	HardOK            bool
	WarningsJSON      string
	InfoJSON          string
	DurationExpected  sql.NullFloat64
	DurationActual    sql.NullFloat64
	VCodec            sql.NullString
	ACodec            sql.NullString
	FPS               sql.NullFloat64
	Width             sql.NullInt64
	Height            sql.NullInt64
	SampleRate        sql.NullInt64
	Channels          sql.NullInt64
	MeanVolumeDB      sql.NullFloat64
	MaxVolumeDB       sql.NullFloat64
	CreatedAt         float64
}

func (s *Store) SetQAReport(ctx context.Context, r QAReport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO qa_reports(job_id, hard_ok, warnings_json, info_json, duration_expected, duration_actual,
			vcodec, acodec, fps, width, height, sample_rate, channels, mean_volume_db, max_volume_db, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			hard_ok=excluded.hard_ok, warnings_json=excluded.warnings_json, info_json=excluded.info_json,
			duration_expected=excluded.duration_expected, duration_actual=excluded.duration_actual,
			vcodec=excluded.vcodec, acodec=excluded.acodec, fps=excluded.fps,
			width=excluded.width, height=excluded.height, sample_rate=excluded.sample_rate,
			channels=excluded.channels, mean_volume_db=excluded.mean_volume_db, max_volume_db=excluded.max_volume_db,
			created_at=excluded.created_at
	`, r.JobID, r.HardOK, r.WarningsJSON, r.InfoJSON, r.DurationExpected, r.DurationActual,
		r.VCodec, r.ACodec, r.FPS, r.Width, r.Height, r.SampleRate, r.Channels,
		r.MeanVolumeDB, r.MaxVolumeDB, r.CreatedAt)
	return err
}

func (s *Store) GetQAReport(ctx context.Context, jobID int64) (*QAReport, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, hard_ok, warnings_json, info_json, duration_expected, duration_actual,
			vcodec, acodec, fps, width, height, sample_rate, channels, mean_volume_db, max_volume_db, created_at
		FROM qa_reports WHERE job_id = ?
	`, jobID)
	var r QAReport
	err := row.Scan(&r.JobID, &r.HardOK, &r.WarningsJSON, &r.InfoJSON, &r.DurationExpected, &r.DurationActual,
		&r.VCodec, &r.ACodec, &r.FPS, &r.Width, &r.Height, &r.SampleRate, &r.Channels,
		&r.MeanVolumeDB, &r.MaxVolumeDB, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

type Approval struct {
	ID        int64
	JobID     int64
	Decision  string
	Comment   string
	DecidedAt float64
}

func (s *Store) SetApproval(ctx context.Context, jobID int64, decision, comment string, now float64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals(job_id, decision, comment, decided_at) VALUES(?, ?, ?, ?)
	`, jobID, decision, comment, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) ListApprovals(ctx context.Context, jobID int64) ([]Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, decision, comment, decided_at FROM approvals
		WHERE job_id = ? ORDER BY decided_at ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Approval
	for rows.Next() {
		var a Approval
		if err := rows.Scan(&a.ID, &a.JobID, &a.Decision, &a.Comment, &a.DecidedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
