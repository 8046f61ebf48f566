package store

import (
	"context"
	"database/sql"
)

type Asset struct {
	ID          int64
	ChannelID   int64
	Kind        string
	Origin      string
	OriginID    sql.NullString
	Path        sql.NullString
	Name        sql.NullString
	DurationSec sql.NullFloat64
	CreatedAt   float64
}

func (s *Store) CreateAsset(ctx context.Context, a Asset, now float64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO assets(channel_id, kind, origin, origin_id, path, name, duration_sec, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ChannelID, a.Kind, a.Origin, a.OriginID, a.Path, a.Name, a.DurationSec, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) GetAsset(ctx context.Context, id int64) (Asset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, channel_id, kind, origin, origin_id, path, name, duration_sec, created_at
		FROM assets WHERE id = ?
	`, id)
	var a Asset
	err := row.Scan(&a.ID, &a.ChannelID, &a.Kind, &a.Origin, &a.OriginID, &a.Path, &a.Name, &a.DurationSec, &a.CreatedAt)
	return a, err
}

// LinkJobInput records one input role (background, audio, cover, ...) an
// orchestrator must stage before rendering a job.
func (s *Store) LinkJobInput(ctx context.Context, jobID, assetID int64, role string, orderIndex int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_inputs(job_id, asset_id, role, order_index) VALUES(?, ?, ?, ?)
	`, jobID, assetID, role, orderIndex)
	return err
}

type JobInput struct {
	AssetID    int64
	Role       string
	OrderIndex int
	Asset      Asset
}

func (s *Store) ListJobInputs(ctx context.Context, jobID int64) ([]JobInput, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ji.asset_id, ji.role, ji.order_index,
		       a.id, a.channel_id, a.kind, a.origin, a.origin_id, a.path, a.name, a.duration_sec, a.created_at
		FROM job_inputs ji JOIN assets a ON a.id = ji.asset_id
		WHERE ji.job_id = ?
		ORDER BY ji.order_index ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobInput
	for rows.Next() {
		var in JobInput
		if err := rows.Scan(&in.AssetID, &in.Role, &in.OrderIndex,
			&in.Asset.ID, &in.Asset.ChannelID, &in.Asset.Kind, &in.Asset.Origin, &in.Asset.OriginID,
			&in.Asset.Path, &in.Asset.Name, &in.Asset.DurationSec, &in.Asset.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// LinkJobOutput records a produced asset (final render, preview) against
// the job that produced it.
func (s *Store) LinkJobOutput(ctx context.Context, jobID, assetID int64, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_outputs(job_id, asset_id, role) VALUES(?, ?, ?)
	`, jobID, assetID, role)
	return err
}

func (s *Store) GetJobOutput(ctx context.Context, jobID int64, role string) (*Asset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.channel_id, a.kind, a.origin, a.origin_id, a.path, a.name, a.duration_sec, a.created_at
		FROM job_outputs jo JOIN assets a ON a.id = jo.asset_id
		WHERE jo.job_id = ? AND jo.role = ?
	`, jobID, role)
	var a Asset
	err := row.Scan(&a.ID, &a.ChannelID, &a.Kind, &a.Origin, &a.OriginID, &a.Path, &a.Name, &a.DurationSec, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
