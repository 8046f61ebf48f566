package store

import (
	"context"
	"database/sql"
)

// UIJobDraft is the operator-facing staging record a release goes through
// before preflight promotes it into a renderable job. One row per job,
// created the first time an operator starts editing, updated on every
// subsequent autosave.
type UIJobDraft struct {
	JobID          int64
	ChannelID      int64
	Title          string
	Description    string
	TagsCSV        string
	CoverName      sql.NullString
	CoverExt       sql.NullString
	BackgroundName string
	BackgroundExt  string
	AudioIDsText   string
	CreatedAt      float64
	UpdatedAt      float64
}

func (s *Store) UpsertUIJobDraft(ctx context.Context, d UIJobDraft) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ui_job_drafts(job_id, channel_id, title, description, tags_csv, cover_name, cover_ext,
			background_name, background_ext, audio_ids_text, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			channel_id=excluded.channel_id, title=excluded.title, description=excluded.description,
			tags_csv=excluded.tags_csv, cover_name=excluded.cover_name, cover_ext=excluded.cover_ext,
			background_name=excluded.background_name, background_ext=excluded.background_ext,
			audio_ids_text=excluded.audio_ids_text, updated_at=excluded.updated_at
	`, d.JobID, d.ChannelID, d.Title, d.Description, d.TagsCSV, d.CoverName, d.CoverExt,
		d.BackgroundName, d.BackgroundExt, d.AudioIDsText, d.CreatedAt, d.UpdatedAt)
	return err
}

func (s *Store) GetUIJobDraft(ctx context.Context, jobID int64) (*UIJobDraft, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT job_id, channel_id, title, description, tags_csv, cover_name, cover_ext,
			background_name, background_ext, audio_ids_text, created_at, updated_at
		FROM ui_job_drafts WHERE job_id = ?
	`, jobID)
	var d UIJobDraft
	err := row.Scan(&d.JobID, &d.ChannelID, &d.Title, &d.Description, &d.TagsCSV, &d.CoverName, &d.CoverExt,
		&d.BackgroundName, &d.BackgroundExt, &d.AudioIDsText, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) DeleteUIJobDraft(ctx context.Context, jobID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM ui_job_drafts WHERE job_id = ?", jobID)
	return err
}
